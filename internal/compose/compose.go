// Package compose turns raw phone captures into framed reference stills.
package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/draw"

	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
)

// DefaultMatteAlpha is the opacity of the bars drawn outside the guide.
const DefaultMatteAlpha = 0xb0

// Options controls how a capture is framed.
type Options struct {
	// Width of the output in pixels; 0 keeps the capture width.
	Width int
	// GuideAspect is the delivery aspect ratio; 0 draws no bars.
	GuideAspect float64
	// Squeeze > 1 compresses the still horizontally, as an anamorphic
	// plate is recorded before desqueeze.
	Squeeze float64
	// MatteAlpha overrides DefaultMatteAlpha when non-zero.
	MatteAlpha uint8
}

// Render scales frame and mattes the area outside the framing guide.
func Render(frame image.Image, opts Options) *image.RGBA {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if opts.Width > 0 && opts.Width != w {
		h = max(1, int(float64(h)*float64(opts.Width)/float64(w)+0.5))
		w = opts.Width
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(out, out.Bounds(), frame, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(out, out.Bounds(), frame, b, draw.Src, nil)
	}

	if opts.GuideAspect > 0 {
		matte(out, geometry.FrameGuide(float64(w)/float64(h), opts.GuideAspect), opts.MatteAlpha)
	}

	if opts.Squeeze > 1 {
		sw := max(1, int(float64(w)/opts.Squeeze+0.5))
		squeezed := image.NewRGBA(image.Rect(0, 0, sw, h))
		draw.CatmullRom.Scale(squeezed, squeezed.Bounds(), out, out.Bounds(), draw.Src, nil)
		out = squeezed
	}
	return out
}

// matte darkens everything outside the guide rectangle.
func matte(img *image.RGBA, guide geometry.Rect, alpha uint8) {
	if alpha == 0 {
		alpha = DefaultMatteAlpha
	}
	bounds := img.Bounds()
	inner := guide.Pixels(bounds.Dx(), bounds.Dy())
	shade := image.NewUniform(color.NRGBA{A: alpha})

	bars := []image.Rectangle{
		image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, inner.Min.Y), // top
		image.Rect(bounds.Min.X, inner.Max.Y, bounds.Max.X, bounds.Max.Y), // bottom
		image.Rect(bounds.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y),   // left
		image.Rect(inner.Max.X, inner.Min.Y, bounds.Max.X, inner.Max.Y),   // right
	}
	for _, r := range bars {
		if !r.Empty() {
			draw.Draw(img, r, shade, image.Point{}, draw.Over)
		}
	}
}

// EncodeWebP writes img as lossless WebP.
func EncodeWebP(w io.Writer, img image.Image) error {
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return fmt.Errorf("webp encode: %w", err)
	}
	return nil
}

// Save writes img to path, choosing the encoder from the extension
// (.webp, .png, .jpg/.jpeg). Parent directories are created.
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		err = EncodeWebP(f, img)
	case ".png":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	default:
		err = fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadFrame reads a still from disk (PNG, JPEG or TGA). Used to feed the
// simulated camera with a real plate.
func LoadFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tga":
		img, err = tga.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	default:
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
