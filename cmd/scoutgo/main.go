package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cjeanneret/ScoutGo/internal/calibration"
	"github.com/cjeanneret/ScoutGo/internal/catalog"
	"github.com/cjeanneret/ScoutGo/internal/compose"
	"github.com/cjeanneret/ScoutGo/internal/config"
	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/hw/camera"
	"github.com/cjeanneret/ScoutGo/internal/hw/gpio"
	"github.com/cjeanneret/ScoutGo/internal/hw/tally"
	"github.com/cjeanneret/ScoutGo/internal/logic/capture"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
	"github.com/cjeanneret/ScoutGo/internal/logic/scout"
	"github.com/cjeanneret/ScoutGo/internal/session"
	"github.com/cjeanneret/ScoutGo/internal/shots"
	"github.com/cjeanneret/ScoutGo/internal/web"
)

const (
	envConfig = "SCOUTGO_CONFIG"
	envDebug  = "SCOUTGO_DEBUG"
)

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	// CLI flags
	webPort := &webPortFlag{}
	flag.Var(webPort, "web", "start web server; -web= uses web.listen from config, -web 8980 for custom port")
	cfgPath := flag.String("config", envOr(envConfig, filepath.Join("configs", "default.yaml")), "path to config file")
	cameraName := flag.String("camera", "", "override target cinema camera")
	modeName := flag.String("mode", "", "override recording mode")
	lensName := flag.String("lens", "", "override lens")
	focalLengthMm := flag.Float64("focal_length_mm", 0, "override focal length in mm")
	doCapture := flag.Bool("capture", false, "take one reference still and exit")
	doSweep := flag.Bool("sweep", false, "run a lens sweep and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*focalLengthMm); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, config.TargetConfig{
		Camera:        *cameraName,
		Mode:          *modeName,
		Lens:          *lensName,
		FocalLengthMm: *focalLengthMm,
	})

	level, err := debugLevel(cfg.Defaults.DebugLevel, os.Getenv(envDebug))
	if err != nil {
		log.Fatalf("invalid %s: %v", envDebug, err)
	}

	// Initialize debug system
	debug.Init(level)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.Close()

	if addr := webPort.addr(cfg.Web.Listen); addr != "" {
		if err := a.serve(ctx, addr); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if err := a.runOnce(ctx, *doCapture, *doSweep); err != nil {
		log.Fatalf("%v", err)
	}
}

// app is the wired object graph.
type app struct {
	cfg     *config.Config
	db      *catalog.DB
	cal     *calibration.Store
	gpio    gpio.Driver
	session *session.Manager
	vm      *scout.ViewModel
	log     *shots.Log
	seq     *capture.Sequence
}

// newApp opens the catalog and wires hardware, session, view model and
// capture logic.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	debug.Step(1, "Opening equipment catalog")
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := db.SeedIfEmpty(ctx, cfg.Catalog.SeedFile); err != nil {
		return nil, err
	}
	modules, err := db.Modules(ctx, cfg.Device.Model)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", cfg.Device.Model, err)
	}
	debug.Value("Device", cfg.Device.Model)
	debug.PrintStruct("Modules", modules)

	a.cal = calibration.NewStore(db)
	if err := a.cal.Load(ctx); err != nil {
		return nil, err
	}
	debug.PrintStruct("Calibration", a.cal.Snapshot())

	debug.Step(2, "Initializing camera")
	dev, auth, err := newDeviceFromConfig(cfg, modules)
	if err != nil {
		return nil, err
	}

	debug.Step(3, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Device.MockGPIO)
	a.gpio, err = gpio.NewDriver(cfg.Device.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	light := tally.New(a.gpio, cfg.Device.TallyPin)
	debug.Value("Tally pin", cfg.Device.TallyPin)

	debug.Step(4, "Creating session and view model")
	a.session = session.New(dev, auth, modules, light)
	a.vm = scout.New(scout.Deps{
		Catalog:     db,
		Calibration: a.cal,
		Session:     a.session,
		Modules:     modules,
		GuideAspect: cfg.Capture.GuideAspect,
	})
	a.log = shots.NewLog(db)
	a.seq = capture.NewSequence(a.vm, a.session, a.log, capture.Options{
		OutputDir:      cfg.Capture.OutputDir,
		Format:         cfg.Capture.Format,
		Width:          cfg.Capture.WidthPx,
		GuideAspect:    cfg.Capture.GuideAspect,
		SqueezedPlates: cfg.Capture.SqueezedPlates,
		Location:       cfg.LocationPoint(),
	})

	ok = true
	return a, nil
}

// Close releases GPIO and the catalog.
func (a *app) Close() {
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("closing catalog failed: %v", err)
		}
	}
}

// target returns the startup selection from config.
func (a *app) target() scout.Selection {
	return scout.Selection{
		Camera:  a.cfg.Target.Camera,
		Mode:    a.cfg.Target.Mode,
		Lens:    a.cfg.Target.Lens,
		FocalMm: a.cfg.Target.FocalLengthMm,
	}
}

// startVM runs the view model in the background. The returned function
// stops it and waits for the session to be released.
func (a *app) startVM(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.vm.Run(runCtx); err != nil {
			debug.Error(fmt.Errorf("session: %w", err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// runOnce applies the configured target, prints the match, then optionally
// captures a still or runs a sweep.
func (a *app) runOnce(ctx context.Context, doCapture, doSweep bool) error {
	sel := a.target()
	if !sel.Complete() {
		return fmt.Errorf("target camera, mode and lens are required")
	}
	gen := a.vm.Select(ctx, sel)
	stop := a.startVM(ctx)
	defer stop()

	st, err := a.vm.Wait(ctx, gen)
	if err != nil {
		return err
	}
	debug.Summary(fmt.Sprintf("%s / %s @ %.1fmm", st.Selection.Camera, st.Selection.Lens, st.Selection.FocalMm))
	printState(os.Stdout, st)
	if st.Phase != scout.PhaseConfigured {
		return fmt.Errorf("session not configured: %s", st.Err)
	}

	switch {
	case doSweep:
		taken, err := a.sweep(ctx, web.SweepRequest{})
		for _, s := range taken {
			fmt.Printf("%s  %6.1fmm  %-5s %.2fx\n", s.Path, s.FocalMm, s.Role, s.Zoom)
		}
		return err
	case doCapture:
		shot, err := a.seq.CaptureReference(ctx)
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		fmt.Println(shot.Path)
	}
	return nil
}

// sweep runs a lens sweep over the selected lens.
func (a *app) sweep(ctx context.Context, req web.SweepRequest) ([]shots.Shot, error) {
	focals := req.FocalLengths
	if len(focals) == 0 {
		st := a.vm.State()
		if !st.Complete {
			return nil, capture.ErrNotConfigured
		}
		lens, err := a.db.Lens(ctx, st.Selection.Lens)
		if err != nil {
			return nil, err
		}
		steps := req.Steps
		if steps == 0 {
			steps = a.cfg.Capture.SweepSteps
		}
		focals = capture.SweepFocals(lens, steps)
	}
	return a.seq.RunSweep(ctx, capture.SweepParams{
		FocalLengths:  focals,
		SettleDelay:   a.cfg.SettleDelay(),
		PostShotDelay: a.cfg.PostShotDelay(),
	})
}

// serve runs the web interface until ctx is done.
func (a *app) serve(ctx context.Context, addr string) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	a.vm.OnChange(func(st scout.State) { broadcaster.BroadcastState(st) })

	if sel := a.target(); sel.Complete() {
		a.vm.Select(ctx, sel)
	}
	stop := a.startVM(ctx)
	defer stop()

	srv := web.NewServer(addr, web.Deps{
		Broadcaster: broadcaster,
		Scout:       a.vm,
		Equipment:   a.db,
		Calibration: a.cal,
		Capture:     a.seq,
		Sweep: func(ctx context.Context, req web.SweepRequest) error {
			_, err := a.sweep(ctx, req)
			return err
		},
		Shots:         a.log,
		Defaults:      a.target(),
		Modules:       a.vm.Modules(),
		SweepCooldown: a.cfg.SweepCooldown(),
	})
	return srv.Run(ctx)
}

// newDeviceFromConfig selects a camera implementation based on configuration.
func newDeviceFromConfig(cfg *config.Config, modules []match.Module) (camera.Device, camera.Authorizer, error) {
	if !cfg.Device.Mock {
		return nil, nil, fmt.Errorf("no camera backend for %q on this host; set device.mock", cfg.Device.Model)
	}

	roles := make([]string, 0, len(modules))
	for _, m := range modules {
		roles = append(roles, m.Role)
	}
	var frame image.Image
	if cfg.Device.MockFrame != "" {
		img, err := compose.LoadFrame(cfg.Device.MockFrame)
		if err != nil {
			return nil, nil, err
		}
		frame = img
		debug.Value("Mock frame", cfg.Device.MockFrame)
	}
	dev := camera.NewMockDevice(roles, frame)
	dev.SetDelay(cfg.MockDelay())
	return dev, &camera.MockAuthorizer{Device: dev, Grant: true}, nil
}

func printState(w io.Writer, st scout.State) {
	fmt.Fprintf(w, "%s / %s / %s @ %.1fmm\n", st.Selection.Camera, st.Selection.Mode, st.Selection.Lens, st.Selection.FocalMm)
	fmt.Fprintf(w, "target HFOV %.2f°  VFOV %.2f°\n", st.TargetHFOVDeg, st.TargetVFOVDeg)
	for _, c := range st.Candidates {
		mark := " "
		if c.Role == st.Match.Role {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-6s %5.2fx  error %.2f°\n", mark, c.Role, c.ClampedZoom, c.ErrorDeg)
	}
	if !st.Matched {
		fmt.Fprintf(w, "no module matches, falling back to %s %.1fx\n", st.Match.Role, st.Match.Zoom)
	}
}

// validateCLIOverrides checks that a non-zero focal override is within range.
// Zero means "use config default".
func validateCLIOverrides(focal float64) error {
	if focal != 0 {
		if math.IsNaN(focal) || math.IsInf(focal, 0) || focal <= 0 || focal > web.MaxFocalMm {
			return fmt.Errorf("focal_length_mm must be greater than 0 and at most %d, got %g", web.MaxFocalMm, focal)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
// Changing the camera without a mode drops the configured mode.
func applyOverrides(cfg *config.Config, o config.TargetConfig) {
	if o.Camera != "" && o.Camera != cfg.Target.Camera {
		cfg.Target.Camera = o.Camera
		cfg.Target.Mode = ""
	}
	if o.Mode != "" {
		cfg.Target.Mode = o.Mode
	}
	if o.Lens != "" {
		cfg.Target.Lens = o.Lens
	}
	if o.FocalLengthMm > 0 {
		cfg.Target.FocalLengthMm = o.FocalLengthMm
	}
}

// debugLevel applies the SCOUTGO_DEBUG override to the configured level.
func debugLevel(configured int, env string) (int, error) {
	if env == "" {
		return configured, nil
	}
	v, err := strconv.Atoi(env)
	if err != nil {
		return 0, err
	}
	if v < debug.LevelOff || v > debug.LevelTrace {
		return 0, fmt.Errorf("debug level must be between 0 and 4, got %d", v)
	}
	return v, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// webPortFlag implements flag.Value for -web: unset = disabled, -web= uses the
// configured listen address, -web 8980 listens on :8980.
type webPortFlag struct {
	set bool
	val int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.set = true
		w.val = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.set = true
	w.val = v
	return nil
}

// addr returns the listen address, or "" when the web server is disabled.
func (w *webPortFlag) addr(configured string) string {
	switch {
	case !w.set:
		return ""
	case w.val > 0:
		return fmt.Sprintf(":%d", w.val)
	}
	return configured
}
