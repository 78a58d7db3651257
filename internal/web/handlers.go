package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"github.com/cjeanneret/ScoutGo/internal/calibration"
	"github.com/cjeanneret/ScoutGo/internal/catalog"
	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/logic/capture"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
	"github.com/cjeanneret/ScoutGo/internal/logic/scout"
	"github.com/cjeanneret/ScoutGo/internal/shots"
)

const (
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes = 1 << 20
	// MaxFocalMm is the longest focal length accepted from clients.
	MaxFocalMm = 2000
	// MaxSweepShots caps the number of stills of one sweep.
	MaxSweepShots = 50
	// DefaultSweepCooldown is the minimum time between two sweep starts.
	DefaultSweepCooldown = 5 * time.Second
)

// Scout is the view model as seen by the handlers.
type Scout interface {
	State() scout.State
	Select(ctx context.Context, sel scout.Selection) uint64
	Calibrate(ctx context.Context, role string, factor float64) (uint64, error)
	ResetCalibration(ctx context.Context, role string) (uint64, error)
}

// Equipment lists the catalog for the selection form.
type Equipment interface {
	Cameras(ctx context.Context) ([]string, error)
	Modes(ctx context.Context, camera string) ([]catalog.Mode, error)
	Lenses(ctx context.Context) ([]catalog.Lens, error)
}

// Calibrations exposes the current calibration multipliers.
type Calibrations interface {
	Snapshot() map[string]float64
}

// Capturer takes a single reference still.
type Capturer interface {
	CaptureReference(ctx context.Context) (shots.Shot, error)
}

// ShotExporter exports the shot log.
type ShotExporter interface {
	GeoJSON(ctx context.Context) (*geojson.FeatureCollection, error)
}

// SweepFunc runs a lens sweep. It is called from POST /sweep in a goroutine.
type SweepFunc func(ctx context.Context, req SweepRequest) error

// SelectionRequest is the body of POST /selection.
type SelectionRequest struct {
	Camera  string  `json:"camera"`
	Mode    string  `json:"mode"`
	Lens    string  `json:"lens"`
	FocalMm float64 `json:"focal_mm"`
}

// CalibrationRequest is the body of POST /calibration.
type CalibrationRequest struct {
	Role   string  `json:"role"`
	Factor float64 `json:"factor"`
}

// SweepRequest is the body of POST /sweep. Empty FocalLengths spreads
// Steps focal lengths over the selected lens.
type SweepRequest struct {
	FocalLengths []float64 `json:"focal_lengths"`
	Steps        int       `json:"steps"`
}

// CameraInfo is a cinema camera and its modes.
type CameraInfo struct {
	Name  string         `json:"name"`
	Modes []catalog.Mode `json:"modes"`
}

// FormConfig is returned by GET /config.
type FormConfig struct {
	Defaults    scout.Selection    `json:"defaults"`
	Cameras     []CameraInfo       `json:"cameras"`
	Lenses      []catalog.Lens     `json:"lenses"`
	Modules     []match.Module     `json:"modules"`
	Calibration map[string]float64 `json:"calibration"`
}

// Deps holds the handlers' collaborators. Nil collaborators make their
// routes answer 503 Service Unavailable.
type Deps struct {
	Broadcaster   *StatusBroadcaster
	Scout         Scout
	Equipment     Equipment
	Calibration   Calibrations
	Capture       Capturer
	Sweep         SweepFunc
	Shots         ShotExporter
	Defaults      scout.Selection
	Modules       []match.Module
	SweepCooldown time.Duration
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
	upgrader websocket.Upgrader

	baseMu  sync.Mutex
	baseCtx context.Context

	runningMu sync.Mutex
	running   bool
	lastSweep time.Time
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(d Deps, staticFS fs.FS) *Handlers {
	if d.Broadcaster == nil {
		d.Broadcaster = NewStatusBroadcaster()
	}
	if d.SweepCooldown <= 0 {
		d.SweepCooldown = DefaultSweepCooldown
	}
	return &Handlers{
		Deps:     d,
		staticFS: staticFS,
		baseCtx:  context.Background(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
}

// SetBaseContext sets the context background work (sweeps) runs under.
func (h *Handlers) SetBaseContext(ctx context.Context) {
	h.baseMu.Lock()
	h.baseCtx = ctx
	h.baseMu.Unlock()
}

func (h *Handlers) base() context.Context {
	h.baseMu.Lock()
	defer h.baseMu.Unlock()
	return h.baseCtx
}

// ValidateSelection checks a selection request. A zero focal length means
// the lens minimum.
func ValidateSelection(req SelectionRequest) error {
	if req.Camera == "" || req.Mode == "" || req.Lens == "" {
		return fmt.Errorf("camera, mode and lens are required")
	}
	for _, s := range []string{req.Camera, req.Mode, req.Lens} {
		if len(s) > 128 {
			return fmt.Errorf("names must be at most 128 bytes")
		}
	}
	if math.IsNaN(req.FocalMm) || math.IsInf(req.FocalMm, 0) || req.FocalMm < 0 || req.FocalMm > MaxFocalMm {
		return fmt.Errorf("focal_mm must be between 0 and %d", MaxFocalMm)
	}
	return nil
}

// ValidateCalibration checks a calibration request.
func ValidateCalibration(req CalibrationRequest) error {
	if req.Role == "" || len(req.Role) > 32 {
		return fmt.Errorf("role is required (at most 32 bytes)")
	}
	if math.IsNaN(req.Factor) || math.IsInf(req.Factor, 0) || req.Factor <= 0 || req.Factor > 10 {
		return fmt.Errorf("factor must be > 0 and <= 10")
	}
	return nil
}

// ValidateSweep checks a sweep request.
func ValidateSweep(req SweepRequest) error {
	if len(req.FocalLengths) > MaxSweepShots {
		return fmt.Errorf("at most %d focal lengths", MaxSweepShots)
	}
	if req.Steps < 0 || req.Steps > MaxSweepShots {
		return fmt.Errorf("steps must be between 0 and %d", MaxSweepShots)
	}
	for _, f := range req.FocalLengths {
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > MaxFocalMm {
			return fmt.Errorf("focal lengths must be between 1 and %d", MaxFocalMm)
		}
	}
	return nil
}

// decodeJSON decodes a size-limited JSON body. It writes the error response
// and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "request body too large", http.StatusBadRequest)
		} else {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the equipment lists and form defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	fc := FormConfig{Defaults: h.Defaults, Modules: h.Modules}
	if h.Calibration != nil {
		fc.Calibration = h.Calibration.Snapshot()
	}
	if h.Equipment != nil {
		ctx := r.Context()
		names, err := h.Equipment.Cameras(ctx)
		if err != nil {
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)
			return
		}
		for _, name := range names {
			modes, err := h.Equipment.Modes(ctx, name)
			if err != nil {
				http.Error(w, "catalog unavailable", http.StatusInternalServerError)
				return
			}
			fc.Cameras = append(fc.Cameras, CameraInfo{Name: name, Modes: modes})
		}
		if fc.Lenses, err = h.Equipment.Lenses(ctx); err != nil {
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, fc)
}

// HandleState returns the view model state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Scout == nil {
		http.Error(w, "scout not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Scout.State())
}

// HandleSelection handles POST /selection.
func (h *Handlers) HandleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateSelection(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Scout == nil {
		http.Error(w, "scout not configured", http.StatusServiceUnavailable)
		return
	}

	h.Scout.Select(r.Context(), scout.Selection(req))
	writeJSON(w, http.StatusAccepted, h.Scout.State())
}

// HandleCalibration handles POST /calibration.
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	var req CalibrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateCalibration(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Scout == nil {
		http.Error(w, "scout not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.Scout.Calibrate(r.Context(), req.Role, req.Factor); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, calibration.ErrInvalidMultiplier) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if calibration.Warn(req.Factor) {
		h.Broadcaster.Broadcast("warn", fmt.Sprintf("Calibration %s = %.3f is far from 1.0", req.Role, req.Factor))
	}
	writeJSON(w, http.StatusOK, h.Scout.State())
}

// HandleCalibrationReset handles DELETE /calibration/{role}.
func (h *Handlers) HandleCalibrationReset(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	if role == "" || len(role) > 32 {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	if h.Scout == nil {
		http.Error(w, "scout not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.Scout.ResetCalibration(r.Context(), role); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.Scout.State())
}

// HandleCapture handles POST /capture: one reference still, synchronously.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.Capture == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	h.runningMu.Lock()
	busy := h.running
	h.runningMu.Unlock()
	if busy {
		http.Error(w, "sweep in progress", http.StatusConflict)
		return
	}

	shot, err := h.Capture.CaptureReference(r.Context())
	if errors.Is(err, capture.ErrNotConfigured) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		debug.Error(err)
		http.Error(w, "capture failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Reference still saved: %s", shot.Path))
	writeJSON(w, http.StatusCreated, shot)
}

// HandleSweep handles POST /sweep to start a lens sweep.
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SweepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateSweep(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Sweep == nil {
		http.Error(w, "sweep not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "sweep already in progress", http.StatusConflict)
		return
	}
	if !h.lastSweep.IsZero() && time.Since(h.lastSweep) < h.SweepCooldown {
		h.runningMu.Unlock()
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil((h.SweepCooldown-time.Since(h.lastSweep)).Seconds())))
		http.Error(w, "too many sweeps, retry later", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastSweep = time.Now()
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		if err := h.Sweep(h.base(), req); err != nil {
			h.Broadcaster.Broadcast("error", "Sweep failed: "+err.Error())
			debug.Error(fmt.Errorf("sweep: %w", err))
		} else {
			h.Broadcaster.Broadcast("info", "Sweep complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleShotsGeoJSON exports located shots.
func (h *Handlers) HandleShotsGeoJSON(w http.ResponseWriter, r *http.Request) {
	if h.Shots == nil {
		http.Error(w, "shot log not configured", http.StatusServiceUnavailable)
		return
	}
	fc, err := h.Shots.GeoJSON(r.Context())
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(fc)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusWS handles GET /status/ws: the same events as the SSE stream,
// one JSON text message each.
func (h *Handlers) HandleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Reader: only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
