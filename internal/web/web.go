// Package web exposes the upload UI and JSON API in front of the render
// engine.
package web

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"

	"paperwave/internal/config"
	"paperwave/internal/convert"
	"paperwave/internal/imaging"
	appLog "paperwave/internal/log"
	"paperwave/internal/render"
)

// maxUploadBytes bounds multipart upload size. Even the big Spectra 6
// panel is under 2 megapixels, so anything past this is not a panel image.
const maxUploadBytes = 25 << 20

//go:embed templates
var embeddedTemplates embed.FS

// Server provides the upload form and the JSON API.
type Server struct {
	cfg   config.Config
	eng   *render.Engine
	mux   *http.ServeMux
	index *template.Template

	baseMu sync.Mutex
	base   convert.Rotation // calibrated mount rotation, added to every upload
}

// NewServer constructs a Server around eng, restoring the calibrated
// rotation from the state file when one exists.
func NewServer(cfg config.Config, eng *render.Engine) (*Server, error) {
	index, err := template.ParseFS(embeddedTemplates, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}
	s := &Server{
		cfg:   cfg,
		eng:   eng,
		mux:   http.NewServeMux(),
		index: index,
	}
	if st, err := config.LoadState(cfg.StatePath); err != nil {
		appLog.Error("failed to load state, assuming uncalibrated", err, "path", cfg.StatePath)
	} else if rot, err := convert.ParseRotation(st.RotationDeg); err != nil {
		appLog.Error("ignoring bad calibrated rotation", err, "path", cfg.StatePath)
	} else {
		s.base = rot
		if rot != convert.Rotate0 {
			appLog.Info("restored calibrated rotation", "degrees", rot.Degrees())
		}
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) baseRotation() convert.Rotation {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	return s.base
}

// Handler returns the routed handler, wrapped with basic auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.cfg.Auth.Enabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/info", s.handleInfo)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/api/demo", s.handleDemo)
	s.mux.HandleFunc("/api/calibrate", s.handleCalibrate)
	s.mux.HandleFunc("/api/calibrate/answer", s.handleCalibrateAnswer)
	s.mux.HandleFunc("/", s.handleIndex)
}

// basicAuthMiddleware protects everything except /health, which stays open
// for liveness probes.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.Auth.Username
	password := s.cfg.Auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Paperwave", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type indexData struct {
	Detected    bool
	Panel       string
	Width       int
	Height      int
	Colors      int
	Reason      string
	Busy        bool
	Saturation  float64
	Lighten     float64
	RotationDeg int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	probe := s.eng.Probe()
	data := indexData{
		Detected:    probe.Detected(),
		Reason:      probe.Reason,
		Busy:        s.eng.Busy(),
		Saturation:  s.cfg.Saturation,
		Lighten:     s.cfg.Lighten,
		RotationDeg: s.baseRotation().Degrees(),
	}
	if probe.Detected() {
		data.Panel = probe.Variant.Name
		data.Width = probe.Variant.Width
		data.Height = probe.Variant.Height
		data.Colors = len(probe.Variant.Palette)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		appLog.Error("failed to render index", err)
	}
}

// infoResponse is the JSON shape for /api/info.
type infoResponse struct {
	Detected bool     `json:"detected"`
	Busy     bool     `json:"busy"`
	Panel    string   `json:"panel,omitempty"`
	Width    int      `json:"width,omitempty"`
	Height   int      `json:"height,omitempty"`
	Aspect   string   `json:"aspect,omitempty"`
	Colors   []string `json:"colors,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Metadata string   `json:"metadata,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	probe := s.eng.Probe()
	resp := infoResponse{Detected: probe.Detected(), Busy: s.eng.Busy(), Reason: probe.Reason}
	if len(probe.Metadata.Raw) > 0 {
		resp.Metadata = probe.Metadata.String()
	}
	if probe.Detected() {
		resp.Panel = probe.Variant.Name
		resp.Width = probe.Variant.Width
		resp.Height = probe.Variant.Height
		resp.Aspect = aspectRatio(probe.Variant.Width, probe.Variant.Height)
		for _, c := range probe.Variant.Palette {
			resp.Colors = append(resp.Colors, c.Name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// aspectRatio reduces width:height for display on the upload page.
func aspectRatio(width, height int) string {
	a, b := width, height
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", width/a, height/a)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type statusResponse struct {
		Busy bool `json:"busy"`
	}
	writeJSON(w, http.StatusOK, statusResponse{Busy: s.eng.Busy()})
}

// updateResponse is the JSON shape for endpoints that drive the panel.
type updateResponse struct {
	ID      string `json:"id"`
	Panel   string `json:"panel"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Elapsed string `json:"elapsed"`
}

// handleUpload accepts a multipart form with an image file plus optional
// saturation and rotation fields, and pushes the image to the panel.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	src, format, err := imaging.Decode(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable image: "+err.Error())
		return
	}
	appLog.Info("upload received", "file", header.Filename, "format", format,
		"width", src.Width, "height", src.Height)

	sat, err := s.formSaturation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lighten, err := s.formLighten(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rot, err := formRotation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.runUpdate(w, r, render.Request{
		Source:     src,
		Rotation:   s.baseRotation().Plus(rot),
		Saturation: sat,
		Lighten:    lighten,
	})
}

// handleDemo renders the built-in stripe test card.
func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	sat, err := s.formSaturation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runUpdate(w, r, render.Request{Saturation: sat})
}

// handleCalibrate draws an arrow pointing up in the panel's native
// orientation. The operator then reports the direction the arrow actually
// points via /api/calibrate/answer.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	probe := s.eng.Probe()
	if !probe.Detected() {
		writeError(w, http.StatusServiceUnavailable, "no panel detected: "+probe.Reason)
		return
	}
	// Native orientation on purpose: the answer mapping assumes an
	// unrotated arrow, so the calibrated rotation must not apply here.
	arrow := convert.ArrowPattern(probe.Variant.Width, probe.Variant.Height, convert.Rotate0)
	s.runUpdate(w, r, render.Request{Source: arrow, Saturation: 1})
}

// handleCalibrateAnswer records which way the calibration arrow pointed and
// derives the panel's mounting rotation from it. The rotation is persisted
// and added to every subsequent upload.
func (s *Server) handleCalibrateAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	rot, err := rotationForDirection(r.FormValue("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.SaveState(s.cfg.StatePath, config.State{RotationDeg: rot.Degrees()}); err != nil {
		appLog.Error("failed to persist calibrated rotation", err, "path", s.cfg.StatePath)
		writeError(w, http.StatusInternalServerError, "failed to persist rotation")
		return
	}
	s.baseMu.Lock()
	s.base = rot
	s.baseMu.Unlock()
	appLog.Info("panel calibrated", "direction", r.FormValue("direction"), "degrees", rot.Degrees())

	type answerResponse struct {
		RotationDeg int `json:"rotation_deg"`
	}
	writeJSON(w, http.StatusOK, answerResponse{RotationDeg: rot.Degrees()})
}

// rotationForDirection maps the reported arrow direction to the rotation
// that turns uploads upright. An arrow that shows pointing right means the
// panel is mounted a quarter turn clockwise, so images need the remaining
// three quarters.
func rotationForDirection(dir string) (convert.Rotation, error) {
	switch dir {
	case "up":
		return convert.Rotate0, nil
	case "right":
		return convert.Rotate270, nil
	case "down":
		return convert.Rotate180, nil
	case "left":
		return convert.Rotate90, nil
	default:
		return 0, fmt.Errorf("bad direction %q: want up, right, down or left", dir)
	}
}

// runUpdate drives the engine and maps failure classes to HTTP statuses.
func (s *Server) runUpdate(w http.ResponseWriter, r *http.Request, req render.Request) {
	res, err := s.eng.Update(r.Context(), req)
	if err != nil {
		if errors.Is(err, render.ErrBusy) {
			writeError(w, http.StatusLocked, "panel update already in progress")
			return
		}
		switch render.KindOf(err) {
		case render.KindInput:
			writeError(w, http.StatusBadRequest, err.Error())
		case render.KindDetect:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			appLog.Error("update failed", err)
			writeError(w, http.StatusInternalServerError, "panel update failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		ID:      res.ID,
		Panel:   res.Variant,
		Width:   res.Width,
		Height:  res.Height,
		Elapsed: res.Elapsed.String(),
	})
}

// formSaturation parses the optional saturation field, falling back to the
// configured default.
func (s *Server) formSaturation(r *http.Request) (float64, error) {
	raw := r.FormValue("saturation")
	if raw == "" {
		return s.cfg.Saturation, nil
	}
	sat, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad saturation %q", raw)
	}
	if sat < 0 || sat > 1 {
		return 0, fmt.Errorf("saturation %v out of range [0,1]", sat)
	}
	return sat, nil
}

// formLighten parses the optional lighten field, falling back to the
// configured default.
func (s *Server) formLighten(r *http.Request) (float64, error) {
	raw := r.FormValue("lighten")
	if raw == "" {
		return s.cfg.Lighten, nil
	}
	l, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad lighten %q", raw)
	}
	if l < 0 || l > 1 {
		return 0, fmt.Errorf("lighten %v out of range [0,1]", l)
	}
	return l, nil
}

func formRotation(r *http.Request) (convert.Rotation, error) {
	raw := r.FormValue("rotation")
	if raw == "" {
		return convert.Rotate0, nil
	}
	deg, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad rotation %q", raw)
	}
	rot, err := convert.ParseRotation(deg)
	if err != nil {
		return 0, fmt.Errorf("bad rotation %d: want 0, 90, 180 or 270", deg)
	}
	return rot, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
