package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/engine/pipeline"
	"github.com/leadswipe/leadswipe-api/engine/sources"
	"github.com/leadswipe/leadswipe-api/pkg/metrics"
	"github.com/leadswipe/leadswipe-api/pkg/mid"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// server holds what the handlers need.
type server struct {
	ctl        *pipeline.Controller
	dispatcher *delivery.Dispatcher
	metrics    *metrics.Registry
	logger     *slog.Logger
	now        func() time.Time
}

func newHandler(s *server, corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /groups", s.handleGroups)
	mux.HandleFunc("POST /scrape", s.handleScrape)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /register-device", s.handleRegister)
	mux.HandleFunc("POST /unregister-device", s.handleUnregister)
	mux.HandleFunc("POST /test-notification", s.handleTestNotification)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.OTel("leadswipe-api"),
		mid.Logger(s.logger, "/status", "/health", "/metrics"),
		mid.CORS(corsOrigin),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error"`
	SessionID string   `json:"session_id,omitempty"`
	Unknown   []string `json:"unknown_ids,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type rootResponse struct {
	Service         string            `json:"service"`
	Status          string            `json:"status"`
	Version         string            `json:"version"`
	FirebaseEnabled bool              `json:"firebase_enabled"`
	Endpoints       map[string]string `json:"endpoints"`
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Service:         "LeadSwipe API",
		Status:          "healthy",
		Version:         version,
		FirebaseEnabled: s.dispatcher.PushEnabled(),
		Endpoints: map[string]string{
			"groups":            "GET /groups",
			"scrape":            "POST /scrape",
			"status":            "GET /status",
			"health":            "GET /health",
			"register_device":   "POST /register-device",
			"unregister_device": "POST /unregister-device",
			"test_notification": "POST /test-notification",
			"metrics":           "GET /metrics",
		},
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

type groupsResponse struct {
	Success bool            `json:"success"`
	Groups  []domain.Source `json:"groups"`
	Total   int             `json:"total"`
}

func (s *server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	groups, err := s.ctl.Groups()
	if err != nil {
		s.logger.Error("load groups failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if groups == nil {
		groups = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, groupsResponse{Success: true, Groups: groups, Total: len(groups)})
}

// ScrapeRequest is the JSON body for POST /scrape. A missing group_ids
// selects every group.
type ScrapeRequest struct {
	GroupIDs *sources.Selection `json:"group_ids"`
}

// ScrapeResponse acknowledges a queued run.
type ScrapeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	StatusURL string `json:"status_url"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sel := sources.Selection{All: true}
	if req.GroupIDs != nil {
		sel = *req.GroupIDs
	}
	if !sel.All && len(sel.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "group_ids must not be empty")
		return
	}

	sess, err := s.ctl.Start(r.Context(), sel)
	var (
		conflict *domain.ConflictError
		unknown  *domain.UnknownSourceError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a scrape is already in progress", SessionID: conflict.SessionID})
		return
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Unknown: unknown.IDs})
		return
	case err != nil:
		s.logger.Error("start run failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ScrapeResponse{
		Success:   true,
		Message:   "Scrape started",
		SessionID: sess.ID(),
		StatusURL: "/status",
	})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

// DeviceRequest is the JSON body of the device registry endpoints.
type DeviceRequest struct {
	Token      string `json:"fcm_token"`
	DeviceName string `json:"device_name,omitempty"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "fcm_token is required")
		return
	}
	reg := s.dispatcher.Registry()
	added := reg.Add(req.Token)
	msg := "Device registered"
	if !added {
		msg = "Device already registered"
	}
	s.logger.Info("device registered", "device_name", req.DeviceName, "new", added, "devices", reg.Len())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       msg,
		"total_devices": reg.Len(),
	})
}

func (s *server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "fcm_token is required")
		return
	}
	reg := s.dispatcher.Registry()
	msg := "Device unregistered"
	if !reg.Remove(req.Token) {
		msg = "Device was not registered"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       msg,
		"total_devices": reg.Len(),
	})
}

// TestNotificationRequest optionally overrides the test message.
type TestNotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.dispatcher.PushEnabled() {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	if s.dispatcher.Registry().Len() == 0 {
		writeError(w, http.StatusBadRequest, "no devices registered")
		return
	}
	out := s.dispatcher.Notify(r.Context(), delivery.TestNotification(req.Title, req.Body))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": out.Sent > 0,
		"sent":    out.Sent,
		"failed":  out.Failed,
		"pruned":  out.Pruned,
	})
}
