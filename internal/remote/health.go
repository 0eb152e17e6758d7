package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthStatus summarizes the player for /readiness.
type HealthStatus struct {
	Status        string `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       bool   `json:"running"`
	State         string `json:"state"`
	AudioDevice   bool   `json:"audio_device"`
	MQTTConnected bool   `json:"mqtt_connected"`
	// Stalled is set while the active pipeline reports a stall
	Stalled bool `json:"stalled"`
}

// StatusSource is implemented by the player.
type StatusSource interface {
	HealthCheck() HealthStatus
	StatusSnapshot() interface{}
}

// HealthServer serves /health, /readiness and /status.
type HealthServer struct {
	src     StatusSource
	started time.Time
	server  *http.Server
}

// NewHealthServer creates a server for src; it does not listen yet.
func NewHealthServer(src StatusSource) *HealthServer {
	return &HealthServer{src: src, started: time.Now()}
}

// Handler returns the endpoint mux.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.liveness)
	mux.HandleFunc("/readiness", s.readiness)
	mux.HandleFunc("/status", s.status)
	return mux
}

// Start listens on addr in the background and returns the bound address.
func (s *HealthServer) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("remote: starting health server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/status"},
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("remote: health server failed", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HealthServer) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *HealthServer) readiness(w http.ResponseWriter, _ *http.Request) {
	health := s.src.HealthCheck()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *HealthServer) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.StatusSnapshot())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("remote: failed to write response", "error", err)
	}
}
