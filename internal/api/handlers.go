package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-copybot/internal/config"
)

// VenueProbe is the venue connectivity check behind /health. The CLOB
// client satisfies it with its server-time endpoint.
type VenueProbe interface {
	GetServerTime(ctx context.Context) (int64, error)
}

const venueProbeTimeout = 3 * time.Second

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider StatusProvider
	probe    VenueProbe
	cfg      config.StatusConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider StatusProvider, probe VenueProbe, cfg config.StatusConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		probe:    probe,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth reports process liveness plus venue reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	venue := "ok"
	if h.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), venueProbeTimeout)
		defer cancel()
		if _, err := h.probe.GetServerTime(ctx); err != nil {
			venue = "unreachable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "venue": venue})
}

// HandleSnapshot returns the current engine state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.provider.StatusSnapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to build snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
	}
}

// HandleWebSocket upgrades the connection and registers a new client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	// Seed the client with the current state.
	snapshot, err := h.provider.StatusSnapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to build initial snapshot", "error", err)
		return
	}
	evt := Event{Type: "snapshot", Timestamp: time.Now().UTC(), Data: snapshot}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

// isOriginAllowed decides whether a websocket upgrade from origin may
// proceed. With an allowlist configured only exact matches pass; without
// one, local and same-host origins pass.
func isOriginAllowed(origin string, cfg config.StatusConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == reqHost
}
