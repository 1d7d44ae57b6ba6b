package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/hub"
	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/persona"
	"github.com/voxlink/voxlink/internal/protocol"
)

const (
	readLimit    = 2 << 20
	readWait     = 120 * time.Second
	pingInterval = 30 * time.Second
)

// Orchestrator is the part of the relay the transport layer drives.
type Orchestrator interface {
	HandleMessage(ctx context.Context, clientID string, msg any) error
	CleanupClient(clientID string)
}

type Server struct {
	cfg          config.Config
	log          *zap.Logger
	metrics      *observability.Metrics
	catalog      *persona.Catalog
	hub          *hub.Manager
	orchestrator Orchestrator
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, log *zap.Logger, metrics *observability.Metrics, catalog *persona.Catalog, h *hub.Manager, orchestrator Orchestrator) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		log:          log,
		metrics:      metrics,
		catalog:      catalog,
		hub:          h,
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a mic session unless the
				// deployment explicitly opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/personas", s.handleListPersonas)
	r.Get("/api/personas/{id}", s.handleGetPersona)
	r.Get("/api/stats", s.handleStats)

	r.Get("/ws", s.handleWS)
	r.Get("/ws/{client_id}", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"personas": s.catalog.Len(),
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	all := s.catalog.All()
	out := make([]persona.Public, 0, len(all))
	for _, p := range all {
		out = append(out, p.Public())
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.catalog.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "persona_not_found", "unknown persona: "+id)
		return
	}
	respondJSON(w, http.StatusOK, p.Public())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active_connections": s.hub.Count(),
		"connected_clients":  s.hub.ClientIDs(),
		"available_personas": s.catalog.Len(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	gen := s.hub.Connect(clientID, conn)
	defer func() {
		// Only the socket that still owns the registration tears the client
		// down. A superseded socket exiting here must not release the winning
		// connection's session and state.
		if s.hub.DisconnectOwned(clientID, gen) {
			s.orchestrator.CleanupClient(clientID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pingLoop(ctx, clientID)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	log := s.log.With(zap.String("client_id", clientID))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("client read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveRelayError("invalid_client_message")
			s.hub.Send(clientID, protocol.ErrorMessage{
				Type:    protocol.TypeError,
				Message: "Invalid message: " + err.Error(),
			})
			continue
		}

		if err := s.orchestrator.HandleMessage(ctx, clientID, parsed); err != nil {
			// The orchestrator already reported the failure to the client.
			log.Warn("message handling failed", zap.Error(err))
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, clientID string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.hub.Ping(clientID) {
				return
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
