package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/config"
	"github.com/ent0n29/chloe/internal/conversation"
	"github.com/ent0n29/chloe/internal/observability"
	"github.com/ent0n29/chloe/internal/session"
)

// Conversation is the reply pipeline the HTTP surfaces drive.
type Conversation interface {
	BotName() string
	HandleIncomingMessage(ctx context.Context, msg conversation.IncomingMessage) (conversation.Reply, error)
	Snapshot(ctx context.Context) (conversation.Snapshot, error)
	Ping(ctx context.Context) error
	Reset(ctx context.Context) (conversation.ArchiveRecord, error)
}

// Info describes the resolved backends for health output.
type Info struct {
	StoreMode  string
	EngineName string
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	conversation Conversation
	metrics      *observability.Metrics
	logger       *zap.Logger
	info         Info
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, conv Conversation, metrics *observability.Metrics, logger *zap.Logger, info Info) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		conversation: conv,
		metrics:      metrics,
		logger:       logger,
		info:         info,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless the
				// operator opts out.
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

	r.Get("/debug", s.handleDebug)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/messages", s.handleCreateMessage)
	r.Get("/v1/conversation", s.handleGetConversation)
	r.Post("/v1/conversation/reset", s.handleResetConversation)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/gateway/sessions", s.handleListSessions)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	name := conversation.DefaultPersona().BotName
	if s.conversation != nil {
		name = s.conversation.BotName()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(name + " is running!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.info.StoreMode,
		"engine":     s.info.EngineName,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "conversation not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()
	if err := s.conversation.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.info.StoreMode,
		"engine":     s.info.EngineName,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		respondJSON(w, http.StatusOK, session.ListResponse{Sessions: []*session.Session{}})
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Snapshot())
}

const (
	readyProbeTimeout = 2 * time.Second
	maxBodyBytes      = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusForError maps a reply-cycle failure to an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch conversation.KindOf(err) {
	case conversation.KindCompletion:
		if errors.Is(err, context.Canceled) {
			return http.StatusServiceUnavailable, "canceled"
		}
		return http.StatusBadGateway, "completion_failed"
	case conversation.KindStore:
		return http.StatusServiceUnavailable, "store_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
