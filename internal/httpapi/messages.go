package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/conversation"
)

type createMessageRequest struct {
	Content    string `json:"content"`
	AuthorName string `json:"author_name"`
	AuthorID   string `json:"author_id"`
	AuthorBot  bool   `json:"author_bot"`
}

type createMessageResponse struct {
	Text       string `json:"text,omitempty"`
	Persisted  bool   `json:"persisted"`
	Compressed bool   `json:"compressed"`
	Ignored    bool   `json:"ignored,omitempty"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}

	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Bots never get a reply, or they would answer each other forever.
	if req.AuthorBot {
		s.metrics.ObserveGatewayEvent("ignored_bot")
		respondJSON(w, http.StatusOK, createMessageResponse{Ignored: true})
		return
	}

	reply, err := s.conversation.HandleIncomingMessage(r.Context(), conversation.IncomingMessage{
		Content:    req.Content,
		AuthorName: req.AuthorName,
		AuthorID:   req.AuthorID,
	})
	if err != nil {
		status, code := statusForError(err)
		s.logger.Warn("message not answered", zap.String("code", code), zap.Error(err))
		respondError(w, status, code, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, createMessageResponse{
		Text:       reply.Text,
		Persisted:  reply.Persisted,
		Compressed: reply.Compressed,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	snap, err := s.conversation.Snapshot(r.Context())
	if err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	if snap.Summaries == nil {
		snap.Summaries = []conversation.Summary{}
	}
	if snap.Turns == nil {
		snap.Turns = []conversation.Turn{}
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}
	record, err := s.conversation.Reset(r.Context())
	if err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "reset",
		"archive_id":     record.ID,
		"archived_turns": len(record.Turns),
	})
}
