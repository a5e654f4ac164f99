package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/conversation"
	"github.com/ent0n29/chloe/internal/protocol"
	"github.com/ent0n29/chloe/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

// handleChatWS runs one chat gateway connection. Inbound messages are answered
// in arrival order; writes go through a single writer goroutine.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil || s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Open(r.RemoteAddr)
	s.metrics.ObserveGatewayEvent("connected")
	s.metrics.SetGatewaySessions(s.sessions.ActiveCount())
	log := s.logger.With(zap.String("session_id", sess.ID))
	log.Info("gateway connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("gateway write failed", zap.Error(err))
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	emit(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_started",
		Detail:    s.conversation.BotName(),
	})

	readTimeout := s.sessions.InactivityTimeout()
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = s.sessions.RecordError(sess.ID)
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveGatewayEvent("outbound_dropped")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone

	if _, err := s.sessions.End(sess.ID); err == nil {
		s.metrics.SetGatewaySessions(s.sessions.ActiveCount())
	}
	s.metrics.ObserveGatewayEvent("disconnected")
	log.Info("gateway disconnected")
}

// runConnection answers inbound messages one at a time until inbound closes
// or the session expires.
func (s *Server) runConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		if ctx.Err() != nil {
			continue
		}
		switch m := msg.(type) {
		case protocol.MessageCreate:
			if m.AuthorBot {
				s.metrics.ObserveGatewayEvent("ignored_bot")
				continue
			}
			if err := s.sessions.RecordMessage(sess.ID, m.AuthorName); errors.Is(err, session.ErrNotFound) {
				emit(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      "session_expired",
					Source:    "gateway",
					Retryable: false,
					Detail:    "session ended after inactivity; reconnect to continue",
				})
				continue
			}
			s.answer(ctx, sess, m, outbound)
		case protocol.ClientControl:
			_ = s.sessions.Touch(sess.ID)
			s.control(ctx, sess, m, outbound)
		}
	}
}

func (s *Server) answer(ctx context.Context, sess *session.Session, m protocol.MessageCreate, outbound chan<- any) {
	reply, err := s.conversation.HandleIncomingMessage(ctx, conversation.IncomingMessage{
		Content:    m.Content,
		AuthorName: m.AuthorName,
		AuthorID:   m.AuthorID,
	})
	if err != nil {
		_ = s.sessions.RecordError(sess.ID)
		_, code := statusForError(err)
		emit(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      code,
			Source:    string(conversation.KindOf(err)),
			Retryable: code != "internal_error",
			Detail:    err.Error(),
		})
		return
	}
	emit(ctx, outbound, protocol.Reply{
		Type:       protocol.TypeReply,
		SessionID:  sess.ID,
		ReplyTo:    m.MessageID,
		Text:       reply.Text,
		Persisted:  reply.Persisted,
		Compressed: reply.Compressed,
	})
}

func (s *Server) control(ctx context.Context, sess *session.Session, m protocol.ClientControl, outbound chan<- any) {
	switch m.Action {
	case protocol.ActionPing:
		emit(ctx, outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sess.ID,
			Code:      "pong",
		})
	case protocol.ActionReset:
		record, err := s.conversation.Reset(ctx)
		if err != nil {
			_, code := statusForError(err)
			emit(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      code,
				Source:    string(conversation.KindOf(err)),
				Retryable: true,
				Detail:    err.Error(),
			})
			return
		}
		emit(ctx, outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sess.ID,
			Code:      "conversation_reset",
			Detail:    fmt.Sprintf("archived %d turns", len(record.Turns)),
		})
	}
}

func emit(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.MessageCreate:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.Reply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
