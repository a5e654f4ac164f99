package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chloe/internal/completion"
	"github.com/ent0n29/chloe/internal/config"
	"github.com/ent0n29/chloe/internal/conversation"
	"github.com/ent0n29/chloe/internal/memory"
	"github.com/ent0n29/chloe/internal/observability"
	"github.com/ent0n29/chloe/internal/protocol"
	"github.com/ent0n29/chloe/internal/session"
)

type failingEngine struct{}

func (failingEngine) Complete(context.Context, completion.Request) (completion.Response, error) {
	return completion.Response{}, errors.New("upstream unavailable")
}

type slowEngine struct {
	started chan struct{}
	release chan struct{}
}

func (e slowEngine) Complete(ctx context.Context, _ completion.Request) (completion.Response, error) {
	close(e.started)
	select {
	case <-e.release:
		return completion.Response{Text: "finally"}, nil
	case <-ctx.Done():
		return completion.Response{}, ctx.Err()
	}
}

func newTestServer(t *testing.T, engine completion.Engine) *httptest.Server {
	t.Helper()
	ts, _ := newTestServerWithSessions(t, engine)
	return ts
}

func newTestServerWithSessions(t *testing.T, engine completion.Engine) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{GatewayInactivityTimeout: 2 * time.Minute}
	conv, err := conversation.New(conversation.Deps{
		Store:  memory.NewInMemoryStore(),
		Engine: engine,
	}, conversation.Options{})
	require.NoError(t, err)

	metrics := observability.NewMetrics("test_httpapi_" + strings.ReplaceAll(t.Name(), "/", "_") + "_" + time.Now().Format("150405000000000"))
	sessions := session.NewManager(cfg.GatewayInactivityTimeout)
	srv := New(cfg, sessions, conv, metrics, nil, Info{StoreMode: "in-memory", EngineName: completion.Name(engine)})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func dialChat(t *testing.T, ts *httptest.Server) (*websocket.Conn, protocol.SystemEvent) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var started protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&started))
	require.Equal(t, "session_started", started.Code)
	return conn, started
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer res.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	return res, payload
}

func TestDebugRoute(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, err := http.Get(ts.URL + "/debug")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Chloe Koala is running!", string(body))
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
		res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.Equal(t, "in-memory", payload["store_mode"], path)
		assert.Equal(t, "mock", payload["engine"], path)
	}
}

func TestCreateMessageReplies(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, payload := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"content":     "hello koala",
		"author_name": "sam",
		"author_id":   "42",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "I heard you: hello koala", payload["text"])
	assert.Equal(t, true, payload["persisted"])
	assert.Equal(t, false, payload["compressed"])

	convRes, err := http.Get(ts.URL + "/v1/conversation")
	require.NoError(t, err)
	defer convRes.Body.Close()
	var snap conversation.Snapshot
	require.NoError(t, json.NewDecoder(convRes.Body).Decode(&snap))
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, "sam", snap.Turns[0].AuthorName)
	assert.Equal(t, "hello koala", snap.Turns[0].Content)
	assert.Empty(t, snap.Summaries)
}

func TestCreateMessageIgnoresBots(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, payload := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"content":     "beep",
		"author_name": "otherbot",
		"author_bot":  true,
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, payload["ignored"])

	convRes, err := http.Get(ts.URL + "/v1/conversation")
	require.NoError(t, err)
	defer convRes.Body.Close()
	var snap conversation.Snapshot
	require.NoError(t, json.NewDecoder(convRes.Body).Decode(&snap))
	assert.Empty(t, snap.Turns)
}

func TestReadyWhileReplyInFlight(t *testing.T) {
	engine := slowEngine{started: make(chan struct{}), release: make(chan struct{})}
	ts := newTestServer(t, engine)

	done := make(chan int, 1)
	go func() {
		raw := []byte(`{"content":"take your time","author_name":"sam"}`)
		res, err := http.Post(ts.URL+"/v1/messages", "application/json", bytes.NewReader(raw))
		if !assert.NoError(t, err) {
			done <- 0
			return
		}
		res.Body.Close()
		done <- res.StatusCode
	}()

	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("reply never reached the engine")
	}

	res, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	close(engine.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestCreateMessageAcceptsEmptyContent(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, payload := postJSON(t, ts.URL+"/v1/messages", map[string]any{"content": "", "author_name": "Ann"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "I am listening.", payload["text"])
	assert.Equal(t, true, payload["persisted"])

	convRes, err := http.Get(ts.URL + "/v1/conversation")
	require.NoError(t, err)
	defer convRes.Body.Close()
	var snap conversation.Snapshot
	require.NoError(t, json.NewDecoder(convRes.Body).Decode(&snap))
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, "", snap.Turns[0].Content)
	assert.Equal(t, "Ann", snap.Turns[0].AuthorName)
}

func TestCreateMessageValidation(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, payload := postJSON(t, ts.URL+"/v1/messages", map[string]any{"content": 42})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_request", payload["code"])

	emptyRes, err := http.Post(ts.URL+"/v1/messages", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	emptyRes.Body.Close()
	assert.Equal(t, http.StatusBadRequest, emptyRes.StatusCode)
}

func TestCreateMessageSurfacesCompletionFailure(t *testing.T) {
	ts := newTestServer(t, failingEngine{})

	res, payload := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"content":     "hello",
		"author_name": "sam",
	})
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "completion_failed", payload["code"])
}

func TestResetConversation(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	for _, text := range []string{"one", "two"} {
		res, _ := postJSON(t, ts.URL+"/v1/messages", map[string]any{"content": text, "author_name": "sam"})
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	res, payload := postJSON(t, ts.URL+"/v1/conversation/reset", map[string]any{})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(2), payload["archived_turns"])

	convRes, err := http.Get(ts.URL + "/v1/conversation")
	require.NoError(t, err)
	defer convRes.Body.Close()
	var snap conversation.Snapshot
	require.NoError(t, json.NewDecoder(convRes.Body).Decode(&snap))
	assert.Empty(t, snap.Turns)
	assert.Equal(t, 1, snap.Archives)
}

func TestPerfLatencyReportsStages(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	res, _ := postJSON(t, ts.URL+"/v1/messages", map[string]any{"content": "hi", "author_name": "sam"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	perfRes, err := http.Get(ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer perfRes.Body.Close()
	var snap observability.StageSnapshot
	require.NoError(t, json.NewDecoder(perfRes.Body).Decode(&snap))

	stages := map[string]bool{}
	for _, st := range snap.Stages {
		stages[st.Stage] = true
	}
	for _, want := range []string{conversation.StageContextBuild, conversation.StageCompletion, conversation.StagePersist, conversation.StageTurnTotal} {
		assert.True(t, stages[want], "missing stage %s", want)
	}
}

func TestChatWebSocket(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var started protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&started))
	assert.Equal(t, "session_started", started.Code)
	assert.Equal(t, "Chloe Koala", started.Detail)
	require.NotEmpty(t, started.SessionID)

	require.NoError(t, conn.WriteJSON(protocol.MessageCreate{
		Type:      protocol.TypeMessageCreate,
		AuthorBot: true,
		Content:   "ignored",
	}))
	require.NoError(t, conn.WriteJSON(protocol.MessageCreate{
		Type:       protocol.TypeMessageCreate,
		MessageID:  "m1",
		Content:    "what do you eat?",
		AuthorName: "sam",
		AuthorID:   "42",
	}))

	var reply protocol.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, protocol.TypeReply, reply.Type)
	assert.Equal(t, "m1", reply.ReplyTo)
	assert.Equal(t, "I heard you: what do you eat?", reply.Text)
	assert.True(t, reply.Persisted)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)))
	var errEvent protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, "invalid_client_message", errEvent.Code)

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionReset}))
	var reset protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&reset))
	assert.Equal(t, "conversation_reset", reset.Code)
	assert.Equal(t, "archived 1 turns", reset.Detail)

	sessRes, err := http.Get(ts.URL + "/v1/gateway/sessions")
	require.NoError(t, err)
	defer sessRes.Body.Close()
	var list session.ListResponse
	require.NoError(t, json.NewDecoder(sessRes.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 1, list.Sessions[0].MessageCount)
	assert.Equal(t, 1, list.Sessions[0].ErrorCount)
}

func TestChatWebSocketReportsCompletionFailure(t *testing.T) {
	ts := newTestServer(t, failingEngine{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var started protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&started))

	require.NoError(t, conn.WriteJSON(protocol.MessageCreate{
		Type:       protocol.TypeMessageCreate,
		Content:    "hello",
		AuthorName: "sam",
	}))
	var errEvent protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, protocol.TypeErrorEvent, errEvent.Type)
	assert.Equal(t, "completion_failed", errEvent.Code)
	assert.Equal(t, "completion", errEvent.Source)
	assert.True(t, errEvent.Retryable)
}

func TestChatWebSocketAcceptsEmptyContent(t *testing.T) {
	ts := newTestServer(t, completion.NewMockEngine())
	conn, _ := dialChat(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"message_create","message_id":"m0","content":"","author_name":"Ann"}`)))
	var reply protocol.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, protocol.TypeReply, reply.Type)
	assert.Equal(t, "m0", reply.ReplyTo)
	assert.Equal(t, "I am listening.", reply.Text)
	assert.True(t, reply.Persisted)
}

func TestChatWebSocketExpiredSession(t *testing.T) {
	ts, sessions := newTestServerWithSessions(t, completion.NewMockEngine())
	conn, started := dialChat(t, ts)

	_, err := sessions.End(started.SessionID)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(protocol.MessageCreate{
		Type:       protocol.TypeMessageCreate,
		Content:    "still there?",
		AuthorName: "sam",
	}))
	var errEvent protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, protocol.TypeErrorEvent, errEvent.Type)
	assert.Equal(t, "session_expired", errEvent.Code)
	assert.Equal(t, "gateway", errEvent.Source)
	assert.False(t, errEvent.Retryable)
	assert.Equal(t, started.SessionID, errEvent.SessionID)
}

func TestStatusForError(t *testing.T) {
	status, code := statusForError(&conversation.Error{Kind: conversation.KindStore, Op: "find turns"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "store_failed", code)

	status, code = statusForError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
}
