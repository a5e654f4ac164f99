package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEngineJSONResponse(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello from http"}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, time.Second)
	resp, err := e.Complete(context.Background(), Request{
		Prompt:    "p",
		Stop:      []string{"sam:"},
		MaxTokens: 100,
		Sampling:  Sampling{Temperature: 0.5, TopP: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from http", resp.Text)
	assert.Equal(t, "p", got.Prompt)
	assert.Equal(t, []string{"sam:"}, got.Stop)
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
}

func TestHTTPEngineRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", maxResponseBytes+1)))
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(srv.URL, 5*time.Second).Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorContains(t, err, "response exceeds")
}

func TestHTTPEngineChoicesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"text":"from choices"}]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPEngine(srv.URL, time.Second).Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "from choices", resp.Text)
}

func TestHTTPEnginePlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  just text \n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPEngine(srv.URL, time.Second).Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "just text", resp.Text)
}

func TestHTTPEngineSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keepalive\n\n" +
			"data: {\"delta\":\"Hi\"}\n\n" +
			"data: {\"delta\":\" there\"}\n\n" +
			"data: [DONE]\n\n" +
			"data: {\"delta\":\"ignored\"}\n\n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPEngine(srv.URL, time.Second).Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)
}

func TestHTTPEngineNDJSONStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"text\":\"one\"}\n{\"text\":\" two\"}\n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPEngine(srv.URL, time.Second).Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "one two", resp.Text)
}

func TestHTTPEngineStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(srv.URL, time.Second).Complete(context.Background(), Request{Prompt: "p"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "overloaded", statusErr.Message)
}
