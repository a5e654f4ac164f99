package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sampling holds the model sampling parameters sent with every request.
type Sampling struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

// Request is a prompt-in/text-out completion call.
type Request struct {
	Prompt    string   `json:"prompt"`
	Stop      []string `json:"stop,omitempty"`
	MaxTokens int      `json:"max_tokens"`
	Sampling
}

// Response carries the generated text.
type Response struct {
	Text string `json:"text"`
}

// Engine produces completions. Any returned error means no text was produced.
type Engine interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls engine construction.
type Config struct {
	Mode       string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPURL    string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// NewEngine resolves the configured backend. In auto mode an OpenAI key wins,
// then a plain HTTP endpoint, then the mock.
func NewEngine(cfg Config) (Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoEngine(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai API key is required for openai mode")
		}
		return newOpenAIFromConfig(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("completion HTTP url is required for http mode")
		}
		return NewHTTPEngine(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

// Name reports the backend behind e for health output.
func Name(e Engine) string {
	switch v := e.(type) {
	case *OpenAIEngine:
		return "openai"
	case *HTTPEngine:
		return "http"
	case *MockEngine:
		return "mock"
	case *FallbackEngine:
		return Name(v.Primary()) + "+" + Name(v.Secondary())
	default:
		return "custom"
	}
}

func newAutoEngine(cfg Config) Engine {
	httpURL := strings.TrimSpace(cfg.HTTPURL)
	if strings.TrimSpace(cfg.APIKey) != "" {
		primary := newOpenAIFromConfig(cfg)
		if httpURL != "" {
			return NewFallbackEngine(primary, NewHTTPEngine(httpURL, cfg.Timeout))
		}
		// No silent mock fallback when a key is configured: a broken key must
		// surface as an error, not as canned replies.
		return primary
	}
	if httpURL != "" {
		return NewHTTPEngine(httpURL, cfg.Timeout)
	}
	return NewMockEngine()
}

func newOpenAIFromConfig(cfg Config) *OpenAIEngine {
	return NewOpenAIEngine(OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     cfg.Logger,
	})
}
