package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/reliability"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-3.5-turbo-instruct"
	DefaultTimeout       = 30 * time.Second

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// ErrNoChoices is returned when the API answers without any completion.
var ErrNoChoices = errors.New("completion response has no choices")

// OpenAIConfig configures the legacy text completions client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// OpenAIEngine calls the /completions endpoint of an OpenAI-compatible API.
type OpenAIEngine struct {
	apiKey     string
	endpoint   string
	model      string
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type openAIRequest struct {
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	Stop             []string `json:"stop,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StatusError is a non-2xx API answer.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion api status %d: %s", e.StatusCode, e.Message)
}

func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEngine{
		apiKey:     cfg.APIKey,
		endpoint:   baseURL + "/completions",
		model:      model,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		sleep:      sleepContext,
	}
}

func (e *OpenAIEngine) Model() string { return e.model }

func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(openAIRequest{
		Model:            e.model,
		Prompt:           req.Prompt,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, retryBaseDelay, retryMaxDelay)
			e.logger.Warn("retrying completion request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := e.sleep(ctx, delay); err != nil {
				return Response{}, err
			}
		}

		resp, err := e.do(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !reliability.IsRetryableHTTPStatus(statusErr.StatusCode) {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

func (e *OpenAIEngine) do(ctx context.Context, payload []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	res, err := e.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var apiErr openAIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return Response{}, &StatusError{StatusCode: res.StatusCode, Message: msg}
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, ErrNoChoices
	}

	e.logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.String("finish_reason", out.Choices[0].FinishReason),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens))

	return Response{Text: out.Choices[0].Text}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
