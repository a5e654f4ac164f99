package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat bot service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	GatewayInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	BotName     string
	PersonaFile string

	CompletionMode       string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	CompletionHTTPURL    string
	CompletionTimeout    time.Duration
	CompletionMaxRetries int

	ReplyMaxTokens         int
	SummaryTokenMultiplier int
	Temperature            float64
	TopP                   float64
	FrequencyPenalty       float64
	PresencePenalty        float64

	ContextMaxChars       int
	ContextForceTailTurns int

	StoreURL     string
	StoreTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "chloe"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		AllowAnyOrigin:   false,
		BotName:          stringsTrimSpace("BOT_NAME"),
		PersonaFile:      stringsTrimSpace("BOT_PERSONA_FILE"),
		CompletionMode:   strings.ToLower(envOrDefault("COMPLETION_MODE", "auto")),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		// The legacy completions endpoint is the only one that takes a raw
		// transcript prompt with a stop sequence.
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo-instruct"),
		CompletionHTTPURL: stringsTrimSpace("COMPLETION_HTTP_URL"),
		StoreURL:          stringsTrimSpace("STORE_URL"),

		ShutdownTimeout:          15 * time.Second,
		GatewayInactivityTimeout: 10 * time.Minute,
		CompletionTimeout:        30 * time.Second,
		CompletionMaxRetries:     2,
		StoreTimeout:             5 * time.Second,

		ReplyMaxTokens:         100,
		SummaryTokenMultiplier: 5,
		Temperature:            0.5,
		TopP:                   1,
		FrequencyPenalty:       0.5,
		PresencePenalty:        0,
		ContextMaxChars:        3000,
		ContextForceTailTurns:  10,
	}
	if cfg.StoreURL == "" {
		cfg.StoreURL = stringsTrimSpace("DATABASE_URL")
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayInactivityTimeout, err = durationFromEnv("APP_GATEWAY_INACTIVITY_TIMEOUT", cfg.GatewayInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreTimeout, err = durationFromEnv("STORE_TIMEOUT", cfg.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.CompletionMaxRetries, err = intFromEnv("COMPLETION_MAX_RETRIES", cfg.CompletionMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplyMaxTokens, err = intFromEnv("REPLY_MAX_TOKENS", cfg.ReplyMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTokenMultiplier, err = intFromEnv("SUMMARY_TOKEN_MULTIPLIER", cfg.SummaryTokenMultiplier)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMaxChars, err = intFromEnv("CONTEXT_MAX_CHARS", cfg.ContextMaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextForceTailTurns, err = intFromEnv("CONTEXT_FORCE_TAIL_TURNS", cfg.ContextForceTailTurns)
	if err != nil {
		return Config{}, err
	}

	cfg.Temperature, err = floatFromEnv("SAMPLING_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.TopP, err = floatFromEnv("SAMPLING_TOP_P", cfg.TopP)
	if err != nil {
		return Config{}, err
	}
	cfg.FrequencyPenalty, err = floatFromEnv("SAMPLING_FREQUENCY_PENALTY", cfg.FrequencyPenalty)
	if err != nil {
		return Config{}, err
	}
	cfg.PresencePenalty, err = floatFromEnv("SAMPLING_PRESENCE_PENALTY", cfg.PresencePenalty)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GatewayInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_GATEWAY_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.CompletionMaxRetries < 0 {
		return fmt.Errorf("COMPLETION_MAX_RETRIES must be >= 0")
	}
	if c.ReplyMaxTokens <= 0 {
		return fmt.Errorf("REPLY_MAX_TOKENS must be positive")
	}
	if c.SummaryTokenMultiplier <= 0 {
		return fmt.Errorf("SUMMARY_TOKEN_MULTIPLIER must be positive")
	}
	if c.ContextMaxChars <= 0 {
		return fmt.Errorf("CONTEXT_MAX_CHARS must be positive")
	}
	if c.ContextForceTailTurns <= 0 {
		return fmt.Errorf("CONTEXT_FORCE_TAIL_TURNS must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("SAMPLING_TEMPERATURE must be within [0, 2]")
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("SAMPLING_TOP_P must be within (0, 1]")
	}
	switch c.CompletionMode {
	case "auto", "openai", "http", "mock":
	default:
		return fmt.Errorf("COMPLETION_MODE must be one of auto, openai, http, mock")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}

// LoadPreamble returns the persona preamble from PersonaFile, or "" when no
// file is configured.
func (c Config) LoadPreamble() (string, error) {
	if c.PersonaFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(c.PersonaFile)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	preamble := strings.TrimSpace(string(raw))
	if preamble == "" {
		return "", fmt.Errorf("persona file %s is empty", c.PersonaFile)
	}
	return preamble, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
