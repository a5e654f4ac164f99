package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/completion"
	"github.com/ent0n29/chloe/internal/config"
	"github.com/ent0n29/chloe/internal/conversation"
	"github.com/ent0n29/chloe/internal/httpapi"
	"github.com/ent0n29/chloe/internal/memory"
	"github.com/ent0n29/chloe/internal/observability"
	"github.com/ent0n29/chloe/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Conversation *conversation.Orchestrator
	Sessions     *session.Manager
	Metrics      *observability.Metrics
	StoreMode    string
	EngineName   string

	// Cleanup should be called on shutdown to release the store.
	Cleanup func() error
}

// Build wires the store, completion engine and conversation pipeline from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	conv, store, engineName, err := BuildConversation(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.GatewayInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveGatewayEvent("expired")
		metrics.SetGatewaySessions(sessions.ActiveCount())
		logger.Info("gateway session expired", zap.String("session_id", s.ID))
	})

	storeMode := memory.Mode(cfg.StoreURL)
	api := httpapi.New(cfg, sessions, conv, metrics, logger.Named("http"), httpapi.Info{
		StoreMode:  storeMode,
		EngineName: engineName,
	})

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Conversation: conv,
		Sessions:     sessions,
		Metrics:      metrics,
		StoreMode:    storeMode,
		EngineName:   engineName,
		Cleanup:      closer(store),
	}, nil
}

// BuildConversation wires just the reply pipeline. The CLI uses it directly
// for one-shot commands that do not start the HTTP server.
func BuildConversation(ctx context.Context, cfg config.Config, logger *zap.Logger, observer conversation.Observer) (*conversation.Orchestrator, conversation.Store, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	preamble, err := cfg.LoadPreamble()
	if err != nil {
		return nil, nil, "", err
	}
	persona := conversation.DefaultPersona()
	if preamble != "" {
		persona.Preamble = preamble
	}
	if name := strings.TrimSpace(cfg.BotName); name != "" {
		persona.BotName = name
	}

	store, err := memory.NewStore(ctx, cfg.StoreURL)
	if err != nil {
		return nil, nil, "", fmt.Errorf("conversation store init failed: %w", err)
	}

	engine, err := completion.NewEngine(completion.Config{
		Mode:       cfg.CompletionMode,
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		HTTPURL:    cfg.CompletionHTTPURL,
		Timeout:    cfg.CompletionTimeout,
		MaxRetries: cfg.CompletionMaxRetries,
		Logger:     logger.Named("completion"),
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, "", fmt.Errorf("completion engine init failed: %w", err)
	}
	engineName := completion.Name(engine)

	conv, err := conversation.New(conversation.Deps{
		Store:    store,
		Engine:   engine,
		Logger:   logger.Named("conversation"),
		Observer: observer,
	}, conversation.Options{
		Persona:                persona,
		MaxContextChars:        cfg.ContextMaxChars,
		ForceTailTurns:         cfg.ContextForceTailTurns,
		ReplyMaxTokens:         cfg.ReplyMaxTokens,
		SummaryTokenMultiplier: cfg.SummaryTokenMultiplier,
		Sampling: completion.Sampling{
			Temperature:      cfg.Temperature,
			TopP:             cfg.TopP,
			FrequencyPenalty: cfg.FrequencyPenalty,
			PresencePenalty:  cfg.PresencePenalty,
		},
		CompletionTimeout: cfg.CompletionTimeout,
		StoreTimeout:      cfg.StoreTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, "", err
	}

	logger.Info("conversation ready",
		zap.String("bot_name", persona.BotName),
		zap.String("store_mode", memory.Mode(cfg.StoreURL)),
		zap.String("engine", engineName))
	return conv, store, engineName, nil
}

func closer(store conversation.Store) func() error {
	return func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	}
}
