package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chloe/internal/config"
	"github.com/ent0n29/chloe/internal/conversation"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:         "test_app_" + strings.ReplaceAll(t.Name(), "/", "_") + "_" + time.Now().Format("150405000000000"),
		GatewayInactivityTimeout: time.Minute,
		CompletionMode:           "mock",
		CompletionTimeout:        time.Second,
		StoreTimeout:             time.Second,
		ReplyMaxTokens:           100,
		SummaryTokenMultiplier:   5,
		ContextMaxChars:          3000,
		ContextForceTailTurns:    10,
		TopP:                     1,
	}
}

func TestBuildInMemoryMock(t *testing.T) {
	built, err := Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, built.Cleanup()) }()

	assert.Equal(t, "in-memory", built.StoreMode)
	assert.Equal(t, "mock", built.EngineName)
	assert.Equal(t, "Chloe Koala", built.Conversation.BotName())
	assert.NotNil(t, built.API.Router())

	reply, err := built.Conversation.HandleIncomingMessage(context.Background(), conversation.IncomingMessage{
		Content:    "hi",
		AuthorName: "sam",
	})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hi", reply.Text)
	assert.True(t, reply.Persisted)
}

func TestBuildConversationAppliesPersona(t *testing.T) {
	dir := t.TempDir()
	personaPath := filepath.Join(dir, "persona.txt")
	require.NoError(t, os.WriteFile(personaPath, []byte("You are Olive, a calm owl.\n"), 0o644))

	cfg := testConfig(t)
	cfg.BotName = "Olive Owl"
	cfg.PersonaFile = personaPath
	cfg.StoreURL = "sqlite://" + filepath.Join(dir, "chloe.db")

	conv, store, engineName, err := BuildConversation(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "Olive Owl", conv.BotName())
	assert.Equal(t, "mock", engineName)
}

func TestBuildRejectsMissingPersonaFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PersonaFile = filepath.Join(t.TempDir(), "missing.txt")

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildRejectsOpenAIModeWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompletionMode = "openai"

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}
