package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CHAT_TITLE_TIMEOUT", "")
	t.Setenv("EXTRACT_RETRY_LIMIT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("RAG_DOCS_DIR", "")
	t.Setenv("RAG_TOP_K", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Chat.TitleTimeout)
	assert.Equal(t, 2, cfg.Chat.ExtractRetryLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.RAG.DocsDir)
	assert.Equal(t, 5, cfg.RAG.TopK)
}

func TestLoadRAGOverrides(t *testing.T) {
	t.Setenv("RAG_DOCS_DIR", " ./docs ")
	t.Setenv("RAG_TOP_K", "3")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./docs", cfg.RAG.DocsDir)
	assert.Equal(t, 3, cfg.RAG.TopK)

	t.Setenv("RAG_TOP_K", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://localhost:5173 ,,https://chat.example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://chat.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadServerAddrForms(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "90 00")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadChatOverrides(t *testing.T) {
	t.Setenv("CHAT_TITLE_TIMEOUT", "5s")
	t.Setenv("EXTRACT_RETRY_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Chat.TitleTimeout)
	assert.Equal(t, 1, cfg.Chat.ExtractRetryLimit)

	t.Setenv("CHAT_TITLE_TIMEOUT", "soon")
	_, err = Load()
	require.Error(t, err)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{APIKey: "k", Model: "m"}.Enabled())
	assert.True(t, AIConfig{AccessKey: "a", SecretKey: "s", Model: "m"}.Enabled())
	assert.False(t, AIConfig{AccessKey: "a", Model: "m"}.Enabled())
}

func TestLoadRejectsBadFloat(t *testing.T) {
	t.Setenv("ARK_TEMPERATURE", "warm")
	_, err := Load()
	require.Error(t, err)
}
