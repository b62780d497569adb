package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaviohq/onboardd/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 6*time.Second, cfg.Debounce.Window)
	assert.Equal(t, "exit", cfg.Debounce.ExitToken)
	assert.Equal(t, "TERMINATE", cfg.Turn.Marker)
	assert.Equal(t, 15*time.Minute, cfg.Turn.ConversationTimeout)
	assert.Equal(t, 10*time.Minute, cfg.FollowUp.IdleWindow)
	assert.Equal(t, 30*time.Second, cfg.FollowUp.GraceWindow)
	assert.Equal(t, 168*time.Hour, cfg.Expiry.MaxIdle)
	assert.Equal(t, 60*time.Second, cfg.Delivery.Tick)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
debounce:
  window: 2s
  exit_token: sair
turn:
  marker: HANDOFF
delivery:
  webhook_url: https://hooks.example.com/outbound
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Debounce.Window)
	assert.Equal(t, "sair", cfg.Debounce.ExitToken)
	assert.Equal(t, "HANDOFF", cfg.Turn.Marker)
	assert.Equal(t, "https://hooks.example.com/outbound", cfg.Delivery.WebhookURL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ONBOARDD_SERVER_ADDR", ":8081")
	t.Setenv("ONBOARDD_TURN_MARKER", "EXIT")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "EXIT", cfg.Turn.Marker)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
