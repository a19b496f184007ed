package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/config"
)

// resetFlags restores the package flag state tests mutate.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath = ""
		sessionName = ""
		nicknameFlag = ""
		redisAddr = ""
		relayURL = ""
	})
}

func TestLoadConfigFromFlagsOnly(t *testing.T) {
	resetFlags(t)
	sessionName = "standup"
	nicknameFlag = "alice"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "standup", cfg.Session)
	assert.Equal(t, "alice", cfg.Nickname)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, config.DefaultRedisAddr, cfg.Transport.RedisAddr)
}

func TestLoadConfigRequiresSession(t *testing.T) {
	resetFlags(t)

	_, err := loadConfig()
	require.Error(t, err)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "huddle.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0"
session: from-file
nickname: filenick
transport:
  kind: redis
`), 0o644))

	configPath = path
	sessionName = "from-flag"
	relayURL = "ws://relay.local:9000/ws"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Session)
	assert.Equal(t, "filenick", cfg.Nickname)
	assert.Equal(t, "relay", cfg.Transport.Kind, "relay flag switches the transport")
	assert.Equal(t, "ws://relay.local:9000/ws", cfg.Transport.RelayURL)
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "huddle.yml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"9.9\"\n"), 0o644))
	configPath = path

	_, err := loadConfig()
	require.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"relay", "counter", "game", "watch"} {
		assert.True(t, names[want], "command %s should be registered", want)
	}
}
