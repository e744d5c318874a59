package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_File_Then_Env(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	req.NoError(os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
mode: debug
port: 9000
secret: s
jwt_secret: j
history_backend: badger
negotiation_timeout: 3s
`), 0o644))

	wd, err := os.Getwd()
	req.NoError(err)
	req.NoError(os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CLASSROOM_PORT", "9100")

	// When loading
	cfg, err := Load()

	// Then file values apply, env overrides them and defaults fill the rest
	req.NoError(err)
	req.Equal("debug", cfg.Mode)
	req.Equal(9100, cfg.Port)
	req.Equal(HistoryBadger, cfg.HistoryBackend)
	req.Equal(3*time.Second, cfg.NegotiationTimeout)
	req.Equal(500*time.Millisecond, cfg.NegotiationRetryDelay)
	req.Equal(5, cfg.ReconnectAttempts)
	req.Equal(time.Second, cfg.ReconnectBaseDelay)
	req.Equal(5*time.Second, cfg.ReconnectMaxDelay)
}

func TestValidate(t *testing.T) {
	req := require.New(t)
	cfg := Config{Secret: "s", JWTSecret: "j", HistoryBackend: HistoryMemory, ReconnectAttempts: 5}
	req.NoError(cfg.Validate())

	cfg.HistoryBackend = "mongo"
	req.Error(cfg.Validate())

	cfg.HistoryBackend = HistoryRedis
	cfg.JWTSecret = ""
	req.Error(cfg.Validate())
}

func TestLoadPeer_Needs_No_Secrets(t *testing.T) {
	req := require.New(t)
	wd, err := os.Getwd()
	req.NoError(err)
	req.NoError(os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_ENV", "none")

	cfg, err := LoadPeer()

	req.NoError(err)
	req.Empty(cfg.JWTSecret)
	req.Equal(15*time.Second, cfg.NegotiationTimeout)
	req.Equal([]string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
}
