package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Broker)
	assert.Equal(t, []string{"btc-usdt"}, cfg.Symbols)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.LockDuration))
	assert.Equal(t, 10*time.Second, time.Duration(cfg.PegInterval))
	assert.Equal(t, 10, cfg.MaxModifications)
	assert.Equal(t, 3, cfg.NotificationRetries)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"-broker", "paper",
		"-symbols", "btc-usdt, eth-usdt,",
		"-lock-duration", "5s",
		"-max-modifications", "3",
		"-sqlite-path", "orders.db",
	})
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Broker)
	assert.Equal(t, []string{"btc-usdt", "eth-usdt"}, cfg.Symbols)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.LockDuration))
	assert.Equal(t, 3, cfg.MaxModifications)
	assert.Equal(t, "orders.db", cfg.SQLitePath)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker: "wallex"
wallex_api_key: "file-key"
feed_url: "wss://example.com/stream"
symbols: ["btc-usdt", "eth-usdt"]
lock_duration: "90s"
max_modifications: 5
`), 0o644))

	t.Run("file values apply", func(t *testing.T) {
		cfg, err := Load([]string{"-config", path})
		require.NoError(t, err)
		assert.Equal(t, "wallex", cfg.Broker)
		assert.Equal(t, "file-key", cfg.WallexAPIKey)
		assert.Equal(t, "wss://example.com/stream", cfg.FeedURL)
		assert.Equal(t, []string{"btc-usdt", "eth-usdt"}, cfg.Symbols)
		assert.Equal(t, 90*time.Second, time.Duration(cfg.LockDuration))
		assert.Equal(t, 5, cfg.MaxModifications)
		// Fields the file leaves out keep their defaults.
		assert.Equal(t, 10*time.Second, time.Duration(cfg.PegInterval))
	})

	t.Run("explicit flags win over the file", func(t *testing.T) {
		cfg, err := Load([]string{"-config", path, "-broker", "sim", "-lock-duration", "1s"})
		require.NoError(t, err)
		assert.Equal(t, "sim", cfg.Broker)
		assert.Equal(t, time.Second, time.Duration(cfg.LockDuration))
		assert.Equal(t, []string{"btc-usdt", "eth-usdt"}, cfg.Symbols)
	})

	t.Run("bad duration is rejected", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("lock_duration: nope\n"), 0o644))
		_, err := Load([]string{"-config", bad})
		assert.ErrorContains(t, err, "invalid duration")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")})
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestWallexKeyFromEnvironment(t *testing.T) {
	t.Setenv("WALLEX_API_KEY", "env-key")
	cfg, err := Load([]string{"-broker", "wallex"})
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.WallexAPIKey)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown broker", func(c *Config) { c.Broker = "bogus" }, "unknown broker"},
		{"wallex without key", func(c *Config) { c.Broker = "wallex" }, "requires an api key"},
		{"negative cap", func(c *Config) { c.MaxModifications = -1 }, "cannot be negative"},
		{"negative duration", func(c *Config) { c.PegInterval = Duration(-time.Second) }, "cannot be negative"},
		{"inverted band", func(c *Config) { c.PriceLow, c.PriceHigh = 110, 100 }, "inverted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.wantErr)
		})
	}

	assert.NoError(t, Defaults().Validate())
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.WallexAPIKey = "supersecretkey"
	cfg.TelegramToken = "bot123:token456"
	cfg.PostgresDSN = "host=localhost password=hunter2"

	s := cfg.String()
	assert.NotContains(t, s, "supersecretkey")
	assert.NotContains(t, s, "token456")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "su****ey")
}
