package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/config"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, config.StoreFile, cfg.Trust.Store)
		assert.Equal(t, config.PolicyPrompt, cfg.Trust.Policy)
		assert.Equal(t, 5, cfg.Client.MaxRedirects)
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		cfg, err := config.Parse([]byte(`
client:
  read_timeout: 3s
trust:
  store: memory
  policy: once
watch:
  interval: 30s
  capsules:
    - url: gemini://capsule.test/
    - name: mirror
      url: gemini://mirror.test/
      timeout: 2s
`))
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, cfg.Client.ReadTimeout)
		assert.Equal(t, config.StoreMemory, cfg.Trust.Store)
		assert.Equal(t, config.PolicyOnce, cfg.Trust.Policy)
		require.Len(t, cfg.Watch.Capsules, 2)
		assert.Equal(t, "gemini://capsule.test/", cfg.Watch.Capsules[0].Name)
		assert.Equal(t, cfg.Watch.Timeout, cfg.Watch.Capsules[0].Timeout)
		assert.Equal(t, 2*time.Second, cfg.Watch.Capsules[1].Timeout)
		assert.NoError(t, cfg.Watch.Validate())
	})

	t.Run("environment overrides yaml", func(t *testing.T) {
		t.Setenv("CARTOUCHE_TRUST_STORE", "redis")
		t.Setenv("CARTOUCHE_TRUST_REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("CARTOUCHE_LOG_LEVEL", "debug")

		cfg, err := config.Parse([]byte("trust:\n  store: memory\n"))
		require.NoError(t, err)
		assert.Equal(t, config.StoreRedis, cfg.Trust.Store)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Trust.RedisURL)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("invalid values", func(t *testing.T) {
		cases := map[string]string{
			"unknown store":       "trust:\n  store: s3\n",
			"redis without url":   "trust:\n  store: redis\n",
			"script without src":  "trust:\n  policy: script\n",
			"unknown policy":      "trust:\n  policy: maybe\n",
			"bad log level":       "log:\n  level: loud\n",
			"capsule without url": "watch:\n  capsules:\n    - name: x\n",
			"malformed yaml":      "trust: [",
		}
		for name, doc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := config.Parse([]byte(doc))
				assert.Error(t, err)
			})
		}
	})
}

func TestWatchValidate(t *testing.T) {
	w := config.DefaultConfig().Watch
	assert.Error(t, w.Validate())

	w.Capsules = []config.Capsule{{Name: "a", URL: "gemini://a.test/"}}
	assert.NoError(t, w.Validate())

	w.Concurrency = 0
	assert.Error(t, w.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cartouche.yaml")
		require.NoError(t, os.WriteFile(path, []byte("trust:\n  store: memory\n"), 0o600))

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.StoreMemory, cfg.Trust.Store)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
