package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherConfig = `{
	"database": {"driver": "sqlite3", "path": "data/wahagate.db"},
	"rate_limits": {
		"defaults": [{"limit_type": "messages_per_minute", "threshold": 60, "window_seconds": 60}]
	},
	"retention_days": 30
}`

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// syncLog is a logger whose output can be read while callbacks still log
func syncLog() (*logrus.Logger, func() string) {
	var mu sync.Mutex
	var out strings.Builder
	logger := logrus.New()
	logger.SetOutput(struct{ io.Writer }{writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})})
	return logger, func() string {
		mu.Lock()
		defer mu.Unlock()
		return out.String()
	}
}

func TestNewConfigWatcher(t *testing.T) {
	logger := logrus.New()
	configPath := "/path/to/config.json"

	watcher := NewConfigWatcher(configPath, logger)

	assert.NotNil(t, watcher)
	assert.Equal(t, configPath, watcher.configPath)
	assert.Equal(t, 5*time.Second, watcher.interval)
	assert.Len(t, watcher.callbacks, 0)
	assert.Nil(t, watcher.GetConfig())
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	watcher := NewConfigWatcher("/nonexistent/config.json", logrus.New())

	err := watcher.Start(context.Background())
	assert.Error(t, err)
}

func TestConfigWatcher_Start_ValidConfig(t *testing.T) {
	watcher := NewConfigWatcher(writeConfig(t, watcherConfig), logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, watcher.Start(ctx))

	config := watcher.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "data/wahagate.db", config.Database.Path)
	assert.Len(t, config.RateLimits.Defaults, 1)
}

func TestConfigWatcher_DetectsFileChange(t *testing.T) {
	path := writeConfig(t, watcherConfig)
	watcher := NewConfigWatcher(path, logrus.New())
	watcher.interval = 20 * time.Millisecond

	reloaded := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(c *models.Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 10*time.Millisecond)

	updated := strings.Replace(watcherConfig, `"threshold": 60`, `"threshold": 5`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case c := <-reloaded:
		assert.Equal(t, 5, c.RateLimits.Defaults[0].Threshold)
	case <-time.After(2 * time.Second):
		t.Fatal("configuration change was not picked up")
	}
}

func TestConfigWatcher_ReloadConfig(t *testing.T) {
	path := writeConfig(t, watcherConfig)
	logger, logs := syncLog()
	watcher := NewConfigWatcher(path, logger)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	watcher.config = config

	received := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(c *models.Config) { received <- c })

	updated := strings.Replace(watcherConfig, `"retention_days": 30`, `"retention_days": 60`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	watcher.reloadConfig()

	select {
	case c := <-received:
		assert.Equal(t, 60, c.RetentionDays)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Equal(t, 60, watcher.GetConfig().RetentionDays)
	assert.Contains(t, logs(), "Configuration reloaded successfully")
	assert.Contains(t, logs(), "Retention settings changed")
}

func TestConfigWatcher_ReloadConfig_InvalidFile(t *testing.T) {
	path := writeConfig(t, watcherConfig)
	logger, logs := syncLog()
	watcher := NewConfigWatcher(path, logger)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	watcher.config = config

	called := false
	watcher.OnConfigChange(func(*models.Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte(`invalid json`), 0600))
	watcher.reloadConfig()

	assert.Contains(t, logs(), "Failed to reload configuration")
	assert.Same(t, config, watcher.GetConfig())
	assert.False(t, called)
}

func TestConfigWatcher_CallbackPanic(t *testing.T) {
	path := writeConfig(t, watcherConfig)
	logger, logs := syncLog()
	watcher := NewConfigWatcher(path, logger)

	watcher.OnConfigChange(func(*models.Config) {
		panic("test panic")
	})
	watcher.reloadConfig()

	assert.Eventually(t, func() bool {
		return strings.Contains(logs(), "Config change callback panicked")
	}, time.Second, 5*time.Millisecond)
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	logger, logs := syncLog()
	watcher := NewConfigWatcher("/path/to/config.json", logger)

	oldConfig := &models.Config{
		RetentionDays:        30,
		CleanupIntervalHours: 24,
		RateLimits: models.RateLimitConfig{Defaults: []models.RateLimitRule{
			{LimitType: "messages_per_minute", Threshold: 60, WindowSeconds: 60},
		}},
	}
	newConfig := &models.Config{
		RetentionDays:        60,
		CleanupIntervalHours: 12,
		RateLimits: models.RateLimitConfig{Defaults: []models.RateLimitRule{
			{LimitType: "messages_per_minute", Threshold: 30, WindowSeconds: 60},
		}},
	}

	watcher.logConfigChanges(oldConfig, newConfig)

	assert.Contains(t, logs(), "Retention settings changed")
	assert.Contains(t, logs(), "Rate limit rules changed")
}

func TestDiffConfig(t *testing.T) {
	base := func() *models.Config {
		return &models.Config{
			RetentionDays:        30,
			CleanupIntervalHours: 24,
			RateLimits: models.RateLimitConfig{Defaults: []models.RateLimitRule{
				{LimitType: "messages_per_minute", Threshold: 60, WindowSeconds: 60},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.Config)
		want   ConfigChanges
	}{
		{"unchanged", func(*models.Config) {}, ConfigChanges{}},
		{"cleanup interval", func(c *models.Config) { c.CleanupIntervalHours = 6 }, ConfigChanges{Retention: true}},
		{"retention days", func(c *models.Config) { c.RetentionDays = 7 }, ConfigChanges{Retention: true}},
		{"rate limits", func(c *models.Config) { c.RateLimits.Defaults[0].Threshold = 1 }, ConfigChanges{RateLimits: true}},
		{"restart-only setting", func(c *models.Config) { c.Server.Port = 9999 }, ConfigChanges{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base()
			tt.mutate(next)
			got := DiffConfig(base(), next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != ConfigChanges{}, got.Any())
		})
	}

	assert.False(t, DiffConfig(nil, base()).Any())
}

func TestConfigWatcher_CallbacksRunInOrder(t *testing.T) {
	path := writeConfig(t, watcherConfig)
	watcher := NewConfigWatcher(path, logrus.New())

	var order []int
	watcher.OnConfigChange(func(*models.Config) { order = append(order, 1) })
	watcher.OnConfigChange(func(*models.Config) { panic("second") })
	watcher.OnConfigChange(func(*models.Config) { order = append(order, 3) })

	watcher.reloadConfig()
	assert.Equal(t, []int{1, 3}, order, "a panicking callback does not stop the rest")
}

func TestConfigWatcher_LogConfigChanges_NilOldConfig(t *testing.T) {
	logger, logs := syncLog()
	watcher := NewConfigWatcher("/path/to/config.json", logger)

	watcher.logConfigChanges(nil, &models.Config{RetentionDays: 60})

	assert.Equal(t, "", logs())
}
