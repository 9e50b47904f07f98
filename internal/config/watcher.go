package config

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
)

// settleDelay lets an editor finish writing before the file is parsed
const settleDelay = 100 * time.Millisecond

// ConfigChanges lists the hot-reloadable sections that differ between two loads
type ConfigChanges struct {
	RateLimits bool
	Retention  bool
}

// Any reports whether a reloadable section changed
func (c ConfigChanges) Any() bool {
	return c.RateLimits || c.Retention
}

// DiffConfig compares the reloadable sections of two configurations
func DiffConfig(old, new *models.Config) ConfigChanges {
	if old == nil || new == nil {
		return ConfigChanges{}
	}
	return ConfigChanges{
		RateLimits: !reflect.DeepEqual(old.RateLimits, new.RateLimits),
		Retention:  old.RetentionDays != new.RetentionDays || old.CleanupIntervalHours != new.CleanupIntervalHours,
	}
}

// ConfigWatcher polls the configuration file by modification time and hands
// every successful reload to the registered callbacks, in registration order.
// Rate limit rules and marker retention are applied live; everything else
// needs a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	modTime   time.Time
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   time.Duration(constants.DefaultConfigWatchIntervalSec) * time.Second,
		logger:     logger,
	}
}

// Start loads the file once and then polls it until ctx is done. It only
// returns an error when the initial load fails.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = cfg
	cw.modTime = stat.ModTime()
	cw.mu.Unlock()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			if cw.modified() {
				time.Sleep(settleDelay)
				cw.reloadConfig()
			}
		}
	}
}

// modified reports whether the file changed since the last load
func (cw *ConfigWatcher) modified() bool {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to stat configuration file")
		return false
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if !stat.ModTime().After(cw.modTime) {
		return false
	}
	cw.modTime = stat.ModTime()
	return true
}

func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig swaps in the file's current content. A file that fails to
// load leaves the previous configuration in place.
func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append([]func(*models.Config){}, cw.callbacks...)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")
	cw.logConfigChanges(prev, next)

	for _, cb := range callbacks {
		cw.notify(cb, next)
	}
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(cfg)
}

func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	changes := DiffConfig(old, new)
	if changes.Retention {
		cw.logger.WithFields(logrus.Fields{
			"retention_days":         new.RetentionDays,
			"cleanup_interval_hours": new.CleanupIntervalHours,
		}).Info("Retention settings changed")
	}
	if changes.RateLimits {
		cw.logger.WithFields(logrus.Fields{
			"default_rules":     len(new.RateLimits.Defaults),
			"session_overrides": len(new.RateLimits.Sessions),
		}).Info("Rate limit rules changed")
	}
}
