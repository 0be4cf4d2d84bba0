package config

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/natsclient"
)

// KV key layout: "version", "reactions.<id>", "sensors.<id>".
const (
	versionKey      = "version"
	reactionsPrefix = "reactions"
	sensorsPrefix   = "sensors"
)

// Update is a configuration change notification.
type Update struct {
	Key     string      // Changed key, e.g. "reactions.alarm"
	Deleted bool        // The key was deleted or purged
	Config  *SafeConfig // Full latest configuration
}

// Section returns the part of Key before the first dot.
func (u Update) Section() string {
	section, _, _ := strings.Cut(u.Key, ".")
	return section
}

// ID returns the template id part of Key, empty for "version".
func (u Update) ID() string {
	_, id, _ := strings.Cut(u.Key, ".")
	return id
}

// Manager keeps the reaction and sensor templates in a NATS KV bucket in
// sync with the local configuration and fans changes out to subscribers.
type Manager struct {
	config      *SafeConfig
	kv          jetstream.KeyValue
	watcher     jetstream.KeyWatcher
	subscribers map[string][]chan Update
	mu          sync.RWMutex
	logger      *slog.Logger

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// OpenBucket returns the configuration bucket, creating it when needed.
func OpenBucket(ctx context.Context, client *natsclient.Client, bucket string) (jetstream.KeyValue, error) {
	if bucket == "" {
		bucket = DefaultConfigBucket
	}
	return client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "orchd reaction and sensor templates",
		History:     5,
	})
}

// NewManager creates a configuration manager over an open KV bucket.
func NewManager(cfg *Config, kv jetstream.KeyValue, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "New", "check config")
	}
	if kv == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: kv bucket", errors.ErrMissingConfig), "Manager", "New", "check bucket")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:      NewSafeConfig(cfg),
		kv:          kv,
		subscribers: make(map[string][]chan Update),
		logger:      logger.With("component", "config-manager"),
	}, nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to changes of keys matching pattern. Pattern
// examples:
//   - "reactions.alarm" - exact match
//   - "reactions.*" - all reactions
//   - "sensors.udp-*" - sensors whose id starts with udp-
//
// The channel is closed by Stop.
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 16)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	return ch
}

// Start reconciles the bucket with the local configuration and begins
// watching for changes.
func (cm *Manager) Start(ctx context.Context) error {
	cm.shutdownCh = make(chan struct{})

	cm.reconcile(ctx)

	watcher, err := cm.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Start", "watch bucket")
	}
	cm.watcher = watcher

	cm.wg.Add(1)
	go cm.processWatcher(ctx, watcher)
	return nil
}

// reconcile decides the sync direction at startup. An empty bucket gets
// the local configuration; otherwise the newer version wins and equal
// versions take the bucket's content.
func (cm *Manager) reconcile(ctx context.Context) {
	hasConfig, err := cm.hasKVConfig(ctx)
	if err != nil {
		cm.logger.Warn("Failed to check KV config existence", "error", err)
		hasConfig = false
	}

	if !hasConfig {
		cm.logger.Info("Empty config bucket, pushing local config")
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Failed to push initial config to KV", "error", err)
		}
		return
	}

	fileVersion := cm.config.Get().Version
	kvVersion := cm.getKVVersion(ctx)
	if fileVersion == "" {
		fileVersion = "0.0.0"
	}

	cmp, err := CompareVersions(fileVersion, kvVersion)
	switch {
	case err != nil:
		cm.logger.Warn("Failed to compare versions, syncing from KV",
			"file_version", fileVersion, "kv_version", kvVersion, "error", err)
	case cmp > 0:
		cm.logger.Info("Local config is newer than KV, updating KV",
			"file_version", fileVersion, "kv_version", kvVersion)
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Failed to update KV with newer config", "error", err)
		}
		return
	case cmp < 0:
		cm.logger.Warn("Local config is older than KV, using KV config",
			"file_version", fileVersion, "kv_version", kvVersion,
			"hint", "bump version to update KV")
	default:
		cm.logger.Info("Local and KV versions match, syncing from KV", "version", fileVersion)
	}

	if err := cm.syncFromKV(ctx); err != nil {
		cm.logger.Warn("Failed to sync from KV on startup", "error", err)
	}
}

// Stop stops watching and closes every subscriber channel.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if cm.shutdownCh != nil {
		close(cm.shutdownCh)
	}
	if cm.watcher != nil {
		_ = cm.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
	}

	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

func (cm *Manager) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.shutdownCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			op := entry.Operation()
			deleted := op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge
			cm.handleUpdate(entry.Key(), entry.Value(), deleted)
		}
	}
}

func (cm *Manager) handleUpdate(key string, value []byte, deleted bool) {
	if cm.stopped.Load() {
		return
	}

	if err := cm.updateConfig(key, value, deleted); err != nil {
		cm.logger.Error("Failed to update configuration", "key", key, "error", err)
		return
	}

	update := Update{Key: key, Deleted: deleted, Config: cm.config}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if !matchesPattern(key, pattern) {
			continue
		}
		for _, ch := range channels {
			if cm.stopped.Load() {
				return
			}
			select {
			case ch <- update:
			default:
				cm.logger.Warn("Dropping config update for slow subscriber", "key", key, "pattern", pattern)
			}
		}
	}
}

// matchesPattern checks if a key matches a subscription pattern
func matchesPattern(key, pattern string) bool {
	if pattern == key {
		return true
	}

	// "reactions.*" matches "reactions.alarm"
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(key, prefix+".")
	}

	// "sensors.udp-*" matches "sensors.udp-main"
	if before, _, ok := strings.Cut(pattern, "*"); ok {
		return strings.HasPrefix(key, before)
	}

	return false
}

// updateConfig applies one KV entry to the local configuration.
func (cm *Manager) updateConfig(key string, value []byte, deleted bool) error {
	if len(value) > 0 {
		if len(value) > maxConfigSize {
			return fmt.Errorf("config value too large: %d bytes > %d", len(value), maxConfigSize)
		}
		if err := validateJSONDepth(value); err != nil {
			return fmt.Errorf("invalid JSON structure in KV update: %w", err)
		}
	}
	if len(value) == 0 {
		deleted = true
	}

	current := cm.config.Get()

	if key == versionKey {
		if deleted {
			return nil
		}
		var version string
		if err := json.Unmarshal(value, &version); err != nil {
			return fmt.Errorf("parse version: %w", err)
		}
		current.Version = version
		return cm.config.Update(current)
	}

	section, id, ok := strings.Cut(key, ".")
	if !ok || id == "" {
		return fmt.Errorf("%w: key %q", errors.ErrInvalidConfig, key)
	}

	switch section {
	case reactionsPrefix:
		if deleted {
			current.deleteReaction(id)
			break
		}
		var tmpl model.ReactionTemplate
		if err := json.Unmarshal(value, &tmpl); err != nil {
			return fmt.Errorf("parse reaction %s: %w", id, err)
		}
		tmpl.ID = id
		current.setReaction(tmpl)

	case sensorsPrefix:
		if deleted {
			current.deleteSensor(id)
			break
		}
		var tmpl model.SensorTemplate
		if err := json.Unmarshal(value, &tmpl); err != nil {
			return fmt.Errorf("parse sensor %s: %w", id, err)
		}
		tmpl.ID = id
		current.setSensor(tmpl)

	default:
		return nil
	}

	return cm.config.Update(current)
}

// sanitizeKey replaces characters NATS KV keys do not accept.
func sanitizeKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '=' || r == '/':
			return r
		default:
			return '_'
		}
	}, id)
}

// PushToKV writes the version and every template to the bucket.
func (cm *Manager) PushToKV(ctx context.Context) error {
	cfg := cm.config.Get()

	if cfg.Version != "" {
		data, err := json.Marshal(cfg.Version)
		if err != nil {
			return errors.Wrap(err, "Manager", "PushToKV", "marshal version")
		}
		if _, err := cm.kv.Put(ctx, versionKey, data); err != nil {
			return errors.WrapTransient(err, "Manager", "PushToKV", "push version")
		}
	} else {
		cm.logger.Warn("Config version is empty, not pushing version to KV")
	}

	for _, r := range cfg.Reactions {
		if err := cm.put(ctx, reactionsPrefix, r.ID, r); err != nil {
			return err
		}
	}
	for _, s := range cfg.Sensors {
		if err := cm.put(ctx, sensorsPrefix, s.ID, s); err != nil {
			return err
		}
	}
	return nil
}

func (cm *Manager) put(ctx context.Context, section, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "Manager", "PushToKV", "marshal "+section+" "+id)
	}
	key := section + "." + sanitizeKey(id)
	if _, err := cm.kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "Manager", "PushToKV", "push "+key)
	}
	return nil
}

func (cm *Manager) hasKVConfig(ctx context.Context) (bool, error) {
	lister, err := cm.kv.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return false, nil
		}
		return false, fmt.Errorf("list KV keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	for range lister.Keys() {
		return true, nil
	}
	return false, nil
}

// getKVVersion returns the bucket version, "0.0.0" when missing or invalid.
func (cm *Manager) getKVVersion(ctx context.Context) string {
	entry, err := cm.kv.Get(ctx, versionKey)
	if err != nil {
		return "0.0.0"
	}

	var version string
	if err := json.Unmarshal(entry.Value(), &version); err != nil {
		cm.logger.Warn("Failed to parse version from KV, treating as 0.0.0", "error", err)
		return "0.0.0"
	}
	return version
}

// syncFromKV applies every bucket entry to the local configuration without
// notifying subscribers.
func (cm *Manager) syncFromKV(ctx context.Context) error {
	lister, err := cm.kv.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return fmt.Errorf("list KV keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	n := 0
	for key := range lister.Keys() {
		entry, err := cm.kv.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("Failed to get KV entry during sync", "key", key, "error", err)
			continue
		}
		if err := cm.updateConfig(key, entry.Value(), false); err != nil {
			cm.logger.Warn("Failed to apply KV config during sync", "key", key, "error", err)
			continue
		}
		n++
	}

	cm.logger.Info("Synced configuration from KV", "keys", n)
	return nil
}
