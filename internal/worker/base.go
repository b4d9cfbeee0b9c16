// Package worker holds the shared base for background workers: namespaced
// settings in the state store, change deduplication and logging.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

// DefaultDedupSize bounds the processed-change cache.
const DefaultDedupSize = 300

// BaseWorker provides common functionality for all worker implementations
type BaseWorker struct {
	name       string
	workerType string
	cache      *util.Cache
	store      *storage.Store
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// NewBaseWorker creates a new base worker. dedupSize <= 0 uses DefaultDedupSize.
func NewBaseWorker(name, workerType string, store *storage.Store, dedupSize int) (*BaseWorker, error) {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	cache, err := util.NewCache(dedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &BaseWorker{
		name:       name,
		workerType: workerType,
		cache:      cache,
		store:      store,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Name returns the worker's unique name
func (b *BaseWorker) Name() string {
	return b.name
}

// Type returns the worker type
func (b *BaseWorker) Type() string {
	return b.workerType
}

// Context returns the worker's context (for cancellation)
func (b *BaseWorker) Context() context.Context {
	return b.ctx
}

// Store returns the underlying persistent storage
func (b *BaseWorker) Store() *storage.Store {
	return b.store
}

// Stop cancels the worker's context
func (b *BaseWorker) Stop() error {
	b.cancel()
	return nil
}

// StorageKeyPrefix returns the storage key prefix for this worker
func (b *BaseWorker) StorageKeyPrefix() string {
	return settingsPrefix(b.name, b.workerType)
}

// getSettingKey creates a namespaced key for this worker
func (b *BaseWorker) getSettingKey(key string) string {
	return b.StorageKeyPrefix() + key
}

// SetSetting stores a worker-specific setting in persistent storage
func (b *BaseWorker) SetSetting(key, value string) error {
	return b.store.Set(b.getSettingKey(key), value)
}

// GetSetting retrieves a worker-specific setting from persistent storage
func (b *BaseWorker) GetSetting(key string) (string, error) {
	return b.store.Get(b.getSettingKey(key))
}

// GetSettingWithDefault retrieves a setting or returns default if not found
func (b *BaseWorker) GetSettingWithDefault(key, defaultValue string) string {
	return b.store.GetWithDefault(b.getSettingKey(key), defaultValue)
}

// HasSetting checks if a setting exists
func (b *BaseWorker) HasSetting(key string) bool {
	return b.store.Has(b.getSettingKey(key))
}

// DeleteSetting removes a worker-specific setting from persistent storage
func (b *BaseWorker) DeleteSetting(key string) error {
	return b.store.Delete(b.getSettingKey(key))
}

// Settings returns every setting of this worker with the namespace removed.
func (b *BaseWorker) Settings() (map[string]string, error) {
	return ReadSettings(b.store, b.name, b.workerType)
}

// ReadSettings returns the settings a worker persisted without running it.
func ReadSettings(store *storage.Store, name, workerType string) (map[string]string, error) {
	prefix := settingsPrefix(name, workerType)
	out := make(map[string]string)
	err := store.IteratePrefix(prefix, func(key, value string) error {
		out[strings.TrimPrefix(key, prefix)] = value
		return nil
	})
	return out, err
}

func settingsPrefix(name, workerType string) string {
	return fmt.Sprintf("%s-%s-", name, workerType)
}

// Status reports the worker's settings. Workers keep their checkpoints there.
func (b *BaseWorker) Status() map[string]string {
	settings, err := b.Settings()
	if err != nil {
		b.LogWarn("Failed to read settings", "error", err)
		return map[string]string{}
	}
	return settings
}

// IsRepeating reports whether key was already processed with the same
// fingerprint.
func (b *BaseWorker) IsRepeating(key, fingerprint string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cache.Seen(key, fingerprint)
}

// MarkProcessed records the fingerprint processed for key
func (b *BaseWorker) MarkProcessed(key, fingerprint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Set(key, fingerprint)
}

// ForgetProcessed drops key so its next change is processed again
func (b *BaseWorker) ForgetProcessed(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Forget(key)
}

// Logging helpers

// LogInfo logs an informational message
func (b *BaseWorker) LogInfo(msg string, args ...any) {
	allArgs := append([]any{"worker", b.name}, args...)
	slog.Info(msg, allArgs...)
}

// LogDebug logs a debug message
func (b *BaseWorker) LogDebug(msg string, args ...any) {
	allArgs := append([]any{"worker", b.name}, args...)
	slog.Debug(msg, allArgs...)
}

// LogWarn logs a warning message
func (b *BaseWorker) LogWarn(msg string, args ...any) {
	allArgs := append([]any{"worker", b.name}, args...)
	slog.Warn(msg, allArgs...)
}

// LogError logs an error message
func (b *BaseWorker) LogError(msg string, args ...any) {
	allArgs := append([]any{"worker", b.name}, args...)
	slog.Error(msg, allArgs...)
}
