package policy

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// Bucket names in the key/value store.
const (
	BucketFields   = "fields"
	BucketRules    = "rules"
	BucketPrefixes = "prefixes"
	BucketMacros   = "macros"
	BucketSettings = "settings"
)

// Buckets lists every configuration bucket name, in export order.
func Buckets() []string {
	return []string{BucketFields, BucketRules, BucketPrefixes, BucketMacros, BucketSettings}
}

// ConfigStore reads and writes the persisted configuration buckets. Any
// absent bucket falls back to built-in defaults; a partially malformed
// entry is skipped without aborting the rest of its bucket.
type ConfigStore struct {
	mu     sync.Mutex
	store  domain.KeyValueStore
	logger *zap.Logger
}

// NewConfigStore creates a configuration store over a key/value store.
func NewConfigStore(store domain.KeyValueStore, logger *zap.Logger) *ConfigStore {
	return &ConfigStore{store: store, logger: logger}
}

// Seed writes built-in defaults for every absent bucket. Run once at
// startup.
func (c *ConfigStore) Seed() {
	var probe json.RawMessage
	if !c.store.Get(BucketFields, &probe) {
		c.store.Set(BucketFields, DefaultFields())
	}
	probe = nil
	if !c.store.Get(BucketRules, &probe) {
		c.store.Set(BucketRules, DefaultRules())
	}
	probe = nil
	if !c.store.Get(BucketPrefixes, &probe) {
		c.store.Set(BucketPrefixes, DefaultPrefixes())
	}
	probe = nil
	if !c.store.Get(BucketSettings, &probe) {
		c.store.Set(BucketSettings, domain.DefaultSettings())
	}
}

// Fields returns the configured fields, skipping malformed entries.
func (c *ConfigStore) Fields() []domain.FieldDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []json.RawMessage
	if !c.store.Get(BucketFields, &entries) {
		return DefaultFields()
	}

	var out []domain.FieldDescriptor
	for _, raw := range entries {
		var f domain.FieldDescriptor
		if err := json.Unmarshal(raw, &f); err != nil || f.Key == "" || f.Selector == "" {
			c.warnSkipped(BucketFields, err)
			continue
		}
		out = append(out, f)
	}
	return out
}

// FieldByKey returns one enabled field descriptor.
func (c *ConfigStore) FieldByKey(key string) (domain.FieldDescriptor, bool) {
	for _, f := range c.Fields() {
		if f.Key == key && f.Enabled {
			return f, true
		}
	}
	return domain.FieldDescriptor{}, false
}

// Rules returns the stored rules in order, skipping malformed entries.
func (c *ConfigStore) Rules() []domain.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []json.RawMessage
	if !c.store.Get(BucketRules, &entries) {
		return DefaultRules()
	}

	var out []domain.Rule
	for _, raw := range entries {
		var r domain.Rule
		if err := json.Unmarshal(raw, &r); err != nil || r.Pattern == "" {
			c.warnSkipped(BucketRules, err)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Prefixes returns the stored prefixes, skipping malformed entries.
func (c *ConfigStore) Prefixes() []domain.Prefix {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []json.RawMessage
	if !c.store.Get(BucketPrefixes, &entries) {
		return DefaultPrefixes()
	}

	var out []domain.Prefix
	for _, raw := range entries {
		var p domain.Prefix
		if err := json.Unmarshal(raw, &p); err != nil || p.Value == "" {
			c.warnSkipped(BucketPrefixes, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Macros returns the stored macros, skipping unnamed or empty entries.
func (c *ConfigStore) Macros() []domain.Macro {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []json.RawMessage
	if !c.store.Get(BucketMacros, &entries) {
		return nil
	}

	var out []domain.Macro
	for _, raw := range entries {
		var m domain.Macro
		if err := json.Unmarshal(raw, &m); err != nil || m.Name == "" || len(m.Lines) == 0 {
			c.warnSkipped(BucketMacros, err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// Settings returns the settings bucket or defaults.
func (c *ConfigStore) Settings() domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := domain.DefaultSettings()
	c.store.Get(BucketSettings, &settings)
	if settings.DuplicateWindowMs <= 0 {
		settings.DuplicateWindowMs = domain.DefaultSettings().DuplicateWindowMs
	}
	if settings.ScanTimeoutMs <= 0 {
		settings.ScanTimeoutMs = domain.DefaultSettings().ScanTimeoutMs
	}
	switch settings.CaptureMode {
	case domain.CaptureOn, domain.CaptureStandby, domain.CaptureOff:
	default:
		settings.CaptureMode = domain.DefaultSettings().CaptureMode
	}
	return settings
}

// SaveSettings persists the settings bucket.
func (c *ConfigStore) SaveSettings(s domain.Settings) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Set(BucketSettings, s)
}

func (c *ConfigStore) warnSkipped(bucket string, err error) {
	c.logger.Warn("skipping malformed config entry",
		zap.String("bucket", bucket),
		zap.Error(err))
}
