// Package usecase contains application business logic.
package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// PrefixManager tracks the single process-wide active prefix and its
// remaining-use counter.
type PrefixManager struct {
	mu        sync.Mutex
	active    *domain.Prefix
	remaining int
	logger    *zap.Logger
}

// NewPrefixManager creates an empty prefix manager.
func NewPrefixManager(logger *zap.Logger) *PrefixManager {
	return &PrefixManager{logger: logger}
}

// Activate arms a prefix with its sticky count. Activating while
// another prefix is active replaces it.
func (m *PrefixManager) Activate(p domain.Prefix) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := p.StickyCount
	if count <= 0 {
		count = 1
	}
	m.active = &p
	m.remaining = count
	m.logger.Info("prefix activated",
		zap.String("prefix", p.Label),
		zap.Int("remaining", count))
}

// Toggle deactivates p when it is already the active prefix, and
// activates it otherwise. Reports whether p is active afterwards.
func (m *PrefixManager) Toggle(p domain.Prefix) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Label == p.Label {
		m.active = nil
		m.remaining = 0
		m.logger.Info("prefix deactivated", zap.String("prefix", p.Label))
		return false
	}

	count := p.StickyCount
	if count <= 0 {
		count = 1
	}
	m.active = &p
	m.remaining = count
	m.logger.Info("prefix activated",
		zap.String("prefix", p.Label),
		zap.Int("remaining", count))
	return true
}

// Deactivate clears the active prefix.
func (m *PrefixManager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	m.remaining = 0
}

// Active returns the current prefix and its remaining uses.
func (m *PrefixManager) Active() (domain.Prefix, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return domain.Prefix{}, 0, false
	}
	return *m.active, m.remaining, true
}

// Apply prepends the active prefix to one scan and decrements the
// counter, auto-deactivating at zero. With no active prefix the text
// passes through unchanged.
func (m *PrefixManager) Apply(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return text
	}

	out := m.active.Value + text
	m.remaining--
	if m.remaining <= 0 {
		m.logger.Debug("prefix exhausted", zap.String("prefix", m.active.Label))
		m.active = nil
		m.remaining = 0
	}
	return out
}
