package page

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
)

// Icons derived from the type field's text.
const (
	IconDeploy  = "📤"
	IconReturn  = "📥"
	IconNeutral = "📄"
)

// NoUser is the sentinel last name for an empty user field.
const NoUser = "NO USER"

// FieldSource supplies the configured field descriptors.
type FieldSource interface {
	Fields() []domain.FieldDescriptor
}

// ContextStore owns one context record per tab id. Only the active
// tab's record is ever refreshed from the DOM: a hidden tab's rendered
// elements do not reflect that tab's own data, so reading them is a
// correctness bug, not an optimization to add.
type ContextStore struct {
	mu        sync.Mutex
	contexts  map[string]*domain.PageContext
	homeTabID string

	tabs      *Registry
	locator   *dom.Locator
	root      func() domain.Node
	fields    FieldSource
	homeLabel string
	logger    *zap.Logger

	// onRefreshed runs unconditionally after every refresh cycle so
	// label painting and the ticker reflect closed-tab cleanup too.
	onRefreshed func()
}

// NewContextStore creates the per-tab context store.
func NewContextStore(tabs *Registry, locator *dom.Locator, root func() domain.Node, fields FieldSource, homeLabel string, logger *zap.Logger) *ContextStore {
	return &ContextStore{
		contexts:  make(map[string]*domain.PageContext),
		tabs:      tabs,
		locator:   locator,
		root:      root,
		fields:    fields,
		homeLabel: homeLabel,
		logger:    logger,
	}
}

// OnRefreshed registers the hook run after every refresh cycle.
func (s *ContextStore) OnRefreshed(fn func()) {
	s.onRefreshed = fn
}

// Context returns the stored record for a tab id.
func (s *ContextStore) Context(tabID string) (domain.PageContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[tabID]
	if !ok {
		return domain.PageContext{}, false
	}
	return *ctx, true
}

// ActiveContext returns the current active tab's record.
func (s *ContextStore) ActiveContext() (domain.PageContext, bool) {
	active := s.tabs.ActiveTab()
	if active == nil {
		return domain.PageContext{}, false
	}
	return s.Context(active.ID)
}

// Refresh reconciles contexts with the current tab bar and re-reads the
// active tab's record from the visible DOM. Runs on tab-bar mutation,
// tab activation and the startup fast-poll timer.
func (s *ContextStore) Refresh() {
	now := time.Now().UnixMilli()
	tabs := s.tabs.ListTabs()

	s.mu.Lock()
	present := make(map[string]bool, len(tabs))
	for _, tab := range tabs {
		present[tab.ID] = true
		if _, ok := s.contexts[tab.ID]; !ok {
			if s.homeTabID == "" {
				s.homeTabID = tab.ID
			}
			s.contexts[tab.ID] = &domain.PageContext{
				TabID:        tab.ID,
				DisplayLabel: s.labelFor(tab.ID, IconNeutral, ""),
				FirstSeen:    now,
			}
			s.logger.Debug("tab tracked", zap.String("tab", tab.ID))
		}
	}
	for id := range s.contexts {
		if !present[id] {
			delete(s.contexts, id)
			s.logger.Debug("tab context discarded", zap.String("tab", id))
		}
	}
	s.mu.Unlock()

	if active := s.tabs.ActiveTab(); active != nil {
		s.refreshActive(*active, now)
	}

	if s.onRefreshed != nil {
		s.onRefreshed()
	}
}

// refreshActive re-reads every tracked read-role field for the active
// tab and recomputes its display label.
func (s *ContextStore) refreshActive(tab domain.TabHandle, now int64) {
	s.mu.Lock()
	ctx, ok := s.contexts[tab.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	snapshot := *ctx
	for _, field := range s.fields.Fields() {
		if !field.Enabled || !field.HasRole(domain.RoleRead) {
			continue
		}
		if field.Multi {
			s.assignMulti(&snapshot, field.Key, s.readPills(field))
		} else {
			s.assignScalar(&snapshot, field.Key, s.readScalar(field))
		}
	}

	snapshot.TypeIcon = typeIcon(snapshot.Type)
	snapshot.UserLastName = ExtractLastName(snapshot.UserFullName)
	snapshot.DisplayLabel = s.labelFor(tab.ID, snapshot.TypeIcon, snapshot.UserLastName)
	snapshot.RefreshedAt = now

	s.mu.Lock()
	if cur, ok := s.contexts[tab.ID]; ok {
		*cur = snapshot
	}
	s.mu.Unlock()
}

// readScalar returns the first visible match's value (or text when the
// element carries no form value).
func (s *ContextStore) readScalar(field domain.FieldDescriptor) string {
	node := dom.FirstVisible(s.locator.FindAll(s.root(), field.Selector, field.SelectorPath))
	if node == nil {
		return ""
	}
	if v := node.Value(); v != "" {
		return v
	}
	return strings.TrimSpace(node.Text())
}

// readPills collects every visible pill token rendered for a
// multi-select field.
func (s *ContextStore) readPills(field domain.FieldDescriptor) []string {
	var pills []string
	for _, node := range s.locator.FindAll(s.root(), field.Selector, field.SelectorPath) {
		if !dom.Visible(node) {
			continue
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			pills = append(pills, text)
		}
	}
	return pills
}

func (s *ContextStore) assignScalar(ctx *domain.PageContext, key, value string) {
	switch key {
	case "type":
		ctx.Type = value
	case "user":
		ctx.UserFullName = value
	case "vehicle":
		ctx.Vehicle = value
	case "control_radio":
		ctx.ControlRadio = value
	case "updated_on":
		ctx.UpdatedOnRaw = value
	}
}

func (s *ContextStore) assignMulti(ctx *domain.PageContext, key string, values []string) {
	switch key {
	case "assets":
		ctx.Assets = values
	case "accessories":
		ctx.Accessories = values
	}
}

// labelFor computes a tab's display label. The first tab ever
// registered always gets the fixed home label regardless of its field
// contents.
func (s *ContextStore) labelFor(tabID, icon, lastName string) string {
	if tabID == s.homeTabID {
		return s.homeLabel
	}
	if lastName == "" {
		lastName = NoUser
	}
	return icon + " | " + lastName
}

// typeIcon derives the tab icon from the type field's text.
func typeIcon(typeText string) string {
	lower := strings.ToLower(typeText)
	switch {
	case strings.Contains(lower, "deploy"):
		return IconDeploy
	case strings.Contains(lower, "return"):
		return IconReturn
	default:
		return IconNeutral
	}
}

// ExtractLastName extracts the uppercased last name from the raw user
// field: the part before the first comma when one is present, otherwise
// the last whitespace-delimited token. Empty input yields NO USER.
func ExtractLastName(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return NoUser
	}
	if before, _, found := strings.Cut(text, ","); found {
		return strings.ToUpper(strings.TrimSpace(before))
	}
	tokens := strings.Fields(text)
	return strings.ToUpper(tokens[len(tokens)-1])
}
