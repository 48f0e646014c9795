// Package page tracks the host page's internal tab bar and the per-tab
// form context.
package page

import (
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
)

// TabsConfig holds the selectors locating the host page's tab bar.
type TabsConfig struct {
	// BarSelector locates the tab-bar container.
	BarSelector string
	// BarPath is the optional traversal path to the bar's document.
	BarPath []domain.PathStep
	// TabSelector matches tab anchor elements inside the bar.
	TabSelector string
	// ActiveClass is the selected-state CSS class.
	ActiveClass string
}

// DefaultTabsConfig returns selectors for the workspace tab bar.
func DefaultTabsConfig() TabsConfig {
	return TabsConfig{
		BarSelector: "[role=tablist]",
		TabSelector: "[role=tab]",
		ActiveClass: "is-active",
	}
}

// Registry enumerates tab-bar entries and decides which is active.
// Tab identity is the stable DOM id of the tab anchor; id-less tabs are
// skipped everywhere and never given synthetic ids, since those would
// not survive reordering.
type Registry struct {
	config  TabsConfig
	locator *dom.Locator
	root    func() domain.Node
	logger  *zap.Logger
}

// NewRegistry creates a tab registry over the current document.
func NewRegistry(config TabsConfig, locator *dom.Locator, root func() domain.Node, logger *zap.Logger) *Registry {
	return &Registry{
		config:  config,
		locator: locator,
		root:    root,
		logger:  logger,
	}
}

// ListTabs returns the identifiable tabs in bar order.
func (r *Registry) ListTabs() []domain.TabHandle {
	bar := r.locator.FindOne(r.root(), r.config.BarSelector, r.config.BarPath)
	if bar == nil {
		return nil
	}

	var tabs []domain.TabHandle
	for _, node := range bar.Select(r.config.TabSelector) {
		id, ok := node.Attr("id")
		if !ok || id == "" {
			// Unidentifiable; downstream consumers must not see it.
			continue
		}
		tabs = append(tabs, domain.TabHandle{ID: id, Node: node})
	}
	return tabs
}

// ActiveTab returns the tab carrying the selected-state marker, or nil.
// The explicit aria-selected attribute wins over the CSS class when
// both are present and disagree.
func (r *Registry) ActiveTab() *domain.TabHandle {
	for _, tab := range r.ListTabs() {
		if r.isActive(tab) {
			t := tab
			return &t
		}
	}
	return nil
}

// IDOf returns a tab's stable identity, or "".
func (r *Registry) IDOf(tab domain.TabHandle) string {
	return tab.ID
}

func (r *Registry) isActive(tab domain.TabHandle) bool {
	aria, hasAria := tab.Node.Attr("aria-selected")
	class, _ := tab.Node.Attr("class")
	byClass := hasClassToken(class, r.config.ActiveClass)

	if hasAria {
		byAria := aria == "true"
		if byAria != byClass && class != "" {
			r.logger.Warn("tab selected-state markers disagree, trusting aria-selected",
				zap.String("tab", tab.ID),
				zap.Bool("aria", byAria),
				zap.Bool("class", byClass))
		}
		return byAria
	}
	return byClass
}

func hasClassToken(classAttr, want string) bool {
	if want == "" {
		return false
	}
	start := 0
	for i := 0; i <= len(classAttr); i++ {
		if i == len(classAttr) || classAttr[i] == ' ' {
			if classAttr[start:i] == want {
				return true
			}
			start = i + 1
		}
	}
	return false
}
