package page

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
)

// Presenter paints stored display labels onto tab elements. It never
// computes a label itself - that would require reading a hidden tab's
// DOM. Identity follows the tab element, so labels survive drag
// reordering.
type Presenter struct {
	tabs   *Registry
	store  *ContextStore
	logger *zap.Logger
}

// NewPresenter creates the label presenter.
func NewPresenter(tabs *Registry, store *ContextStore, logger *zap.Logger) *Presenter {
	return &Presenter{tabs: tabs, store: store, logger: logger}
}

// PaintAll writes every tab's stored label and tooltip onto its DOM
// element. Tabs without a context are left untouched.
func (p *Presenter) PaintAll() {
	for _, tab := range p.tabs.ListTabs() {
		ctx, ok := p.store.Context(tab.ID)
		if !ok || ctx.DisplayLabel == "" {
			continue
		}
		tab.Node.SetText(ctx.DisplayLabel)
		tab.Node.SetAttr("title", ctx.DisplayLabel)
	}
}

// TickerConfig locates the status ticker element.
type TickerConfig struct {
	Selector string
	Path     []domain.PathStep
}

// DefaultTickerConfig returns the ticker selector.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Selector: "#armorylink-ticker"}
}

// Ticker renders the read-only status line from the active context
// snapshot and the last scan outcome. Followers mirror outcomes
// received over the bus, so every tab shows the same line.
type Ticker struct {
	mu      sync.Mutex
	last    *domain.ScanOutcome
	config  TickerConfig
	locator *dom.Locator
	root    func() domain.Node
	store   *ContextStore
}

// NewTicker creates the ticker renderer.
func NewTicker(config TickerConfig, locator *dom.Locator, root func() domain.Node, store *ContextStore) *Ticker {
	return &Ticker{
		config:  config,
		locator: locator,
		root:    root,
		store:   store,
	}
}

// RecordOutcome stores the most recent scan outcome.
func (t *Ticker) RecordOutcome(outcome domain.ScanOutcome) {
	t.mu.Lock()
	t.last = &outcome
	t.mu.Unlock()
}

// Compose builds the ticker line.
func (t *Ticker) Compose() string {
	ctx, ok := t.store.ActiveContext()

	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	line := ""
	if ok {
		line = fmt.Sprintf("%s %s", ctx.TypeIcon, ctx.UserLastName)
		if ctx.Vehicle != "" {
			line += " · " + ctx.Vehicle
		}
	}
	if last != nil {
		status := "no match"
		if last.Matched {
			status = last.RuleName
		}
		if last.TimedOut {
			status = "timed out"
		}
		line += fmt.Sprintf(" | last scan: %s (%s)", last.Text, status)
	}
	return line
}

// Refresh paints the composed line into the ticker element if present.
func (t *Ticker) Refresh() {
	node := t.locator.FindOne(t.root(), t.config.Selector, t.config.Path)
	if node == nil {
		return
	}
	node.SetText(t.Compose())
}
