package dom

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// WriterConfig holds field writer timing and selectors.
type WriterConfig struct {
	// SuggestTimeout bounds waiting for a reference field's suggestion
	// dropdown to render.
	SuggestTimeout time.Duration
	// CommitTimeout bounds waiting for a reference field's committed
	// value to appear.
	CommitTimeout time.Duration
	// PollInterval is the step of both waits.
	PollInterval time.Duration
	// SuggestionSelector matches rendered typeahead suggestions.
	SuggestionSelector string
}

// DefaultWriterConfig returns default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		SuggestTimeout:     5 * time.Second,
		CommitTimeout:      3 * time.Second,
		PollInterval:       150 * time.Millisecond,
		SuggestionSelector: "[role=option], .ac-row, .sn-suggestion",
	}
}

// Writer implements domain.FieldWriter against the active document.
// Plain fields get a direct value write; reference fields follow the
// interactive suggestion protocol. A failed step reports false and the
// caller surfaces a warning; already-issued side effects (text typed
// into the widget) are not rolled back.
type Writer struct {
	config  WriterConfig
	locator *Locator
	root    func() domain.Node
	logger  *zap.Logger
}

// NewWriter creates a field writer. root supplies the current active
// document on every write, so a stale node is never reused across tab
// switches.
func NewWriter(config WriterConfig, locator *Locator, root func() domain.Node, logger *zap.Logger) *Writer {
	return &Writer{
		config:  config,
		locator: locator,
		root:    root,
		logger:  logger,
	}
}

// WriteField writes one value into a configured field.
func (w *Writer) WriteField(field domain.FieldDescriptor, value string) bool {
	node := w.locator.FindOne(w.root(), field.Selector, field.SelectorPath)
	if node == nil || !Visible(node) {
		w.logger.Warn("field not found or not visible",
			zap.String("field", field.Key),
			zap.String("selector", field.Selector))
		return false
	}

	if field.Reference {
		return w.writeReference(node, field, value)
	}

	node.SetValue(value)
	w.fireInput(node, field)
	return true
}

// writeReference runs the five-step interactive protocol: type the
// value and fire events, wait for a matching suggestion, click it, wait
// for the committed value, fire the commit event.
func (w *Writer) writeReference(node domain.Node, field domain.FieldDescriptor, value string) bool {
	ctx := context.Background()

	node.SetValue(value)
	if err := node.Dispatch("input"); err != nil {
		w.logger.Warn("input event failed", zap.String("field", field.Key), zap.Error(err))
	}
	_ = node.Dispatch("change")

	var suggestion domain.Node
	ok := PollUntil(ctx, func() bool {
		suggestion = w.findSuggestion(value)
		return suggestion != nil
	}, w.config.PollInterval, w.config.SuggestTimeout)
	if !ok {
		w.logger.Warn("no suggestion rendered within timeout",
			zap.String("field", field.Key),
			zap.String("value", value))
		return false
	}

	if err := suggestion.Click(); err != nil {
		w.logger.Warn("suggestion click failed", zap.String("field", field.Key), zap.Error(err))
		return false
	}

	want := strings.ToLower(strings.TrimSpace(value))
	ok = PollUntil(ctx, func() bool {
		return strings.Contains(strings.ToLower(node.Value()), want)
	}, w.config.PollInterval, w.config.CommitTimeout)
	if !ok {
		w.logger.Warn("committed value never appeared",
			zap.String("field", field.Key),
			zap.String("expected", value))
		return false
	}

	if field.CommitEvent != "" {
		_ = node.Dispatch(field.CommitEvent)
	}
	return true
}

// findSuggestion locates the first visible suggestion whose text
// contains the typed value (case-insensitive).
func (w *Writer) findSuggestion(value string) domain.Node {
	want := strings.ToLower(strings.TrimSpace(value))
	for _, n := range w.locator.FindAll(w.root(), w.config.SuggestionSelector, nil) {
		if !Visible(n) {
			continue
		}
		if strings.Contains(strings.ToLower(n.Text()), want) {
			return n
		}
	}
	return nil
}

func (w *Writer) fireInput(node domain.Node, field domain.FieldDescriptor) {
	_ = node.Dispatch("input")
	_ = node.Dispatch("change")
	if field.CommitEvent != "" {
		_ = node.Dispatch(field.CommitEvent)
	}
}

// Ensure Writer implements domain.FieldWriter.
var _ domain.FieldWriter = (*Writer)(nil)
