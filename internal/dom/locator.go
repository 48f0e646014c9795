// Package dom implements deep element location, visibility checks and
// field writing over the domain.Node capability interface.
package dom

import (
	"errors"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// Locator resolves selectors against the host page tree, piercing
// nested shadow roots and same-origin iframes. It answers "does a
// matching element exist"; visibility is the caller's concern.
type Locator struct {
	logger *zap.Logger
}

// NewLocator creates a locator.
func NewLocator(logger *zap.Logger) *Locator {
	return &Locator{logger: logger}
}

// FindOne resolves a selector to the first matching element in
// traversal order, or nil. When a path is supplied it is walked
// deterministically and the selector runs only in the final document;
// any unavailable step fails closed.
func (l *Locator) FindOne(root domain.Node, selector string, path []domain.PathStep) domain.Node {
	if root == nil || selector == "" {
		return nil
	}

	if len(path) > 0 {
		doc := l.walkPath(root, path)
		if doc == nil {
			return nil
		}
		matches := doc.Select(selector)
		if len(matches) == 0 {
			return nil
		}
		return matches[0]
	}

	found := l.deepSearch(root, selector, 1)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// FindAll accumulates matches across all reachable roots. Traversal
// exclusivity is the only duplicate suppression.
func (l *Locator) FindAll(root domain.Node, selector string, path []domain.PathStep) []domain.Node {
	if root == nil || selector == "" {
		return nil
	}

	if len(path) > 0 {
		doc := l.walkPath(root, path)
		if doc == nil {
			return nil
		}
		return doc.Select(selector)
	}

	return l.deepSearch(root, selector, 0)
}

// walkPath descends through iframe/shadow steps. Returns nil the moment
// any step's anchor or same-origin document is unavailable.
func (l *Locator) walkPath(root domain.Node, path []domain.PathStep) domain.Node {
	current := root
	for _, step := range path {
		anchors := current.Select(step.Selector)
		if len(anchors) == 0 {
			return nil
		}
		anchor := anchors[0]

		switch step.Kind {
		case domain.StepIframe:
			doc, err := anchor.FrameDocument()
			if err != nil || doc == nil {
				if errors.Is(err, domain.ErrCrossOrigin) {
					l.logger.Debug("selector path hit cross-origin frame",
						zap.String("step", step.Selector))
				}
				return nil
			}
			current = doc
		case domain.StepShadow:
			shadow := anchor.ShadowRoot()
			if shadow == nil {
				return nil
			}
			current = shadow
		default:
			return nil
		}
	}
	return current
}

// deepSearch checks the direct DOM first, then every open shadow root,
// then every same-origin iframe document, recursing at every nesting
// level. limit > 0 stops after that many matches.
func (l *Locator) deepSearch(root domain.Node, selector string, limit int) []domain.Node {
	var out []domain.Node
	l.searchInto(root, selector, limit, &out)
	return out
}

func (l *Locator) searchInto(root domain.Node, selector string, limit int, out *[]domain.Node) bool {
	for _, m := range root.Select(selector) {
		*out = append(*out, m)
		if limit > 0 && len(*out) >= limit {
			return true
		}
	}

	shadows, frames := collectNestedRoots(root)

	for _, shadow := range shadows {
		if l.searchInto(shadow, selector, limit, out) {
			return true
		}
	}

	for _, frame := range frames {
		doc, err := frame.FrameDocument()
		if err != nil || doc == nil {
			// Cross-origin frames are skipped, never surfaced.
			continue
		}
		if l.searchInto(doc, selector, limit, out) {
			return true
		}
	}
	return false
}

// collectNestedRoots walks a document's light tree gathering open
// shadow roots and iframe elements in document order.
func collectNestedRoots(root domain.Node) (shadows []domain.Node, frames []domain.Node) {
	var walk func(n domain.Node)
	walk = func(n domain.Node) {
		for _, child := range n.Children() {
			if shadow := child.ShadowRoot(); shadow != nil {
				shadows = append(shadows, shadow)
			}
			if child.Tag() == "iframe" {
				frames = append(frames, child)
			}
			walk(child)
		}
	}
	walk(root)
	return shadows, frames
}
