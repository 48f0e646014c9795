// Package fixtures provides test doubles shared by unit and
// integration tests.
package fixtures

import (
	"strings"

	"github.com/armoryops/armorylink/internal/domain"
)

// FakeNode is an in-memory domain.Node for tests. Selector matching is
// a deliberately small subset of CSS: "tag", "#id", ".class",
// "[attr=value]" and "[attr]", plus comma-separated alternatives.
type FakeNode struct {
	TagName     string
	Attrs       map[string]string
	TextContent string
	Val         string
	Box         domain.Layout
	Kids        []*FakeNode
	Shadow      *FakeNode
	FrameDoc    *FakeNode
	CrossOrigin bool

	// Events records dispatched event names in order.
	Events []string
	// Clicks counts Click calls.
	Clicks int
	// OnClick, when set, runs on every Click.
	OnClick func()
	// OnSetValue, when set, runs after every SetValue.
	OnSetValue func(value string)
}

// NewFakeNode creates a visible element with the given tag.
func NewFakeNode(tag string) *FakeNode {
	return &FakeNode{
		TagName: tag,
		Attrs:   map[string]string{},
		Box:     domain.Layout{Width: 100, Height: 20, Display: "block", Visibility: "visible", Opacity: 1},
	}
}

// WithID sets the id attribute and returns the node.
func (n *FakeNode) WithID(id string) *FakeNode {
	n.Attrs["id"] = id
	return n
}

// WithClass sets the class attribute and returns the node.
func (n *FakeNode) WithClass(class string) *FakeNode {
	n.Attrs["class"] = class
	return n
}

// WithText sets text content and returns the node.
func (n *FakeNode) WithText(text string) *FakeNode {
	n.TextContent = text
	return n
}

// Hidden zeroes the layout box and returns the node.
func (n *FakeNode) Hidden() *FakeNode {
	n.Box = domain.Layout{}
	return n
}

// Append adds children and returns the parent.
func (n *FakeNode) Append(kids ...*FakeNode) *FakeNode {
	n.Kids = append(n.Kids, kids...)
	return n
}

func (n *FakeNode) Tag() string { return n.TagName }

func (n *FakeNode) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

func (n *FakeNode) SetAttr(name, value string) { n.Attrs[name] = value }

func (n *FakeNode) Text() string        { return n.TextContent }
func (n *FakeNode) SetText(text string) { n.TextContent = text }

func (n *FakeNode) Value() string { return n.Val }

func (n *FakeNode) SetValue(value string) {
	n.Val = value
	if n.OnSetValue != nil {
		n.OnSetValue(value)
	}
}

func (n *FakeNode) Click() error {
	n.Clicks++
	if n.OnClick != nil {
		n.OnClick()
	}
	return nil
}

func (n *FakeNode) Dispatch(event string) error {
	n.Events = append(n.Events, event)
	return nil
}

func (n *FakeNode) Children() []domain.Node {
	out := make([]domain.Node, len(n.Kids))
	for i, k := range n.Kids {
		out[i] = k
	}
	return out
}

func (n *FakeNode) ShadowRoot() domain.Node {
	if n.Shadow == nil {
		return nil
	}
	return n.Shadow
}

func (n *FakeNode) FrameDocument() (domain.Node, error) {
	if n.CrossOrigin {
		return nil, domain.ErrCrossOrigin
	}
	if n.FrameDoc == nil {
		return nil, nil
	}
	return n.FrameDoc, nil
}

func (n *FakeNode) Layout() domain.Layout { return n.Box }

// Select matches the selector against this node's light subtree.
func (n *FakeNode) Select(selector string) []domain.Node {
	var out []domain.Node
	for _, alt := range strings.Split(selector, ",") {
		alt = strings.TrimSpace(alt)
		var walk func(node *FakeNode)
		walk = func(node *FakeNode) {
			for _, kid := range node.Kids {
				if kid.matches(alt) {
					out = append(out, kid)
				}
				walk(kid)
			}
		}
		walk(n)
	}
	return out
}

func (n *FakeNode) matches(selector string) bool {
	switch {
	case selector == "":
		return false
	case strings.HasPrefix(selector, "#"):
		return n.Attrs["id"] == selector[1:]
	case strings.HasPrefix(selector, "."):
		return hasClass(n.Attrs["class"], selector[1:])
	case strings.HasPrefix(selector, "["):
		body := strings.TrimSuffix(strings.TrimPrefix(selector, "["), "]")
		if name, value, ok := strings.Cut(body, "="); ok {
			got, present := n.Attrs[name]
			return present && got == strings.Trim(value, `"'`)
		}
		_, present := n.Attrs[body]
		return present
	default:
		return n.TagName == selector
	}
}

func hasClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}

// Ensure FakeNode implements domain.Node.
var _ domain.Node = (*FakeNode)(nil)
