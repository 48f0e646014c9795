package domain

import "errors"

// ErrCrossOrigin is returned when an iframe document cannot be entered
// because it belongs to another origin. Callers swallow it and skip the
// frame; it never propagates past the locator boundary.
var ErrCrossOrigin = errors.New("cross-origin frame")

// Layout is the rendered geometry and computed-style subset used by the
// visibility predicate.
type Layout struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Opacity    float64 `json:"opacity"`
}

// Node is one element of the host page tree. Implementations: the
// bridge's remote node (backed by a connected page client) and the test
// fixture's in-memory node.
type Node interface {
	// Tag returns the lowercase tag name.
	Tag() string

	// Attr returns an attribute value and whether it is present.
	Attr(name string) (string, bool)

	// SetAttr sets an attribute value.
	SetAttr(name, value string)

	// Text returns the visible text content.
	Text() string

	// SetText replaces the visible text content.
	SetText(text string)

	// Value returns the current form value.
	Value() string

	// SetValue assigns the form value without dispatching events.
	SetValue(value string)

	// Click simulates a user click.
	Click() error

	// Dispatch fires a DOM event by name (input, change, blur, ...).
	Dispatch(event string) error

	// Select runs a CSS selector over this node's own subtree. It does
	// not pierce shadow roots or iframes; that is the locator's job.
	Select(selector string) []Node

	// Children returns the direct child elements.
	Children() []Node

	// ShadowRoot returns the open shadow root, or nil.
	ShadowRoot() Node

	// FrameDocument returns the content document of an iframe node.
	// Returns ErrCrossOrigin for frames of another origin and nil for
	// frames that have no reachable document.
	FrameDocument() (Node, error)

	// Layout returns rendered geometry and style for visibility checks.
	Layout() Layout
}

// KeyValueStore is persisted key/value storage with JSON values.
// Get tolerates a missing key, a malformed payload and a backing-store
// error by reporting false and leaving out untouched, so the caller's
// default survives. Set reports failure instead of panicking.
type KeyValueStore interface {
	// Get unmarshals the stored JSON for key into out. Returns false
	// when the key is absent, malformed or unreadable.
	Get(key string, out any) bool

	// Set marshals v as JSON and stores it under key.
	Set(key string, v any) bool

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// ListKeys returns all stored keys.
	ListKeys() ([]string, error)

	// Close releases the backing store.
	Close() error
}

// Bus is the broadcast channel shared by every session of one agent.
// Delivery is at-least-once and unordered, with no acknowledgement;
// a publisher does not receive its own frames.
type Bus interface {
	// Publish broadcasts a frame to every other subscriber.
	Publish(frame Frame) error

	// Subscribe registers a session and returns its receive channel
	// plus an unsubscribe func. Frames may be dropped if the receiver
	// falls behind.
	Subscribe(sessionID string) (<-chan Frame, func())
}

// Notifier surfaces transient user-visible notifications. The pipeline
// depends on this narrow interface rather than on any UI sibling.
type Notifier interface {
	Toast(level, title, message string)
}

// Speaker voices a short label through the page's speech synthesis.
type Speaker interface {
	Speak(text string)
}

// PortalLauncher opens the configured device portal for a serial.
// No response is read back.
type PortalLauncher interface {
	Launch(serial string) error
}

// FieldWriter writes one value into a configured field, honoring the
// field's commit event and, for reference fields, the interactive
// suggestion protocol. A false return means the write did not commit;
// the caller surfaces a warning and continues.
type FieldWriter interface {
	WriteField(field FieldDescriptor, value string) bool
}
