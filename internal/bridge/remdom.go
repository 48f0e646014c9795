// Package bridge exposes the local HTTP surface page clients attach to
// and the remote DOM proxy backing each attached session.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// Command ops understood by the page client.
const (
	OpSelect   = "select"
	OpTag      = "tag"
	OpChildren = "children"
	OpAttr     = "attr"
	OpSetAttr  = "set_attr"
	OpText     = "text"
	OpSetText  = "set_text"
	OpValue    = "value"
	OpSetValue = "set_value"
	OpClick    = "click"
	OpDispatch = "dispatch"
	OpShadow   = "shadow"
	OpFrame    = "frame"
	OpLayout   = "layout"
	OpOpenURL  = "open_url"
	OpToast    = "toast"
	OpSpeak    = "speak"
)

// errCrossOrigin is the page client's error string for a frame it may
// not enter.
const errCrossOrigin = "cross_origin"

// Command is one DOM operation sent to the page client. Ref "" targets
// the document root.
type Command struct {
	ID   string `json:"id"`
	Ref  string `json:"ref,omitempty"`
	Op   string `json:"op"`
	Arg  string `json:"arg,omitempty"`
	Arg2 string `json:"arg2,omitempty"`
	Arg3 string `json:"arg3,omitempty"`
}

// Result is the page client's reply to one command.
type Result struct {
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Found  bool           `json:"found,omitempty"`
	Refs   []string       `json:"refs,omitempty"`
	Str    string         `json:"str,omitempty"`
	Layout *domain.Layout `json:"layout,omitempty"`
	Err    string         `json:"err,omitempty"`
}

// RemoteDoc is one session's command channel to its page client. DOM
// calls block for the round trip; a client that never answers degrades
// to the same nil/empty sentinels a missing element produces, so a
// wedged page can never take the pipeline down.
type RemoteDoc struct {
	pending chan Command
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan Result
}

// NewRemoteDoc creates the per-session command channel.
func NewRemoteDoc(timeout time.Duration, logger *zap.Logger) *RemoteDoc {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RemoteDoc{
		pending: make(chan Command, 32),
		timeout: timeout,
		logger:  logger,
		waiters: make(map[string]chan Result),
	}
}

// Root returns the document root node.
func (d *RemoteDoc) Root() domain.Node {
	return &remoteNode{doc: d, ref: ""}
}

// NextCommand blocks until a command is queued for the page client or
// ctx ends. Used by the long-poll handler.
func (d *RemoteDoc) NextCommand(ctx context.Context) (Command, bool) {
	select {
	case cmd := <-d.pending:
		return cmd, true
	case <-ctx.Done():
		return Command{}, false
	}
}

// Resolve delivers a client result to its waiting caller.
func (d *RemoteDoc) Resolve(res Result) {
	d.mu.Lock()
	ch, ok := d.waiters[res.ID]
	if ok {
		delete(d.waiters, res.ID)
	}
	d.mu.Unlock()
	if ok {
		ch <- res
	}
}

// roundTrip queues one command and waits for its result.
func (d *RemoteDoc) roundTrip(cmd Command) (Result, bool) {
	cmd.ID = uuid.NewString()

	ch := make(chan Result, 1)
	d.mu.Lock()
	d.waiters[cmd.ID] = ch
	d.mu.Unlock()

	forget := func() {
		d.mu.Lock()
		delete(d.waiters, cmd.ID)
		d.mu.Unlock()
	}

	select {
	case d.pending <- cmd:
	default:
		forget()
		d.logger.Warn("page client command queue full", zap.String("op", cmd.Op))
		return Result{}, false
	}

	select {
	case res := <-ch:
		return res, res.OK
	case <-time.After(d.timeout):
		forget()
		d.logger.Warn("page client round trip timed out", zap.String("op", cmd.Op))
		return Result{}, false
	}
}

// Toast implements domain.Notifier through the page client.
func (d *RemoteDoc) Toast(level, title, message string) {
	_, _ = d.roundTrip(Command{Op: OpToast, Arg: level, Arg2: title, Arg3: message})
}

// Speak implements domain.Speaker through the page client.
func (d *RemoteDoc) Speak(text string) {
	_, _ = d.roundTrip(Command{Op: OpSpeak, Arg: text})
}

// OpenURL implements the worker's URL opener through the page client.
func (d *RemoteDoc) OpenURL(url, target string) error {
	_, _ = d.roundTrip(Command{Op: OpOpenURL, Arg: url, Arg2: target})
	return nil
}

// remoteNode is a ref-addressed element living in the page client.
type remoteNode struct {
	doc *RemoteDoc
	ref string
}

func (n *remoteNode) Tag() string {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpTag})
	if !ok {
		return ""
	}
	return res.Str
}

func (n *remoteNode) Attr(name string) (string, bool) {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpAttr, Arg: name})
	if !ok {
		return "", false
	}
	return res.Str, res.Found
}

func (n *remoteNode) SetAttr(name, value string) {
	_, _ = n.doc.roundTrip(Command{Ref: n.ref, Op: OpSetAttr, Arg: name, Arg2: value})
}

func (n *remoteNode) Text() string {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpText})
	if !ok {
		return ""
	}
	return res.Str
}

func (n *remoteNode) SetText(text string) {
	_, _ = n.doc.roundTrip(Command{Ref: n.ref, Op: OpSetText, Arg: text})
}

func (n *remoteNode) Value() string {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpValue})
	if !ok {
		return ""
	}
	return res.Str
}

func (n *remoteNode) SetValue(value string) {
	_, _ = n.doc.roundTrip(Command{Ref: n.ref, Op: OpSetValue, Arg: value})
}

func (n *remoteNode) Click() error {
	if _, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpClick}); !ok {
		return domainErr("click failed")
	}
	return nil
}

func (n *remoteNode) Dispatch(event string) error {
	if _, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpDispatch, Arg: event}); !ok {
		return domainErr("dispatch failed")
	}
	return nil
}

func (n *remoteNode) Select(selector string) []domain.Node {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpSelect, Arg: selector})
	if !ok {
		return nil
	}
	return n.doc.nodes(res.Refs)
}

func (n *remoteNode) Children() []domain.Node {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpChildren})
	if !ok {
		return nil
	}
	return n.doc.nodes(res.Refs)
}

func (n *remoteNode) ShadowRoot() domain.Node {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpShadow})
	if !ok || !res.Found || len(res.Refs) == 0 {
		return nil
	}
	return &remoteNode{doc: n.doc, ref: res.Refs[0]}
}

func (n *remoteNode) FrameDocument() (domain.Node, error) {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpFrame})
	// Clients may report cross-origin with OK either way; the error
	// outranks the ok gate.
	if res.Err == errCrossOrigin {
		return nil, domain.ErrCrossOrigin
	}
	if !ok || !res.Found || len(res.Refs) == 0 {
		return nil, nil
	}
	return &remoteNode{doc: n.doc, ref: res.Refs[0]}, nil
}

func (n *remoteNode) Layout() domain.Layout {
	res, ok := n.doc.roundTrip(Command{Ref: n.ref, Op: OpLayout})
	if !ok || res.Layout == nil {
		return domain.Layout{}
	}
	return *res.Layout
}

func (d *RemoteDoc) nodes(refs []string) []domain.Node {
	out := make([]domain.Node, len(refs))
	for i, ref := range refs {
		out[i] = &remoteNode{doc: d, ref: ref}
	}
	return out
}

type domainErr string

func (e domainErr) Error() string { return string(e) }

// Ensure remoteNode implements domain.Node.
var _ domain.Node = (*remoteNode)(nil)
