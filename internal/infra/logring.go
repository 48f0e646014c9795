package infra

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogRing is a bounded append-only ring of recent log entries backing
// the status command's verbose output. Every component logs through the
// shared zap logger; the ring is a tee'd core, no interception of any
// host-provided global.
type LogRing struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

// NewLogRing creates a ring holding the last size entries.
func NewLogRing(size int) *LogRing {
	if size <= 0 {
		size = 256
	}
	return &LogRing{entries: make([]string, size)}
}

// Append records one formatted entry, overwriting the oldest.
func (r *LogRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = line
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns entries oldest-first.
func (r *LogRing) Recent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if r.full {
		out = append(out, r.entries[r.next:]...)
	}
	out = append(out, r.entries[:r.next]...)
	return out
}

// ringCore is a zapcore.Core that appends formatted entries to a LogRing.
type ringCore struct {
	zapcore.LevelEnabler
	ring   *LogRing
	fields []zapcore.Field
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(clone.fields[:len(clone.fields):len(clone.fields)], fields...)
	return &clone
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	line := fmt.Sprintf("%s %-5s %s", ent.Time.Format(time.RFC3339), ent.Level.CapitalString(), ent.Message)
	for k, v := range enc.Fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	c.ring.Append(line)
	return nil
}

func (c *ringCore) Sync() error { return nil }

// NewLogger builds the agent logger: development console output tee'd
// with the ring core.
func NewLogger(ring *LogRing) (*zap.Logger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	if ring == nil {
		return base, nil
	}

	core := zapcore.NewTee(
		base.Core(),
		&ringCore{LevelEnabler: zapcore.DebugLevel, ring: ring},
	)
	return zap.New(core), nil
}
