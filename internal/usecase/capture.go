package usecase

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// Queue is the FIFO scan queue with duplicate suppression. Capture is
// the single writer, the worker the single consumer; both run on the
// session loop, so the mutex guards only cross-goroutine reads from the
// bridge.
type Queue struct {
	mu     sync.Mutex
	items  []domain.ScanItem
	seen   map[string]int64
	window time.Duration
	logger *zap.Logger
}

// NewQueue creates a queue with the given duplicate window.
func NewQueue(window time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		seen:   make(map[string]int64),
		window: window,
		logger: logger,
	}
}

// Enqueue appends one scan unless the identical text was seen within
// the duplicate window. Reports whether the item was queued.
func (q *Queue) Enqueue(text string, source domain.ScanSource) bool {
	now := time.Now().UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	if last, ok := q.seen[text]; ok && now-last < q.window.Milliseconds() {
		q.logger.Debug("duplicate scan suppressed", zap.String("text", text))
		return false
	}
	q.seen[text] = now

	q.items = append(q.items, domain.ScanItem{
		Text:       text,
		Source:     source,
		EnqueuedAt: now,
	})
	return true
}

// Dequeue pops the oldest item.
func (q *Queue) Dequeue() (domain.ScanItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.ScanItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the queued item count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PruneDedupe drops suppression entries older than twice the duplicate
// window to bound memory. Run periodically.
func (q *Queue) PruneDedupe() {
	cutoff := time.Now().UnixMilli() - 2*q.window.Milliseconds()

	q.mu.Lock()
	defer q.mu.Unlock()
	for text, at := range q.seen {
		if at < cutoff {
			delete(q.seen, text)
		}
	}
}

// CaptureConfig holds capture timing.
type CaptureConfig struct {
	// FlushPause flushes the keystroke buffer this long after the last
	// character when no Enter arrives.
	FlushPause time.Duration
}

// DefaultCaptureConfig returns default capture configuration.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{FlushPause: 100 * time.Millisecond}
}

// Capture ingests scanner keystrokes and manual submissions. Keyboard
// capture requires the on mode, local leadership and an armory-relevant
// page; manual submissions always enqueue, forwarded over the bus when
// this session is a follower.
type Capture struct {
	mu        sync.Mutex
	mode      domain.CaptureMode
	buffer    strings.Builder
	lastKeyAt time.Time
	onHotkey  func(digit int)

	config    CaptureConfig
	queue     *Queue
	bus       domain.Bus
	sessionID string
	isLeader  func() bool
	relevant  func() bool
	logger    *zap.Logger
}

// NewCapture creates the scan capture front end.
func NewCapture(config CaptureConfig, queue *Queue, bus domain.Bus, sessionID string, isLeader, relevant func() bool, logger *zap.Logger) *Capture {
	return &Capture{
		mode:      domain.CaptureOn,
		config:    config,
		queue:     queue,
		bus:       bus,
		sessionID: sessionID,
		isLeader:  isLeader,
		relevant:  relevant,
		logger:    logger,
	}
}

// SetMode switches the persisted capture mode.
func (c *Capture) SetMode(mode domain.CaptureMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Mode returns the current capture mode.
func (c *Capture) Mode() domain.CaptureMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Key buffers one raw keystroke character.
func (c *Capture) Key(ch rune) {
	if !c.capturing() {
		return
	}
	c.mu.Lock()
	c.buffer.WriteRune(ch)
	c.lastKeyAt = time.Now()
	c.mu.Unlock()
}

// Enter flushes the buffer as one scan.
func (c *Capture) Enter() {
	c.flush()
}

// OnHotkey registers the prefix hotkey handler (Alt+digit in the
// page).
func (c *Capture) OnHotkey(fn func(digit int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHotkey = fn
}

// Hotkey routes one prefix hotkey digit. Digits outside 1..9 are
// ignored, as is any hotkey while capture is off.
func (c *Capture) Hotkey(digit int) {
	c.mu.Lock()
	off := c.mode == domain.CaptureOff
	fn := c.onHotkey
	c.mu.Unlock()

	if off || fn == nil || digit < 1 || digit > 9 {
		return
	}
	fn(digit)
}

// Tick flushes the buffer when the pause since the last keystroke
// exceeds the configured flush pause. Driven by the session loop.
func (c *Capture) Tick(now time.Time) {
	c.mu.Lock()
	pending := c.buffer.Len() > 0 && now.Sub(c.lastKeyAt) >= c.config.FlushPause
	c.mu.Unlock()
	if pending {
		c.flush()
	}
}

// Submit enqueues a manual text-box submission. On a follower the scan
// is forwarded to the leader instead of being processed locally.
func (c *Capture) Submit(text string, source domain.ScanSource) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if c.isLeader() {
		c.queue.Enqueue(text, source)
		return
	}

	err := c.bus.Publish(domain.Frame{
		Type:      domain.FrameScanForward,
		SessionID: c.sessionID,
		Timestamp: time.Now().UnixMilli(),
		ScanText:  text,
		Source:    source,
	})
	if err != nil {
		c.logger.Warn("scan forward failed", zap.Error(err))
	}
}

// SubmitMacro enqueues every line of a macro in order.
func (c *Capture) SubmitMacro(macro domain.Macro) {
	for _, line := range macro.Lines {
		c.Submit(line, domain.SourceBatch)
	}
}

func (c *Capture) capturing() bool {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	return mode == domain.CaptureOn && c.isLeader() && c.relevant()
}

func (c *Capture) flush() {
	c.mu.Lock()
	text := strings.TrimSpace(c.buffer.String())
	c.buffer.Reset()
	c.mu.Unlock()

	if text == "" {
		return
	}
	c.queue.Enqueue(text, domain.SourceScanner)
}
