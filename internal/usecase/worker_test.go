package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
	"github.com/armoryops/armorylink/test/fixtures"
)

// mockMatcher implements Matcher for testing
type mockMatcher struct {
	match *domain.Match
}

func (m *mockMatcher) MatchScan(text string) *domain.Match {
	return m.match
}

// mockFields implements FieldLookup for testing
type mockFields struct {
	fields map[string]domain.FieldDescriptor
}

func (m *mockFields) FieldByKey(key string) (domain.FieldDescriptor, bool) {
	f, ok := m.fields[key]
	return f, ok
}

// mockWriter implements domain.FieldWriter for testing
type mockWriter struct {
	result  bool
	written []string
}

func (m *mockWriter) WriteField(field domain.FieldDescriptor, value string) bool {
	m.written = append(m.written, field.Key+"="+value)
	return m.result
}

// mockNotifier implements domain.Notifier for testing
type mockNotifier struct {
	toasts []string
}

func (m *mockNotifier) Toast(level, title, message string) {
	m.toasts = append(m.toasts, level+":"+title)
}

// mockSpeaker implements domain.Speaker for testing
type mockSpeaker struct {
	spoken []string
}

func (m *mockSpeaker) Speak(text string) {
	m.spoken = append(m.spoken, text)
}

// mockOpener implements URLOpener for testing
type mockOpener struct {
	opened []string
}

func (m *mockOpener) OpenURL(url, target string) error {
	m.opened = append(m.opened, url+" "+target)
	return nil
}

type workerHarness struct {
	worker   *Worker
	queue    *Queue
	notifier *mockNotifier
	speaker  *mockSpeaker
	writer   *mockWriter
	opener   *mockOpener
	bus      *mockBus
}

func newWorkerHarness(config WorkerConfig, match *domain.Match, root domain.Node) *workerHarness {
	h := &workerHarness{
		queue:    NewQueue(time.Hour, zap.NewNop()),
		notifier: &mockNotifier{},
		speaker:  &mockSpeaker{},
		writer:   &mockWriter{result: true},
		opener:   &mockOpener{},
		bus:      &mockBus{},
	}
	rootFn := func() domain.Node { return root }
	h.worker = NewWorker(config, WorkerDeps{
		Queue:  h.queue,
		Engine: &mockMatcher{match: match},
		Fields: &mockFields{fields: map[string]domain.FieldDescriptor{
			"serial": {Key: "serial", Selector: "#serial", Enabled: true},
			"type":   {Key: "type", Selector: "#type", Enabled: true},
		}},
		Writer:   h.writer,
		Locator:  dom.NewLocator(zap.NewNop()),
		Root:     rootFn,
		Notifier: h.notifier,
		Speaker:  h.speaker,
		Opener:   h.opener,
		Portal:   nil,
		Prefixes: NewPrefixManager(zap.NewNop()),
		Bus:      h.bus,
		SessID:   "sess-1",
		Logger:   zap.NewNop(),
	})
	return h
}

// TestProcessNext_EmptyQueue verifies a no-op on an empty queue
func TestProcessNext_EmptyQueue(t *testing.T) {
	h := newWorkerHarness(DefaultWorkerConfig(), nil, nil)

	h.worker.ProcessNext(context.Background())

	assert.Empty(t, h.notifier.toasts)
	assert.Empty(t, h.bus.frames())
}

// TestProcessNext_NoMatch verifies the no-rule toast and result frame
func TestProcessNext_NoMatch(t *testing.T) {
	h := newWorkerHarness(DefaultWorkerConfig(), nil, nil)
	h.queue.Enqueue("UNKNOWN-1", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	require.Len(t, h.notifier.toasts, 1)
	assert.Equal(t, "warn:No rule matched", h.notifier.toasts[0])

	frames := h.bus.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, domain.FrameScanResult, frames[0].Type)
	require.NotNil(t, frames[0].Outcome)
	assert.False(t, frames[0].Outcome.Matched)
}

// TestProcessNext_ActionsRunInOrder verifies sequential execution
func TestProcessNext_ActionsRunInOrder(t *testing.T) {
	match := &domain.Match{
		Rule: domain.Rule{Name: "asset", SpeechLabel: "asset scanned"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionSetField, Field: "serial", Value: "4455"},
			{Type: domain.ActionSetType, Value: "Deployment"},
			{Type: domain.ActionToast, Level: "info", Title: "Done"},
			{Type: domain.ActionOpenURL, URL: "https://portal/x", Target: "_blank"},
		},
	}
	h := newWorkerHarness(DefaultWorkerConfig(), match, nil)
	h.queue.Enqueue("ASSET-4455", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	assert.Equal(t, []string{"serial=4455", "type=Deployment"}, h.writer.written)
	assert.Equal(t, []string{"info:Done"}, h.notifier.toasts)
	assert.Equal(t, []string{"https://portal/x _blank"}, h.opener.opened)
	assert.Equal(t, []string{"asset scanned"}, h.speaker.spoken)

	frames := h.bus.frames()
	require.Len(t, frames, 1)
	outcome := frames[0].Outcome
	require.NotNil(t, outcome)
	assert.True(t, outcome.Matched)
	assert.Equal(t, "asset", outcome.RuleName)
	assert.Equal(t, 4, outcome.ActionsRun)
	assert.Equal(t, 0, outcome.ActionsFail)
}

// TestProcessNext_FailedActionContinues verifies remaining actions run
func TestProcessNext_FailedActionContinues(t *testing.T) {
	match := &domain.Match{
		Rule: domain.Rule{Name: "asset"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionSetField, Field: "missing", Value: "x"},
			{Type: domain.ActionToast, Level: "info", Title: "Still ran"},
		},
	}
	h := newWorkerHarness(DefaultWorkerConfig(), match, nil)
	h.queue.Enqueue("ASSET-1", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	assert.Contains(t, h.notifier.toasts, "warn:Action failed")
	assert.Contains(t, h.notifier.toasts, "info:Still ran")

	outcome := h.bus.frames()[0].Outcome
	assert.Equal(t, 1, outcome.ActionsRun)
	assert.Equal(t, 1, outcome.ActionsFail)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "missing")
}

// TestProcessNext_WriteNotCommitted verifies failed writes are warnings
func TestProcessNext_WriteNotCommitted(t *testing.T) {
	match := &domain.Match{
		Rule: domain.Rule{Name: "asset"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionSetField, Field: "serial", Value: "1"},
		},
	}
	h := newWorkerHarness(DefaultWorkerConfig(), match, nil)
	h.writer.result = false
	h.queue.Enqueue("ASSET-1", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	outcome := h.bus.frames()[0].Outcome
	assert.Equal(t, 1, outcome.ActionsFail)
}

// TestProcessNext_ClickAction verifies click target resolution
func TestProcessNext_ClickAction(t *testing.T) {
	button := fixtures.NewFakeNode("button").WithID("save")
	root := fixtures.NewFakeNode("body").Append(button)

	match := &domain.Match{
		Rule: domain.Rule{Name: "save"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionClick, Selector: "#save"},
		},
	}
	h := newWorkerHarness(DefaultWorkerConfig(), match, root)
	h.queue.Enqueue("SAVE", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	assert.Equal(t, 1, button.Clicks)
	assert.Equal(t, 1, h.bus.frames()[0].Outcome.ActionsRun)
}

// TestProcessNext_WatchdogTimeout verifies the per-scan timeout
func TestProcessNext_WatchdogTimeout(t *testing.T) {
	match := &domain.Match{
		Rule: domain.Rule{Name: "slow"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionWait, DurationMs: 500},
		},
	}
	h := newWorkerHarness(WorkerConfig{ScanTimeout: 20 * time.Millisecond}, match, nil)
	h.queue.Enqueue("SLOW-1", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	require.Len(t, h.notifier.toasts, 1)
	assert.Equal(t, "error:Scan timed out", h.notifier.toasts[0])

	outcome := h.bus.frames()[0].Outcome
	require.NotNil(t, outcome)
	assert.True(t, outcome.TimedOut)

	// The worker is free for the next item afterwards.
	h.queue.Enqueue("NEXT", domain.SourceScanner)
	h.worker.ProcessNext(context.Background())
	assert.Equal(t, 0, h.queue.Len())
}

// TestProcessNext_TimeoutStopsRemainingActions verifies a timed-out
// scan does not keep executing actions behind the next item
func TestProcessNext_TimeoutStopsRemainingActions(t *testing.T) {
	match := &domain.Match{
		Rule: domain.Rule{Name: "slow", SpeechLabel: "slow"},
		ExpandedActions: []domain.Action{
			{Type: domain.ActionWait, DurationMs: 500},
			{Type: domain.ActionSetField, Field: "serial", Value: "LATE"},
		},
	}
	h := newWorkerHarness(WorkerConfig{ScanTimeout: 20 * time.Millisecond}, match, nil)
	h.queue.Enqueue("SLOW-2", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	// The canceled wait returns immediately and the goroutine stops at
	// the action boundary; the write and speech never happen.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.writer.written)
	assert.Empty(t, h.speaker.spoken)
}

// TestProcessNext_AfterScanHook verifies the presentation hook fires
func TestProcessNext_AfterScanHook(t *testing.T) {
	h := newWorkerHarness(DefaultWorkerConfig(), nil, nil)

	var got *domain.ScanOutcome
	h.worker.AfterScan(func(outcome domain.ScanOutcome) {
		got = &outcome
	})
	h.queue.Enqueue("X", domain.SourceScanner)

	h.worker.ProcessNext(context.Background())

	require.NotNil(t, got)
	assert.Equal(t, "X", got.Text)
}

// TestProcessNext_PrefixApplied verifies prefix application and decay
func TestProcessNext_PrefixApplied(t *testing.T) {
	h := newWorkerHarness(DefaultWorkerConfig(), nil, nil)
	h.worker.prefixes.Activate(domain.Prefix{Label: "Reissue", Value: "RE-", StickyCount: 1})

	h.queue.Enqueue("900", domain.SourceScanner)
	h.worker.ProcessNext(context.Background())

	outcome := h.bus.frames()[0].Outcome
	assert.Equal(t, "RE-900", outcome.Text)

	_, _, active := h.worker.prefixes.Active()
	assert.False(t, active, "single-use prefix must deactivate")
}
