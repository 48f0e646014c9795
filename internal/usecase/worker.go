package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
)

// FieldLookup resolves a configured field key to its descriptor.
type FieldLookup interface {
	FieldByKey(key string) (domain.FieldDescriptor, bool)
}

// Matcher is the rule engine capability the worker depends on.
type Matcher interface {
	MatchScan(text string) *domain.Match
}

// URLOpener opens a URL in the page (new tab or current).
type URLOpener interface {
	OpenURL(url, target string) error
}

// WorkerConfig holds worker timing.
type WorkerConfig struct {
	// ScanTimeout is the per-scan watchdog raced against processing.
	ScanTimeout time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{ScanTimeout: 10 * time.Second}
}

// Worker drains the scan queue strictly one item at a time. The busy
// flag is cooperative: a reentrant ProcessNext while busy is a silent
// no-op, never queued twice. A timed-out scan surfaces a warning and
// the next item is still attempted; side effects already issued are
// not rolled back.
type Worker struct {
	config   WorkerConfig
	queue    *Queue
	engine   Matcher
	fields   FieldLookup
	writer   domain.FieldWriter
	locator  *dom.Locator
	root     func() domain.Node
	notifier domain.Notifier
	speaker  domain.Speaker
	opener   URLOpener
	portal   domain.PortalLauncher
	prefixes *PrefixManager
	bus      domain.Bus
	sessID   string
	logger   *zap.Logger

	busy bool

	// afterScan refreshes the ticker and tab labels once per
	// processed item. Wired at session construction.
	afterScan func(outcome domain.ScanOutcome)
}

// WorkerDeps bundles the worker's capability dependencies.
type WorkerDeps struct {
	Queue    *Queue
	Engine   Matcher
	Fields   FieldLookup
	Writer   domain.FieldWriter
	Locator  *dom.Locator
	Root     func() domain.Node
	Notifier domain.Notifier
	Speaker  domain.Speaker
	Opener   URLOpener
	Portal   domain.PortalLauncher
	Prefixes *PrefixManager
	Bus      domain.Bus
	SessID   string
	Logger   *zap.Logger
}

// NewWorker creates the scan worker.
func NewWorker(config WorkerConfig, deps WorkerDeps) *Worker {
	return &Worker{
		config:   config,
		queue:    deps.Queue,
		engine:   deps.Engine,
		fields:   deps.Fields,
		writer:   deps.Writer,
		locator:  deps.Locator,
		root:     deps.Root,
		notifier: deps.Notifier,
		speaker:  deps.Speaker,
		opener:   deps.Opener,
		portal:   deps.Portal,
		prefixes: deps.Prefixes,
		bus:      deps.Bus,
		sessID:   deps.SessID,
		logger:   deps.Logger,
	}
}

// AfterScan registers the post-scan presentation hook.
func (w *Worker) AfterScan(fn func(outcome domain.ScanOutcome)) {
	w.afterScan = fn
}

// ProcessNext pops and processes one item, guarded by the per-scan
// watchdog. Called from the session loop; never concurrent.
func (w *Worker) ProcessNext(ctx context.Context) {
	if w.busy {
		return
	}
	item, ok := w.queue.Dequeue()
	if !ok {
		return
	}
	w.busy = true
	defer func() { w.busy = false }()

	// The per-scan context stops the processing goroutine at the next
	// action boundary once the watchdog fires; only the in-flight
	// action (itself bounded) outlives the timeout.
	scanCtx, cancel := context.WithTimeout(ctx, w.config.ScanTimeout)
	defer cancel()

	done := make(chan domain.ScanOutcome, 1)
	go func() {
		done <- w.processOne(scanCtx, item)
	}()

	var outcome domain.ScanOutcome
	select {
	case outcome = <-done:
	case <-scanCtx.Done():
		if ctx.Err() != nil {
			return
		}
		outcome = domain.ScanOutcome{
			Text:        item.Text,
			TimedOut:    true,
			ProcessedAt: time.Now(),
		}
		w.notifier.Toast("error", "Scan timed out", item.Text)
		w.logger.Warn("scan processing timed out", zap.String("text", item.Text))
	}

	w.finish(outcome)
}

// processOne runs the full per-item sequence: prefix application, rule
// match, sequential action execution, speech.
func (w *Worker) processOne(ctx context.Context, item domain.ScanItem) domain.ScanOutcome {
	start := time.Now()
	text := w.prefixes.Apply(item.Text)

	outcome := domain.ScanOutcome{
		Text:        text,
		ProcessedAt: start,
	}

	match := w.engine.MatchScan(text)
	if match == nil {
		w.notifier.Toast("warn", "No rule matched", text)
		w.logger.Warn("scan matched no rule", zap.String("text", text))
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	outcome.Matched = true
	outcome.RuleName = match.Rule.Name

	for _, action := range match.ExpandedActions {
		if ctx.Err() != nil {
			break
		}
		if err := w.execute(ctx, action); err != nil {
			outcome.ActionsFail++
			outcome.Warnings = append(outcome.Warnings, err.Error())
			w.notifier.Toast("warn", "Action failed", err.Error())
			w.logger.Warn("action failed",
				zap.String("rule", match.Rule.Name),
				zap.String("action", string(action.Type)),
				zap.Error(err))
			continue
		}
		outcome.ActionsRun++
	}

	if ctx.Err() == nil && match.Rule.SpeechLabel != "" && w.speaker != nil {
		w.speaker.Speak(match.Rule.SpeechLabel)
	}

	outcome.DurationMs = time.Since(start).Milliseconds()
	return outcome
}

// execute runs one action. Actions run sequentially and in order; a
// waiting action completes (success or its own timeout) before the
// next starts.
func (w *Worker) execute(ctx context.Context, action domain.Action) error {
	switch action.Type {
	case domain.ActionSetField:
		field, ok := w.fields.FieldByKey(action.Field)
		if !ok {
			return fmt.Errorf("unknown field %q", action.Field)
		}
		if !w.writer.WriteField(field, action.Value) {
			return fmt.Errorf("write to %q did not commit", action.Field)
		}
		return nil

	case domain.ActionSetType:
		field, ok := w.fields.FieldByKey("type")
		if !ok {
			return fmt.Errorf("type field not configured")
		}
		if !w.writer.WriteField(field, action.Value) {
			return fmt.Errorf("type write did not commit")
		}
		return nil

	case domain.ActionToast:
		w.notifier.Toast(action.Level, action.Title, action.Message)
		return nil

	case domain.ActionSpeech:
		if w.speaker != nil {
			w.speaker.Speak(action.Text)
		}
		return nil

	case domain.ActionWait:
		select {
		case <-time.After(time.Duration(action.DurationMs) * time.Millisecond):
		case <-ctx.Done():
		}
		return nil

	case domain.ActionClick:
		node := w.locator.FindOne(w.root(), action.Selector, action.SelectorPath)
		if node == nil {
			return fmt.Errorf("click target %q not found", action.Selector)
		}
		return node.Click()

	case domain.ActionOpenURL:
		if w.opener == nil {
			return fmt.Errorf("no URL opener available")
		}
		return w.opener.OpenURL(action.URL, action.Target)

	case domain.ActionLaunchPortal:
		if w.portal == nil {
			return fmt.Errorf("no portal launcher available")
		}
		return w.portal.Launch(action.Serial)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// finish records the outcome, refreshes presentation and mirrors the
// result to follower sessions.
func (w *Worker) finish(outcome domain.ScanOutcome) {
	if w.afterScan != nil {
		w.afterScan(outcome)
	}

	err := w.bus.Publish(domain.Frame{
		Type:      domain.FrameScanResult,
		SessionID: w.sessID,
		Timestamp: time.Now().UnixMilli(),
		Outcome:   &outcome,
	})
	if err != nil {
		w.logger.Warn("result broadcast failed", zap.Error(err))
	}
}
