package daemon

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
	"github.com/armoryops/armorylink/internal/page"
	"github.com/armoryops/armorylink/internal/usecase"
)

// SessionConfig holds the session loop timing.
type SessionConfig struct {
	// TickInterval drives capture flushing and worker dispatch.
	TickInterval time.Duration
	// FastRefreshInterval is the context-refresh cadence during the
	// hydration window after startup.
	FastRefreshInterval time.Duration
	// SlowRefreshInterval is the cadence after hydration.
	SlowRefreshInterval time.Duration
	// FastPollWindow bounds the hydration fast-poll period.
	FastPollWindow time.Duration
	// PruneInterval drives dedupe-table pruning.
	PruneInterval time.Duration
}

// DefaultSessionConfig returns default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TickInterval:        50 * time.Millisecond,
		FastRefreshInterval: 1 * time.Second,
		SlowRefreshInterval: 5 * time.Second,
		FastPollWindow:      60 * time.Second,
		PruneInterval:       10 * time.Second,
	}
}

// Session is one attached browser tab of the workspace. It owns the
// tab's elector, capture front end, worker and presentation refresh,
// and dispatches bus frames to them.
type Session struct {
	id       string
	pageURL  string
	config   SessionConfig
	bus      domain.Bus
	elector  *Elector
	capture  *usecase.Capture
	worker   *usecase.Worker
	queue    *usecase.Queue
	contexts *page.ContextStore
	ticker   *page.Ticker
	keywords []string
	logger   *zap.Logger
}

// SessionDeps bundles everything a session needs.
type SessionDeps struct {
	Bus      domain.Bus
	Elector  *Elector
	Capture  *usecase.Capture
	Worker   *usecase.Worker
	Queue    *usecase.Queue
	Contexts *page.ContextStore
	Ticker   *page.Ticker
	// ArmoryKeywords decide page relevance from the session's URL.
	ArmoryKeywords []string
	Logger         *zap.Logger
}

// NewSession creates a session for one attached tab.
func NewSession(id, pageURL string, config SessionConfig, deps SessionDeps) *Session {
	return &Session{
		id:       id,
		pageURL:  pageURL,
		config:   config,
		bus:      deps.Bus,
		elector:  deps.Elector,
		capture:  deps.Capture,
		worker:   deps.Worker,
		queue:    deps.Queue,
		contexts: deps.Contexts,
		ticker:   deps.Ticker,
		keywords: deps.ArmoryKeywords,
		logger:   deps.Logger,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// IsLeader reports the session's election state.
func (s *Session) IsLeader() bool { return s.elector.IsLeader() }

// PageRelevant judges whether a page is one scans should be captured
// on, by URL keyword heuristic.
func PageRelevant(pageURL string, keywords []string) bool {
	lower := strings.ToLower(pageURL)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Relevant reports whether the session's page passes PageRelevant.
func (s *Session) Relevant() bool {
	return PageRelevant(s.pageURL, s.keywords)
}

// Capture returns the capture front end (bridge ingress uses it).
func (s *Session) Capture() *usecase.Capture { return s.capture }

// Run drives the session until ctx is canceled. This blocks.
func (s *Session) Run(ctx context.Context) error {
	frames, unsubscribe := s.bus.Subscribe(s.id)
	defer unsubscribe()

	electorCtx, cancelElector := context.WithCancel(ctx)
	defer cancelElector()
	go func() {
		_ = s.elector.Run(electorCtx)
	}()

	s.logger.Info("session started",
		zap.String("session", s.id),
		zap.String("url", s.pageURL),
		zap.Bool("relevant", s.Relevant()))

	// Refresh immediately so the first paint happens before any timer.
	s.contexts.Refresh()

	started := time.Now()
	tick := time.NewTicker(s.config.TickInterval)
	refresh := time.NewTicker(s.config.FastRefreshInterval)
	prune := time.NewTicker(s.config.PruneInterval)
	hydrated := false

	defer func() {
		tick.Stop()
		refresh.Stop()
		prune.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			// Explicit step-down on shutdown, not only tab closure.
			s.elector.Resign()
			s.logger.Info("session stopping", zap.String("session", s.id))
			return ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			s.dispatch(frame)

		case <-tick.C:
			s.capture.Tick(time.Now())
			s.worker.ProcessNext(ctx)

		case <-refresh.C:
			s.contexts.Refresh()
			if !hydrated && time.Since(started) > s.config.FastPollWindow {
				// Hydration window over: drop to the slow cadence.
				hydrated = true
				refresh.Reset(s.config.SlowRefreshInterval)
			}

		case <-prune.C:
			s.queue.PruneDedupe()
		}
	}
}

// dispatch routes one bus frame.
func (s *Session) dispatch(frame domain.Frame) {
	switch frame.Type {
	case domain.FrameLeaderQuery, domain.FrameLeaderHeartbeat:
		s.elector.Deliver(frame)

	case domain.FrameScanForward:
		// Followers forward scans here; only the leader enqueues.
		if s.elector.IsLeader() {
			s.queue.Enqueue(frame.ScanText, domain.SourceFollower)
		}

	case domain.FrameScanResult:
		if frame.Outcome != nil {
			s.ticker.RecordOutcome(*frame.Outcome)
			s.ticker.Refresh()
		}
	}
}

// NotifyTabActivated triggers an immediate context refresh (tab click).
func (s *Session) NotifyTabActivated() {
	s.contexts.Refresh()
}

// NotifyTabBarMutated triggers an immediate context refresh.
func (s *Session) NotifyTabBarMutated() {
	s.contexts.Refresh()
}
