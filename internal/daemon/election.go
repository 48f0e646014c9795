// Package daemon implements per-session coordination: leader election
// over the broadcast bus and the session run loop.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// ElectorConfig holds election protocol timing.
type ElectorConfig struct {
	// QueryTimeout is how long a fresh session waits for a heartbeat
	// after posting leader_query before declaring itself leader.
	QueryTimeout time.Duration
	// HeartbeatInterval is how often a leader posts heartbeats.
	HeartbeatInterval time.Duration
	// CheckInterval is how often a follower checks heartbeat staleness.
	CheckInterval time.Duration
	// HeartbeatExpiry is the silence after which a follower
	// re-attempts election.
	HeartbeatExpiry time.Duration
}

// DefaultElectorConfig returns default election configuration.
func DefaultElectorConfig() ElectorConfig {
	return ElectorConfig{
		QueryTimeout:      500 * time.Millisecond,
		HeartbeatInterval: 2000 * time.Millisecond,
		CheckInterval:     1000 * time.Millisecond,
		HeartbeatExpiry:   5000 * time.Millisecond,
	}
}

// Elector runs the cross-session election. Exactly one session of a bus
// namespace holds leadership at steady state. Heartbeats carry the
// sender's random session id; when two sessions both declare leadership
// (both timed out waiting), the lexically lowest id wins and the other
// steps down on collision detection. With no bus at all the session
// becomes leader immediately: a single-tab run is the common case and a
// false follower state would silently disable scanning.
type Elector struct {
	bus       domain.Bus
	sessionID string
	config    ElectorConfig
	logger    *zap.Logger

	mu       sync.Mutex
	leader   bool
	lastPeer int64 // unix millis of last heartbeat seen

	inbox  chan domain.Frame
	resign chan struct{}

	onElected  func()
	onResigned func()
}

// NewElector creates an elector for one session. bus may be nil.
func NewElector(bus domain.Bus, sessionID string, config ElectorConfig, logger *zap.Logger) *Elector {
	return &Elector{
		bus:       bus,
		sessionID: sessionID,
		config:    config,
		logger:    logger,
		inbox:     make(chan domain.Frame, 16),
		resign:    make(chan struct{}, 1),
	}
}

// OnElected registers the leadership-gained hook. Set before Run.
func (e *Elector) OnElected(fn func()) { e.onElected = fn }

// OnResigned registers the leadership-lost hook. Set before Run.
func (e *Elector) OnResigned(fn func()) { e.onResigned = fn }

// IsLeader reports current leadership.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// State returns the session's leadership view.
func (e *Elector) State() domain.LeadershipState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.LeadershipState{
		IsLeader:          e.leader,
		SessionID:         e.sessionID,
		LastPeerHeartbeat: e.lastPeer,
	}
}

// Deliver hands a leader_* frame to the elector. Non-blocking; the
// protocol tolerates a dropped frame by way of its expiry window.
func (e *Elector) Deliver(frame domain.Frame) {
	select {
	case e.inbox <- frame:
	default:
		e.logger.Warn("election inbox full, frame dropped",
			zap.String("frame", string(frame.Type)))
	}
}

// Resign requests an explicit step-down. The session re-enters the
// follower path and may re-elect later if the new leader goes silent.
func (e *Elector) Resign() {
	select {
	case e.resign <- struct{}{}:
	default:
	}
}

// Run drives the election until ctx is canceled.
func (e *Elector) Run(ctx context.Context) error {
	if e.bus == nil {
		// Broadcast primitive unavailable: fail open.
		e.logger.Info("no bus available, assuming leadership")
		e.becomeLeader()
		<-ctx.Done()
		e.stepDown("shutdown")
		return ctx.Err()
	}

	e.postQuery()
	queryTimer := time.NewTimer(e.config.QueryTimeout)
	defer queryTimer.Stop()
	awaiting := true

	heartbeatTicker := time.NewTicker(e.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	checkTicker := time.NewTicker(e.config.CheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.stepDown("shutdown")
			return ctx.Err()

		case <-e.resign:
			e.stepDown("explicit resignation")

		case frame := <-e.inbox:
			switch frame.Type {
			case domain.FrameLeaderQuery:
				if e.IsLeader() {
					e.postHeartbeat()
				}
			case domain.FrameLeaderHeartbeat:
				awaiting = false
				e.recordPeer(frame.Timestamp)
				if e.IsLeader() && frame.SessionID < e.sessionID {
					// Dual leadership: lowest session id wins.
					e.logger.Info("leadership collision, lower id observed",
						zap.String("peer", frame.SessionID))
					e.stepDown("collision")
				}
			}

		case <-queryTimer.C:
			if awaiting && !e.IsLeader() {
				e.logger.Info("no leader answered, assuming leadership")
				e.becomeLeader()
			}
			awaiting = false

		case <-heartbeatTicker.C:
			if e.IsLeader() {
				e.postHeartbeat()
			}

		case <-checkTicker.C:
			if e.IsLeader() {
				continue
			}
			e.mu.Lock()
			stale := e.lastPeer > 0 &&
				time.Now().UnixMilli()-e.lastPeer > e.config.HeartbeatExpiry.Milliseconds()
			e.mu.Unlock()
			if stale && !awaiting {
				e.logger.Info("leader heartbeat expired, re-electing")
				e.postQuery()
				queryTimer.Reset(e.config.QueryTimeout)
				awaiting = true
			}
		}
	}
}

func (e *Elector) postQuery() {
	_ = e.bus.Publish(domain.Frame{
		Type:      domain.FrameLeaderQuery,
		SessionID: e.sessionID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (e *Elector) postHeartbeat() {
	_ = e.bus.Publish(domain.Frame{
		Type:      domain.FrameLeaderHeartbeat,
		SessionID: e.sessionID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (e *Elector) recordPeer(ts int64) {
	e.mu.Lock()
	if ts > e.lastPeer {
		e.lastPeer = ts
	}
	e.mu.Unlock()
}

func (e *Elector) becomeLeader() {
	e.mu.Lock()
	already := e.leader
	e.leader = true
	e.mu.Unlock()
	if already {
		return
	}

	if e.bus != nil {
		e.postHeartbeat()
	}
	e.logger.Info("session is now leader", zap.String("session", e.sessionID))
	if e.onElected != nil {
		e.onElected()
	}
}

func (e *Elector) stepDown(reason string) {
	e.mu.Lock()
	was := e.leader
	e.leader = false
	// Treat the moment of resignation as a fresh heartbeat so the
	// staleness check does not immediately re-elect.
	e.lastPeer = time.Now().UnixMilli()
	e.mu.Unlock()
	if !was {
		return
	}

	e.logger.Info("session stepped down", zap.String("reason", reason))
	if e.onResigned != nil {
		e.onResigned()
	}
}
