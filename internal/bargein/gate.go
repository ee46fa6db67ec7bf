// Package bargein implements the half-duplex soft-gate state machine and
// the playout-complete watchdog: the bridge must stop forwarding low-level
// caller audio while the bot is speaking (so the AI doesn't hear its own
// comfort fill or room tone), and must tell the AI exactly once per
// response when the caller has actually heard the last frame.
package bargein

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// State is the half-duplex soft-gate state.
type State int

const (
	Idle State = iota
	BotSpeaking
	BotSpeakingRecently
)

func (s State) String() string {
	switch s {
	case BotSpeaking:
		return "bot_speaking"
	case BotSpeakingRecently:
		return "bot_speaking_recently"
	default:
		return "idle"
	}
}

// TailDuration is the authoritative "recently spoke" window (spec Open
// Question resolution: 300ms is authoritative over the configured,
// informational EchoGuardMs).
const TailDuration = 300 * time.Millisecond

// Gate tracks BargeInState and drives the playout-complete watchdog. It
// holds a non-owning reference to the live FrameQueue length (via QueueLen)
// rather than duplicating queue-empty bookkeeping.
type Gate struct {
	mu sync.Mutex

	state     State
	tailTimer *time.Timer

	queueLen                func() int
	notifyPlayoutComplete    func()
	clearEgress              func()
	log                      *slog.Logger

	responseDoneForTurn bool
	notifiedThisTurn    bool
	pendingNotify       bool
}

// Config wires a Gate's dependencies.
type Config struct {
	// QueueLen reports the current egress FrameQueue depth. Required.
	QueueLen func() int
	// NotifyPlayoutComplete is invoked exactly once per AI response, after
	// both response_done and queue_empty have been observed.
	NotifyPlayoutComplete func()
	// ClearEgress is invoked on a forced barge-in (EgressPipe.clear()).
	ClearEgress func()
	Log         *slog.Logger
	// EchoGuardMs is the configured (informational) echo guard; if it
	// differs from TailDuration a one-time notice is logged.
	EchoGuardMs int
}

// New builds a Gate starting in Idle.
func New(cfg Config) *Gate {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.EchoGuardMs != 0 && time.Duration(cfg.EchoGuardMs)*time.Millisecond != TailDuration {
		log.Warn("configured EchoGuardMs differs from the authoritative barge-in tail; ignoring configured value",
			"configured_ms", cfg.EchoGuardMs, "authoritative_ms", TailDuration.Milliseconds())
	}
	notify := cfg.NotifyPlayoutComplete
	if notify == nil {
		notify = func() {}
	}
	clear := cfg.ClearEgress
	if clear == nil {
		clear = func() {}
	}
	return &Gate{
		state:                 Idle,
		queueLen:              cfg.QueueLen,
		notifyPlayoutComplete: notify,
		clearEgress:           clear,
		log:                   log,
	}
}

// State reports the current BargeInState.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ShouldSuppress reports whether ingress audio is currently subject to
// RMS-based half-duplex suppression (bot speaking, or spoke within the
// last 300ms).
func (g *Gate) ShouldSuppress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == BotSpeaking || g.state == BotSpeakingRecently
}

// OnEgressFrameEnqueued marks the start (or continuation) of the bot
// speaking. Resets per-turn watchdog bookkeeping so a new response gets a
// fresh notify-once slate.
func (g *Gate) OnEgressFrameEnqueued() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopTailTimerLocked()
	g.state = BotSpeaking
	g.responseDoneForTurn = false
	g.notifiedThisTurn = false
	g.pendingNotify = false
}

// OnQueueEmpty is wired to PlayoutEngine's on_queue_empty hook.
func (g *Gate) OnQueueEmpty() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fireNotifyIfPendingLocked()
	g.maybeEnterRecentlyLocked()
}

// OnResponseDone is wired to the AI client's response.done event.
func (g *Gate) OnResponseDone() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responseDoneForTurn = true
	if !g.notifiedThisTurn {
		if g.queueLen() == 0 {
			g.fireNotifyLocked()
		} else {
			g.pendingNotify = true
		}
	}
	g.maybeEnterRecentlyLocked()
}

// OnBargeIn is wired to the AI client's barge_in event: forces Idle and
// clears the egress pipe.
func (g *Gate) OnBargeIn() {
	g.mu.Lock()
	g.stopTailTimerLocked()
	g.state = Idle
	g.responseDoneForTurn = false
	g.notifiedThisTurn = false
	g.pendingNotify = false
	g.mu.Unlock()

	g.clearEgress()
}

func (g *Gate) fireNotifyIfPendingLocked() {
	if g.pendingNotify && !g.notifiedThisTurn {
		g.fireNotifyLocked()
		g.pendingNotify = false
	}
}

func (g *Gate) fireNotifyLocked() {
	g.notifiedThisTurn = true
	go g.notifyPlayoutComplete()
}

// maybeEnterRecentlyLocked transitions BotSpeaking -> BotSpeakingRecently
// once both response_done and queue_empty have been observed.
func (g *Gate) maybeEnterRecentlyLocked() {
	if g.state != BotSpeaking {
		return
	}
	if !g.responseDoneForTurn || g.queueLen() != 0 {
		return
	}
	g.state = BotSpeakingRecently
	g.tailTimer = time.AfterFunc(TailDuration, g.onTailElapsed)
}

func (g *Gate) onTailElapsed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == BotSpeakingRecently {
		g.state = Idle
	}
}

func (g *Gate) stopTailTimerLocked() {
	if g.tailTimer != nil {
		g.tailTimer.Stop()
		g.tailTimer = nil
	}
}

// RMS computes the root-mean-square amplitude of decoded PCM16 samples,
// used by IngressPath's soft-gate check against BargeInRmsThreshold.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
