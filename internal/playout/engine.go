// Package playout implements the paced 20ms playout loop that drains the
// egress FrameQueue onto the RTP send path: jitter buffering, comfort fill,
// and the playout-complete signal the AI needs to know when the caller has
// actually heard the end of a response.
package playout

import (
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telephonaut/sip-ai-bridge/internal/audio"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
	"github.com/telephonaut/sip-ai-bridge/internal/dsp"
)

// TickInterval is the hard playout cadence: one 160-byte frame every 20ms.
const TickInterval = 20 * time.Millisecond

const (
	startThreshold  = 2 // frames buffered before first playout
	resumeThreshold = 1 // frames buffered after an underrun, once HasPlayedAudio
)

// State is the playout state machine's two states.
type State int32

const (
	Buffering State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "buffering"
}

// Sender transmits one encoded frame at the given RTP timestamp. Send
// failures are logged by the engine and do not stop the cadence — the
// timestamp advances regardless, per spec error handling.
type Sender func(frame []byte, timestamp uint32) error

// Engine owns the consumer side of a FrameQueue and the RTP send path for
// one call. It runs on a single dedicated goroutine.
type Engine struct {
	queue   *audio.FrameQueue
	codec   codec.Codec
	send    Sender
	log     *slog.Logger
	comfort *comfortFiller

	gain    float64
	thinner *dsp.ThinningFilter

	onQueueEmpty        func()
	onFrameOut          func(frame []byte)
	typingSoundsEnabled bool

	started atomic.Bool
	cancel  func()
	done    chan struct{}

	// timestamp is advanced by the run goroutine, and by Flush once the loop
	// has exited. state and hasPlayedAudio are atomics because Clear writes
	// them from the barge-in path and State()/HasPlayedAudio() read them
	// from other goroutines.
	state          atomic.Int32
	hasPlayedAudio atomic.Bool
	timestamp      uint32
}

// Config wires an Engine's dependencies.
type Config struct {
	Queue               *audio.FrameQueue
	Codec               codec.Codec
	Send                Sender
	Log                 *slog.Logger
	Gain                float64
	ThinningAlpha       float64
	TypingSoundsEnabled bool
	OnQueueEmpty        func()
	OnFrameOut          func(frame []byte)
}

// New builds an Engine. The initial RTP timestamp is randomized per spec's
// "32-bit wrapping, initial random" requirement.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	onEmpty := cfg.OnQueueEmpty
	if onEmpty == nil {
		onEmpty = func() {}
	}
	onFrameOut := cfg.OnFrameOut
	if onFrameOut == nil {
		onFrameOut = func([]byte) {}
	}
	e := &Engine{
		queue:               cfg.Queue,
		codec:               cfg.Codec,
		send:                cfg.Send,
		log:                 log,
		comfort:             newComfortFiller(cfg.Codec, cfg.TypingSoundsEnabled),
		gain:                cfg.Gain,
		thinner:             dsp.NewThinningFilter(cfg.ThinningAlpha),
		onQueueEmpty:        onEmpty,
		onFrameOut:          onFrameOut,
		typingSoundsEnabled: cfg.TypingSoundsEnabled,
	}
	e.timestamp = rand.Uint32()
	e.state.Store(int32(Buffering))
	return e
}

// State reports the current playout state (Buffering or Playing).
func (e *Engine) State() State {
	return State(e.state.Load())
}

// HasPlayedAudio reports the sticky "ever played a real frame" flag.
func (e *Engine) HasPlayedAudio() bool {
	return e.hasPlayedAudio.Load()
}

// Start spawns the paced loop. Idempotent: a second Start on an already
// started engine is a no-op.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.state.Store(int32(Buffering))
	e.hasPlayedAudio.Store(false)
	e.comfort.reset()

	stopCh := make(chan struct{})
	e.cancel = sync.OnceFunc(func() { close(stopCh) })
	e.done = make(chan struct{})
	go e.run(stopCh)
}

// Stop cancels the loop and waits up to 500ms for it to exit. If it doesn't,
// resources are leaked rather than blocking indefinitely (per spec §5).
func (e *Engine) Stop() {
	if !e.started.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(500 * time.Millisecond):
		e.log.Warn("playout engine stop deadline exceeded; abandoning goroutine")
	}
}

// Clear drops the queue, resets the sticky playback flag and comfort-fill
// state back to Buffering. Used for barge-in.
func (e *Engine) Clear() {
	e.queue.Clear()
	e.state.Store(int32(Buffering))
	e.hasPlayedAudio.Store(false)
	e.comfort.reset()
}

func (e *Engine) run(stopCh <-chan struct{}) {
	defer close(e.done)

	// High-resolution pacing: track the ideal next-tick deadline rather than
	// sleeping a fixed duration each time, so scheduler slack never
	// compounds into drift.
	next := time.Now().Add(TickInterval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			e.tick()

			next = next.Add(TickInterval)
			wait := time.Until(next)
			if wait < 0 {
				// We fell behind by more than a tick; resync instead of
				// firing a storm of immediate ticks.
				next = time.Now().Add(TickInterval)
				wait = TickInterval
			}
			timer.Reset(wait)
		}
	}
}

func (e *Engine) tick() {
	state := e.State()

	if state == Buffering {
		threshold := startThreshold
		if e.HasPlayedAudio() {
			threshold = resumeThreshold
		}
		if e.queue.Len() < threshold {
			e.sendComfortFill()
			return
		}
		e.state.Store(int32(Playing))
		state = Playing
	}

	if state == Playing {
		frame, ok := e.queue.Pop()
		if !ok {
			e.state.Store(int32(Buffering))
			e.sendSilenceOnUnderrun()
			e.onQueueEmpty()
			return
		}
		e.hasPlayedAudio.Store(true)
		e.playFrame(frame)
	}
}

func (e *Engine) playFrame(frame []byte) {
	if e.gain != 0 {
		dsp.ApplyALawGain(e.codec, frame, e.gain)
	}
	e.onFrameOut(frame)
	e.sendFrame(frame)
}

// Flush transmits one already-encoded final frame directly through the
// same gain/timestamp path as a popped frame, bypassing the queue and the
// paced loop. Used by EgressPipe.Stop to emit the accumulator's trailing
// sub-frame residue (silence-padded per spec.md §4.4) once the loop has
// already exited, so it reaches the wire instead of being silently dropped.
func (e *Engine) Flush(frame []byte) error {
	if e.gain != 0 {
		dsp.ApplyALawGain(e.codec, frame, e.gain)
	}
	ts := e.timestamp
	e.timestamp += uint32(audio.FrameSize)
	return e.send(frame, ts)
}

func (e *Engine) sendComfortFill() {
	e.sendFrame(e.comfort.Next())
}

func (e *Engine) sendSilenceOnUnderrun() {
	e.sendFrame(e.codec.SilenceFrame())
}

func (e *Engine) sendFrame(frame []byte) {
	ts := e.timestamp
	e.timestamp += uint32(audio.FrameSize)
	if err := e.send(frame, ts); err != nil {
		e.log.Warn("rtp send failed", "error", err, "timestamp", ts)
	}
}
