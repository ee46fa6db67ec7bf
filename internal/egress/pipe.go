// Package egress implements EgressPipe: the lifecycle orchestration that
// wraps FrameAccumulator + FrameQueue + PlayoutEngine and exposes the two
// public push modes the AI side can use (A-law passthrough or PCM16 with
// DSP+encode).
package egress

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/telephonaut/sip-ai-bridge/internal/audio"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
	"github.com/telephonaut/sip-ai-bridge/internal/dsp"
	"github.com/telephonaut/sip-ai-bridge/internal/playout"
)

// Mode selects EgressPipe's input format.
type Mode int

const (
	ModeALaw Mode = iota
	ModePCM
)

// Config wires an EgressPipe's dependencies. Exactly one of the two push
// methods is meaningful for a given Mode, but both are always safe to call
// (PushPCM on an A-law pipe is simply routed through the same decode path).
type Config struct {
	Mode          Mode
	Codec         codec.Codec
	MaxFrames     int
	DropBatch     int
	Gain          float64
	ThinningAlpha float64
	// PCMSampleRate is the sample rate of bytes given to PushPCM: 8000,
	// 16000, or 24000. Only meaningful in ModePCM.
	PCMSampleRate       int
	TypingSoundsEnabled bool
	Send                playout.Sender
	Log                 *slog.Logger

	// OnFrameEnqueued fires once per frame successfully written to the
	// FrameQueue (wired to BargeInGate.OnEgressFrameEnqueued).
	OnFrameEnqueued func()
	// OnQueueEmpty fires at the Playing->Buffering transition (wired to
	// BargeInGate.OnQueueEmpty).
	OnQueueEmpty func()
	// OnFrameOut fires once per frame just before the playout sink, for
	// non-perturbing observers (e.g. a lip-sync fork).
	OnFrameOut func(frame []byte)
}

// Pipe is the EgressPipe: idempotent start/stop, dual-mode push,
// drop-oldest + latency-clamp backpressure, and barge-in clear.
type Pipe struct {
	mu sync.Mutex

	mode          Mode
	codec         codec.Codec
	pcmSampleRate int
	gain          float64
	thinningAlpha float64

	acc    *audio.FrameAccumulator
	queue  *audio.FrameQueue
	engine *playout.Engine
	thin   *dsp.ThinningFilter

	log             *slog.Logger
	onFrameEnqueued func()

	started  atomic.Bool
	disposed atomic.Bool
}

// New builds a Pipe. It does not start the playout loop; call Start().
func New(cfg Config) *Pipe {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	onEnqueued := cfg.OnFrameEnqueued
	if onEnqueued == nil {
		onEnqueued = func() {}
	}

	acc := audio.NewFrameAccumulator()
	queue := audio.NewFrameQueue(cfg.MaxFrames, cfg.DropBatch)
	engine := playout.New(playout.Config{
		Queue:               queue,
		Codec:               cfg.Codec,
		Send:                cfg.Send,
		Log:                 log,
		Gain:                cfg.Gain,
		ThinningAlpha:       cfg.ThinningAlpha,
		TypingSoundsEnabled: cfg.TypingSoundsEnabled,
		OnQueueEmpty:        cfg.OnQueueEmpty,
		OnFrameOut:          cfg.OnFrameOut,
	})

	p := &Pipe{
		mode:            cfg.Mode,
		codec:           cfg.Codec,
		pcmSampleRate:   cfg.PCMSampleRate,
		gain:            cfg.Gain,
		thinningAlpha:   cfg.ThinningAlpha,
		acc:             acc,
		queue:           queue,
		engine:          engine,
		log:             log,
		onFrameEnqueued: onEnqueued,
	}
	return p
}

// Start is idempotent: a second Start on an already-started pipe is a
// no-op. Resets plugin state and spawns the playout loop.
func (p *Pipe) Start() {
	if p.disposed.Load() {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.thin = dsp.NewThinningFilter(p.thinningAlpha)
	p.mu.Unlock()
	p.engine.Start()
}

// Stop is idempotent. Cancels the playout task, then flushes any
// partial-frame residue left in the accumulator (padded with silence per
// spec.md §4.4) directly out through the engine's send path, so the call's
// trailing audio actually reaches the wire instead of being silently
// dropped, before draining whatever remains queued.
func (p *Pipe) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	p.engine.Stop()
	if frame := p.acc.Flush(p.codec.SilenceByte); frame != nil {
		if err := p.engine.Flush(frame); err != nil {
			p.log.Warn("residue flush send failed", "error", err)
		}
	}
	p.queue.Clear()
}

// Dispose stops the pipe (if running) and marks it permanently unusable;
// Start after Dispose is a no-op.
func (p *Pipe) Dispose() {
	p.Stop()
	p.disposed.Store(true)
}

// Clear drops the queue and resets playout/accumulator state for
// barge-in, without stopping the pipe.
func (p *Pipe) Clear() {
	p.acc.Clear()
	p.engine.Clear()
}

// QueueLen reports the current FrameQueue depth (used by BargeInGate's
// watchdog to check queue_empty without owning the queue).
func (p *Pipe) QueueLen() int {
	return p.queue.Len()
}

// PushALaw pushes already-companded A-law bytes through the accumulator.
// Push-before-start is silently discarded (lifecycle violation, not an
// error, per spec §7).
func (p *Pipe) PushALaw(data []byte) {
	if !p.started.Load() {
		return
	}
	frames := p.acc.Accumulate(data)
	p.enqueueFrames(frames)
}

// PushPCM decodes little-endian PCM16 at the configured sample rate,
// applies the optional thinning filter, resamples down to 8kHz if needed,
// A-law encodes, and pushes through the same accumulator path as PushALaw.
// A malformed push (odd byte length) is logged and discarded; plugin state
// (the thinning filter) is never reset on such an error, per spec's
// log-and-continue resolution.
func (p *Pipe) PushPCM(data []byte) {
	if !p.started.Load() {
		return
	}
	if len(data)%2 != 0 {
		p.log.Warn("pcm push discarded: odd byte length", "len", len(data))
		return
	}
	samples := bytesToPCM16(data)

	p.mu.Lock()
	thin := p.thin
	p.mu.Unlock()
	if thin != nil {
		thin.Apply(samples)
	}

	samples = p.downsampleTo8k(samples)
	alaw := p.codec.EncodeSamples(nil, samples)
	frames := p.acc.Accumulate(alaw)
	p.enqueueFrames(frames)
}

func (p *Pipe) enqueueFrames(frames [][]byte) {
	for _, f := range frames {
		res := p.queue.Push(f)
		if res.Invalid {
			p.log.Warn("frame invariant violated, dropping", "len", len(f))
			continue
		}
		p.onFrameEnqueued()
		if res.EvictedOldest {
			p.log.Warn("egress queue full, dropped oldest frame")
		}
		if res.ClampEvicted > 0 {
			p.log.Warn("egress latency clamp triggered", "dropped_frames", res.ClampEvicted)
		}
	}
}

// downsampleTo8k reduces pcmSampleRate down to 8kHz using the in-scope
// linear resamplers. 24kHz takes the 24->16 step then a stateless
// point-decimation to 8kHz (resampling is explicitly not the
// correctness-critical path per spec §4.2 — this local step is simple by
// design).
func (p *Pipe) downsampleTo8k(samples []int16) []int16 {
	switch p.pcmSampleRate {
	case 0, 8000:
		return samples
	case 16000:
		return decimateHalf(samples)
	case 24000:
		sixteen := dsp.Resample24to16(nil, samples)
		return decimateHalf(sixteen)
	default:
		return samples
	}
}

// decimateHalf takes every other sample, halving the rate.
func decimateHalf(samples []int16) []int16 {
	out := make([]int16, (len(samples)+1)/2)
	for i := range out {
		out[i] = samples[i*2]
	}
	return out
}

func bytesToPCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return out
}
