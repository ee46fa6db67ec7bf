// Package ingress implements IngressPath: the per-RTP-packet transform from
// caller audio to what the AI receives — codec normalization, half-duplex
// soft-gating, and ingress gain.
package ingress

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telephonaut/sip-ai-bridge/internal/bargein"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
	"github.com/telephonaut/sip-ai-bridge/internal/dsp"
)

// flushGuardPackets and flushGuardDuration bound the initial window where
// inbound RTP is discarded outright: some PBXs prime their own jitter
// buffer with garbage in the first packets/milliseconds of a call.
const (
	flushGuardPackets  = 20
	flushGuardDuration = 500 * time.Millisecond
)

// defaultIngressGainThreshold is the minimum gain worth applying; spec's
// "IngressGain > 1.01" check.
const defaultIngressGainThreshold = 1.01

// Sender forwards A-law bytes to the AI. A non-owning reference: IngressPath
// never owns the AI connection's lifecycle.
type Sender func(alaw []byte) error

// Path is IngressPath: a pure per-packet transform driven by Process. It
// holds no queue of its own — it runs inline on the RTP receive context.
type Path struct {
	peerCodec    codec.Codec
	target       codec.Codec // always A-law: the AI's declared input_audio_format
	gate         *bargein.Gate
	ingressGain  float64
	rmsThreshold float64
	send         Sender
	log          *slog.Logger

	startedAt   time.Time
	packetCount atomic.Int64
}

// Config wires a Path's dependencies.
type Config struct {
	PeerCodec           codec.Codec
	Gate                *bargein.Gate
	IngressGain         float64
	BargeInRmsThreshold float64
	Send                Sender
	Log                 *slog.Logger
}

// New builds a Path. startedAt is recorded now, for the flush guard's
// "first 500ms after call start" window.
func New(cfg Config) *Path {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	threshold := cfg.BargeInRmsThreshold
	if threshold == 0 {
		threshold = DefaultBargeInRmsThreshold
	}
	return &Path{
		peerCodec:    cfg.PeerCodec,
		target:       codec.ALawCodec,
		gate:         cfg.Gate,
		ingressGain:  cfg.IngressGain,
		rmsThreshold: threshold,
		send:         cfg.Send,
		log:          log,
		startedAt:    time.Now(),
	}
}

// DefaultBargeInRmsThreshold is spec's default soft-gate RMS cutoff
// (~-26 dBFS).
const DefaultBargeInRmsThreshold = 1500

// Process runs one inbound RTP payload through the full pipeline and
// forwards the result to the AI sender. Payloads dropped by the flush
// guard are not forwarded at all.
func (p *Path) Process(payload []byte) {
	n := p.packetCount.Add(1)
	if n <= flushGuardPackets || time.Since(p.startedAt) < flushGuardDuration {
		return
	}

	frame := codec.Transcode(p.target, p.peerCodec, payload)
	// Transcode may return the input slice verbatim (same-codec fast
	// path); never mutate caller-owned memory below this point.
	frame = append([]byte(nil), frame...)

	if p.gate != nil && p.gate.ShouldSuppress() {
		pcm := p.target.DecodeSamples(nil, frame)
		if bargein.RMS(pcm) < p.rmsThreshold {
			frame = p.target.SilenceFrame()
		}
	}

	if p.ingressGain > defaultIngressGainThreshold {
		dsp.ApplyALawGain(p.target, frame, p.ingressGain)
	}

	if err := p.send(frame); err != nil {
		p.log.Warn("ai send failed", "error", err)
	}
}
