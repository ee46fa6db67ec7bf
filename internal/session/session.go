// Package session implements Session lifecycle: it owns the EgressPipe, the
// AI client handle, and the BargeInGate, wiring their callbacks together and
// tearing them down leaf-first on call end (spec.md §9's redesign away from
// cyclic session/pipe/AI-client references).
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/telephonaut/sip-ai-bridge/internal/aiclient"
	"github.com/telephonaut/sip-ai-bridge/internal/audio"
	"github.com/telephonaut/sip-ai-bridge/internal/bargein"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
	"github.com/telephonaut/sip-ai-bridge/internal/config"
	"github.com/telephonaut/sip-ai-bridge/internal/egress"
	"github.com/telephonaut/sip-ai-bridge/internal/ingress"
	"github.com/telephonaut/sip-ai-bridge/internal/sipmedia"
)

// healthLogInterval is how often Session emits a structured line
// summarizing queue depth and barge-in state, so an operator tailing logs
// can see the bridge's live health without an external dependency.
const healthLogInterval = 15 * time.Second

// Session owns one call's full audio path: Pipe (which owns PlayoutEngine),
// the AI client handle, and the half-duplex Gate. Nothing here holds a
// strong back-pointer to its owner. Close() releases a Session's resources;
// the endpoint's RTP pump running to completion (on SIP dialog teardown)
// releases nothing by itself. The AI client also closes itself when the ctx
// given to New is cancelled.
type Session struct {
	log      *slog.Logger
	callID   string
	endpoint *sipmedia.Endpoint
	pipe     *egress.Pipe
	gate     *bargein.Gate
	path     *ingress.Path
	ai       *aiclient.Client

	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWG     sync.WaitGroup

	closeOnce sync.Once
}

// New negotiates the call's G.711 endpoint, builds the egress/ingress/
// barge-in pipeline, and dials the AI. The AI connection is gated behind
// session.created/session.updated (AI client's OnSessionReady) before the
// pipe starts pushing, matching spec.md §6's "mark session ready; enable
// push" resolution.
func New(ctx context.Context, dialog sipmedia.Dialog, callID string, cfg config.Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("call_id", callID)

	endpoint, err := sipmedia.New(dialog, cfg.FrameDuration)
	if err != nil {
		return nil, err
	}
	log.Info("sip media negotiated", "codec", endpoint.Codec.Name, "payload_type", endpoint.Codec.PayloadType)

	sender := sipmedia.NewSender(endpoint.RTPWriter(), endpoint.PayloadType(), rand.Uint32())

	// gate and ai are forward-referenced by closures below and assigned
	// once their own constructors run; by the time any of these callbacks
	// actually fires (after pipe.Start()/ai handlers are live) both are set.
	var gate *bargein.Gate
	var ai *aiclient.Client

	pipe := egress.New(egress.Config{
		Mode:                egress.ModeALaw,
		Codec:               endpoint.Codec,
		MaxFrames:           cfg.MaxFrames,
		DropBatch:           cfg.DropBatch,
		Gain:                cfg.AlawGain,
		ThinningAlpha:       cfg.ThinningAlpha,
		TypingSoundsEnabled: cfg.TypingSoundsEnabled,
		Send:                sender.Send,
		Log:                 log,
		OnFrameEnqueued:     func() { gate.OnEgressFrameEnqueued() },
		OnQueueEmpty:        func() { gate.OnQueueEmpty() },
	})

	gate = bargein.New(bargein.Config{
		QueueLen:              pipe.QueueLen,
		NotifyPlayoutComplete: func() { log.Info("playout complete") },
		ClearEgress:           pipe.Clear,
		Log:                   log,
		EchoGuardMs:           cfg.EchoGuardMs,
	})

	path := ingress.New(ingress.Config{
		PeerCodec:           endpoint.Codec,
		Gate:                gate,
		IngressGain:         cfg.IngressGain,
		BargeInRmsThreshold: cfg.BargeInRmsThreshold,
		Send:                func(alaw []byte) error { return ai.SendAudio(alaw) },
		Log:                 log,
	})

	// The AI speaks A-law both ways: ingress transcodes the caller's audio to
	// A-law, and the AI's A-law output is transcoded to the negotiated codec.
	preferredFormat := "g711_alaw"

	ai, err = aiclient.Dial(ctx, aiclient.Config{
		URL:                  cfg.AIServerURL,
		APIKey:               cfg.AIAPIKey,
		CallID:               callID,
		Voice:                cfg.AIVoice,
		PreferredCodec:       preferredFormat,
		VADThreshold:         cfg.AIVADThreshold,
		VADSilenceDurationMs: int(cfg.AIVADSilenceDuration / time.Millisecond),
		Log:                  log,
		Handlers: aiclient.Handlers{
			OnSessionReady: pipe.Start,
			OnAudioDelta: func(alaw []byte) {
				pipe.PushALaw(codec.Transcode(endpoint.Codec, codec.ALawCodec, alaw))
			},
			OnResponseDone: gate.OnResponseDone,
			OnBargeIn:      gate.OnBargeIn,
			OnError:        func(msg string) { log.Warn("ai reported error", "message", msg) },
		},
	})
	if err != nil {
		pipe.Dispose()
		return nil, err
	}

	healthCtx, healthCancel := context.WithCancel(ctx)
	s := &Session{
		log:          log,
		callID:       callID,
		endpoint:     endpoint,
		pipe:         pipe,
		gate:         gate,
		path:         path,
		ai:           ai,
		healthCtx:    healthCtx,
		healthCancel: healthCancel,
	}

	s.healthWG.Add(1)
	go s.runHealthLog()

	return s, nil
}

// Pump runs the inbound RTP receive loop until the endpoint's reader ends
// (SIP dialog teardown) or ctx is cancelled. Blocking; call from its own
// goroutine.
func (s *Session) Pump(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.endpoint.Pump(s.path.Process, s.log)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (s *Session) runHealthLog() {
	defer s.healthWG.Done()
	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.healthCtx.Done():
			return
		case <-ticker.C:
			s.log.Info("session health",
				"queue_len", s.pipe.QueueLen(),
				"barge_in_state", s.gate.State().String(),
			)
		}
	}
}

// Close tears the session down leaf-first: playout/pipe, then the AI
// client. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.healthCancel()
		s.healthWG.Wait()
		s.pipe.Dispose()
		if err := s.ai.Close(); err != nil {
			s.log.Warn("ai client close error", "error", err)
		}
	})
}
