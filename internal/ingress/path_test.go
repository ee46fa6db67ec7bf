package ingress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephonaut/sip-ai-bridge/internal/bargein"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
)

func newTestPath(t *testing.T, gate *bargein.Gate, gain, threshold float64) (*Path, *[][]byte) {
	t.Helper()
	var sent [][]byte
	p := New(Config{
		PeerCodec:           codec.ALawCodec,
		Gate:                gate,
		IngressGain:         gain,
		BargeInRmsThreshold: threshold,
		Send: func(frame []byte) error {
			sent = append(sent, append([]byte(nil), frame...))
			return nil
		},
	})
	return p, &sent
}

func toneFrame(amplitude int16) []byte {
	frame := make([]byte, codec.FrameBytes)
	for i := range frame {
		s := amplitude
		if i%2 == 1 {
			s = -amplitude
		}
		frame[i] = codec.ALawCodec.Encode(s)
	}
	return frame
}

func TestFlushGuardDropsFirst20Packets(t *testing.T) {
	p, sent := newTestPath(t, nil, 0, 0)
	for i := 0; i < flushGuardPackets; i++ {
		p.Process(toneFrame(10000))
	}
	assert.Empty(t, *sent)
}

func TestFlushGuardDropsWithin500ms(t *testing.T) {
	p, sent := newTestPath(t, nil, 0, 0)
	p.startedAt = time.Now()
	for i := 0; i < flushGuardPackets+5; i++ {
		p.Process(toneFrame(10000))
	}
	assert.Empty(t, *sent)
}

func TestPacketsPassThroughAfterFlushGuard(t *testing.T) {
	p, sent := newTestPath(t, nil, 0, 0)
	p.startedAt = time.Now().Add(-time.Second)
	for i := 0; i < flushGuardPackets; i++ {
		p.Process(toneFrame(10000))
	}
	require.Empty(t, *sent)
	p.Process(toneFrame(10000))
	require.Len(t, *sent, 1)
}

func warmPath(p *Path) {
	p.startedAt = time.Now().Add(-time.Second)
	p.packetCount.Store(flushGuardPackets)
}

func TestSoftGateSubstitutesSilenceBelowThreshold(t *testing.T) {
	g := bargein.New(bargein.Config{QueueLen: func() int { return 0 }})
	g.OnEgressFrameEnqueued() // BotSpeaking -> suppress
	p, sent := newTestPath(t, g, 0, 5000)
	warmPath(p)

	p.Process(toneFrame(100)) // quiet, below threshold
	require.Len(t, *sent, 1)
	assert.Equal(t, codec.ALawCodec.SilenceFrame(), (*sent)[0])
}

func TestSoftGatePassesLoudAudioThrough(t *testing.T) {
	g := bargein.New(bargein.Config{QueueLen: func() int { return 0 }})
	g.OnEgressFrameEnqueued()
	p, sent := newTestPath(t, g, 0, 5000)
	warmPath(p)

	loud := toneFrame(20000)
	p.Process(loud)
	require.Len(t, *sent, 1)
	assert.Equal(t, loud, (*sent)[0])
}

func TestNoGateMeansNoSuppression(t *testing.T) {
	p, sent := newTestPath(t, nil, 0, 5000)
	warmPath(p)
	quiet := toneFrame(100)
	p.Process(quiet)
	require.Len(t, *sent, 1)
	assert.Equal(t, quiet, (*sent)[0])
}

func TestTranscodesMuLawToALaw(t *testing.T) {
	var sent [][]byte
	p := New(Config{
		PeerCodec: codec.ULawCodec,
		Send: func(frame []byte) error {
			sent = append(sent, append([]byte(nil), frame...))
			return nil
		},
	})
	warmPath(p)

	ulawSilence := codec.ULawCodec.SilenceFrame()
	p.Process(ulawSilence)
	require.Len(t, sent, 1)
	assert.Equal(t, codec.ALawCodec.SilenceFrame(), sent[0])
}

func TestIngressGainAboveThresholdAmplifies(t *testing.T) {
	p, sent := newTestPath(t, nil, 4.0, 0)
	warmPath(p)

	frame := toneFrame(100)
	p.Process(frame)
	require.Len(t, *sent, 1)
	assert.NotEqual(t, frame, (*sent)[0])
}

func TestIngressGainAtUnityIsNoOp(t *testing.T) {
	p, sent := newTestPath(t, nil, 1.0, 0)
	warmPath(p)

	frame := toneFrame(12345)
	p.Process(frame)
	require.Len(t, *sent, 1)
	assert.Equal(t, frame, (*sent)[0])
}
