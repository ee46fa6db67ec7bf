package egress

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephonaut/sip-ai-bridge/internal/audio"
	"github.com/telephonaut/sip-ai-bridge/internal/codec"
)

func newTestPipe(t *testing.T) (*Pipe, *[][]byte, *int32) {
	t.Helper()
	var mu sync.Mutex
	var sent [][]byte
	var enqueued int32
	p := New(Config{
		Mode:      ModeALaw,
		Codec:     codec.ALawCodec,
		MaxFrames: audio.DefaultMaxFrames,
		DropBatch: audio.DefaultDropBatch,
		Send: func(frame []byte, ts uint32) error {
			mu.Lock()
			sent = append(sent, append([]byte(nil), frame...))
			mu.Unlock()
			return nil
		},
		OnFrameEnqueued: func() { atomic.AddInt32(&enqueued, 1) },
	})
	return p, &sent, &enqueued
}

func TestPushBeforeStartDiscarded(t *testing.T) {
	p, _, enqueued := newTestPipe(t)
	p.PushALaw(make([]byte, 1000))
	assert.Equal(t, int32(0), atomic.LoadInt32(enqueued))
}

func TestPushAlawAfterStartEnqueues(t *testing.T) {
	p, _, enqueued := newTestPipe(t)
	p.Start()
	defer p.Stop()
	p.PushALaw(make([]byte, 1000)) // 6 frames, 40 bytes residue
	assert.Equal(t, int32(6), atomic.LoadInt32(enqueued))
	assert.Equal(t, 6, p.QueueLen())
}

func TestDoubleStartIsNoOp(t *testing.T) {
	p, _, _ := newTestPipe(t)
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}

func TestClearDropsQueueAndResidue(t *testing.T) {
	p, _, _ := newTestPipe(t)
	p.Start()
	defer p.Stop()
	p.PushALaw(make([]byte, 1000))
	require.Equal(t, 6, p.QueueLen())
	p.Clear()
	assert.Equal(t, 0, p.QueueLen())
}

func TestDisposePreventsRestart(t *testing.T) {
	p, _, enqueued := newTestPipe(t)
	p.Start()
	p.Dispose()
	p.Start()
	p.PushALaw(make([]byte, 1000))
	assert.Equal(t, int32(0), atomic.LoadInt32(enqueued))
}

func TestPushPCMDiscardsOddLength(t *testing.T) {
	p, _, enqueued := newTestPipe(t)
	p.Start()
	defer p.Stop()
	p.PushPCM(make([]byte, 3))
	assert.Equal(t, int32(0), atomic.LoadInt32(enqueued))
}

func TestPushPCMEncodesAndEnqueues(t *testing.T) {
	p := New(Config{
		Mode:          ModePCM,
		Codec:         codec.ALawCodec,
		MaxFrames:     audio.DefaultMaxFrames,
		DropBatch:     audio.DefaultDropBatch,
		PCMSampleRate: 8000,
		Send:          func(frame []byte, ts uint32) error { return nil },
	})
	p.Start()
	defer p.Stop()
	// 320 bytes = 160 PCM16 samples = one 8kHz frame.
	p.PushPCM(make([]byte, 320))
	assert.Equal(t, 1, p.QueueLen())
}

func TestStopFlushesResidueAsSilencePaddedFrame(t *testing.T) {
	p, sent, _ := newTestPipe(t)
	p.Start()
	p.PushALaw(make([]byte, 40)) // under one frame; stays as accumulator residue
	require.Equal(t, 0, p.QueueLen())
	p.Stop()

	require.Len(t, *sent, 1)
	frame := (*sent)[0]
	require.Len(t, frame, audio.FrameSize)
	for i := 40; i < audio.FrameSize; i++ {
		assert.Equal(t, codec.ALawCodec.SilenceByte, frame[i])
	}
}

func TestStopWithNoResidueSendsNothing(t *testing.T) {
	p, sent, _ := newTestPipe(t)
	p.Start()
	p.Stop()
	assert.Empty(t, *sent)
}

func TestByteFidelityModuloDrops(t *testing.T) {
	p, _, _ := newTestPipe(t)
	p.Start()
	defer p.Stop()

	data := make([]byte, 160*300) // 300 frames worth, overruns MaxFrames
	for i := range data {
		data[i] = byte(i)
	}
	p.PushALaw(data)
	assert.LessOrEqual(t, p.QueueLen(), audio.DefaultMaxFrames)

	// Every frame still queued is an intact 160-byte slice of the input, in
	// input order: drops remove whole frames and never reorder them.
	next := 0
	for {
		frame, ok := p.queue.Pop()
		if !ok {
			break
		}
		found := false
		for ; next < 300 && !found; next++ {
			found = bytes.Equal(frame, data[next*160:(next+1)*160])
		}
		assert.True(t, found, "queued frame is not an in-order slice of the input")
	}
}
