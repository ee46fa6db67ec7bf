// Package audio coalesces arbitrary AI byte chunks into fixed-size G.711
// frames and holds them in a bounded, drop-oldest queue between the AI
// receive path and the paced playout loop.
package audio

import "sync"

// FrameSize is the fixed frame length the accumulator slices off and the
// queue enforces: 160 bytes, 20 ms of 8 kHz G.711.
const FrameSize = 160

// FrameAccumulator turns an arbitrary-sized byte stream into a sequence of
// exact FrameSize frames. All operations serialize under a single mutex;
// the hot path is one push per 20 ms of audio on average, so contention is
// negligible.
type FrameAccumulator struct {
	mu  sync.Mutex
	buf []byte
}

// NewFrameAccumulator returns an empty accumulator.
func NewFrameAccumulator() *FrameAccumulator {
	return &FrameAccumulator{buf: make([]byte, 0, FrameSize*4)}
}

// Accumulate appends data to the internal buffer (growing geometrically via
// append) and slices off as many complete frames as are now available. The
// remainder stays buffered for the next call. Post-condition: 0 <= Residue() < FrameSize.
func (a *FrameAccumulator) Accumulate(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, data...)
	var frames [][]byte
	for len(a.buf) >= FrameSize {
		frame := make([]byte, FrameSize)
		copy(frame, a.buf[:FrameSize])
		frames = append(frames, frame)
		a.buf = a.buf[FrameSize:]
	}
	// Re-home the remainder at buffer start so repeated slicing doesn't
	// grow the backing array unbounded.
	if len(a.buf) > 0 {
		rem := make([]byte, len(a.buf), FrameSize*4)
		copy(rem, a.buf)
		a.buf = rem
	} else {
		a.buf = a.buf[:0]
	}
	return frames
}

// Residue reports the number of buffered bytes not yet forming a full frame.
func (a *FrameAccumulator) Residue() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Clear resets the accumulator to empty; buffer capacity is retained.
func (a *FrameAccumulator) Clear() {
	a.mu.Lock()
	a.buf = a.buf[:0]
	a.mu.Unlock()
}

// Flush pads any partial residue with silenceByte and returns it as one
// final frame, or nil if there was no residue. Used only on stream end, so
// tail bytes don't sit forever unplayed.
func (a *FrameAccumulator) Flush(silenceByte byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return nil
	}
	frame := make([]byte, FrameSize)
	copy(frame, a.buf)
	for i := len(a.buf); i < FrameSize; i++ {
		frame[i] = silenceByte
	}
	a.buf = a.buf[:0]
	return frame
}
