package playout

import (
	"math/rand"

	"github.com/telephonaut/sip-ai-bridge/internal/codec"
)

// clickAmplitude is the peak amplitude of the synthesized typing-sound
// click, per spec: roughly 1200/32767 of full scale.
const clickAmplitude = 1200

// comfortFiller generates either silence or a low-amplitude synthesized
// "typing sound" to fill gaps while the playout engine is buffering.
// Typing sounds are short click bursts interleaved with pauses: the clicks
// inside a burst are spaced 5-8 frames apart, bursts themselves are spaced
// 20-35 frames apart.
type comfortFiller struct {
	codec   codec.Codec
	enabled bool
	rng     *rand.Rand

	inBurst        bool
	clicksLeft     int
	framesToNext   int // frames until next click (in burst) or next burst
}

func newComfortFiller(c codec.Codec, enabled bool) *comfortFiller {
	f := &comfortFiller{
		codec:   c,
		enabled: enabled,
		rng:     rand.New(rand.NewSource(1)),
	}
	f.reset()
	return f
}

// reset returns the filler to its idle, pre-first-burst state. Used on
// construction and on PlayoutEngine.Clear (barge-in).
func (f *comfortFiller) reset() {
	f.inBurst = false
	f.clicksLeft = 0
	f.framesToNext = f.randBurstGap()
}

func (f *comfortFiller) randBurstGap() int {
	return 20 + f.rng.Intn(35-20+1)
}

func (f *comfortFiller) randClickGap() int {
	return 5 + f.rng.Intn(8-5+1)
}

// Next returns the next 160-byte comfort-fill frame.
func (f *comfortFiller) Next() []byte {
	if !f.enabled {
		return f.codec.SilenceFrame()
	}

	if f.framesToNext > 0 {
		f.framesToNext--
		return f.codec.SilenceFrame()
	}

	if !f.inBurst {
		f.inBurst = true
		f.clicksLeft = 2 + f.rng.Intn(3) // 2-4 clicks per burst
	}

	frame := f.clickFrame()
	f.clicksLeft--
	if f.clicksLeft <= 0 {
		f.inBurst = false
		f.framesToNext = f.randBurstGap()
	} else {
		f.framesToNext = f.randClickGap()
	}
	return frame
}

// clickFrame synthesizes one 20ms frame containing a short decaying click
// at the start and silence for the remainder.
func (f *comfortFiller) clickFrame() []byte {
	const decaySamples = 12
	samples := make([]int16, codec.FrameBytes)
	for i := 0; i < decaySamples && i < len(samples); i++ {
		sign := int16(1)
		if i%2 == 1 {
			sign = -1
		}
		decay := float64(decaySamples-i) / float64(decaySamples)
		samples[i] = int16(float64(sign) * clickAmplitude * decay)
	}
	return f.codec.EncodeSamples(nil, samples)
}
