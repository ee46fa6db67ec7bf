package dsp

import "github.com/telephonaut/sip-ai-bridge/internal/codec"

// gainSkipThreshold is the fast-path cutoff: gains this close to unity are
// not worth a decode/re-encode pass.
const gainSkipThreshold = 0.01

// ApplyALawGain decodes each byte of frame, multiplies by gain, clamps to
// the G.711 dynamic range, and re-encodes in place. A no-op when gain is
// within gainSkipThreshold of 1.0.
func ApplyALawGain(c codec.Codec, frame []byte, gain float64) {
	if gain > 1-gainSkipThreshold && gain < 1+gainSkipThreshold {
		return
	}
	for i, b := range frame {
		s := float64(c.Decode(b)) * gain
		frame[i] = c.Encode(clampSample(s))
	}
}

const sampleClip = 32635

func clampSample(s float64) int16 {
	if s > sampleClip {
		return sampleClip
	}
	if s < -sampleClip {
		return -sampleClip
	}
	return int16(s)
}
