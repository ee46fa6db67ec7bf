// Package dsp holds the perf-critical audio primitives that sit beside the
// G.711 codec: linear-interpolation resampling and the A-law gain/HPF
// filters used by egress and ingress. None of this is bandlimited or
// psychoacoustic — linear interpolation is sufficient for 8 kHz voice.
package dsp

// Resample8to24 triples the sample rate via linear interpolation: for each
// input pair (s0, s1) emit s0, (2*s0+s1)/3, (s0+2*s1)/3. The last input
// sample has no successor, so it is simply tripled.
func Resample8to24(dst, src []int16) []int16 {
	n := len(src) * 3
	dst = ensureCap(dst, n)
	for i, s0 := range src {
		var s1 int16
		if i+1 < len(src) {
			s1 = src[i+1]
		} else {
			s1 = s0
		}
		base := i * 3
		dst[base] = s0
		dst[base+1] = int16((2*int32(s0) + int32(s1)) / 3)
		dst[base+2] = int16((int32(s0) + 2*int32(s1)) / 3)
	}
	return dst
}

// Resample24to16 converts 24 kHz to 16 kHz (2/3 ratio) via linear
// interpolation between fractional source indices.
func Resample24to16(dst, src []int16) []int16 {
	if len(src) == 0 {
		return dst[:0]
	}
	n := len(src) * 2 / 3
	dst = ensureCap(dst, n)
	for i := 0; i < n; i++ {
		srcPos := float64(i) * 1.5
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		s0 := src[idx]
		var s1 int16
		if idx+1 < len(src) {
			s1 = src[idx+1]
		} else {
			s1 = s0
		}
		dst[i] = int16(float64(s0) + frac*float64(int32(s1)-int32(s0)))
	}
	return dst
}

// Resample8to16 doubles the sample rate. Stateless: it duplicates the first
// sample as its own predecessor rather than carrying cross-call state,
// accepting a one-sample discontinuity at buffer boundaries to avoid shared
// mutable state between calls.
func Resample8to16(dst, src []int16) []int16 {
	n := len(src) * 2
	dst = ensureCap(dst, n)
	var prev int16
	for i, s := range src {
		if i == 0 {
			prev = s
		} else {
			prev = src[i-1]
		}
		dst[2*i] = int16((int32(prev) + int32(s)) / 2)
		dst[2*i+1] = s
	}
	return dst
}

func ensureCap(dst []int16, n int) []int16 {
	if cap(dst) < n {
		return make([]int16, n)
	}
	return dst[:n]
}
