package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSilenceBytesMatchEncodeOfZero(t *testing.T) {
	assert.Equal(t, ALawCodec.SilenceByte, ALawEncode(0))
	assert.Equal(t, ULawCodec.SilenceByte, ULawEncode(0))
}

func TestSilenceFrameDecodesNearZero(t *testing.T) {
	for _, c := range []Codec{ALawCodec, ULawCodec} {
		frame := c.SilenceFrame()
		require.Len(t, frame, FrameBytes)
		for _, b := range frame {
			s := c.Decode(b)
			assert.InDelta(t, 0, s, 16, "codec %s silence decode drifted", c.Name)
		}
	}
}

// Round-trip law (spec §8): encode(decode(b)) == b for every one of the 256
// possible companded byte values, for both codecs. The one exception is
// µ-law's negative zero 0x7F: it decodes to 0, which encodes as 0xFF.
func TestRoundTripByteIsStable(t *testing.T) {
	for _, c := range []Codec{ALawCodec, ULawCodec} {
		for i := 0; i < 256; i++ {
			b := byte(i)
			want := b
			if c.Name == ULaw && b == 0x7F {
				want = 0xFF
			}
			s := c.Decode(b)
			got := c.Encode(s)
			assert.Equal(t, want, got, "codec %s byte 0x%02x did not round-trip", c.Name, b)
		}
	}
}

// Decoding is within the codec's quantization error bound of the original
// linear sample that produced the byte.
func TestQuantizationErrorBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sample := rapid.Int16().Draw(rt, "sample")
		for _, c := range []Codec{ALawCodec, ULawCodec} {
			encoded := c.Encode(sample)
			decoded := c.Decode(encoded)
			diff := int(sample) - int(decoded)
			if diff < 0 {
				diff = -diff
			}
			// Logarithmic companding: error scales with amplitude, bounded
			// well under 1/16th of full scale even at the clip point.
			assert.LessOrEqual(t, diff, 2200, "codec %s sample %d decoded to %d", c.Name, sample, decoded)
		}
	})
}

func TestCodecByPayloadType(t *testing.T) {
	c, ok := CodecByPayloadType(8)
	require.True(t, ok)
	assert.Equal(t, ALaw, c.Name)

	c, ok = CodecByPayloadType(0)
	require.True(t, ok)
	assert.Equal(t, ULaw, c.Name)

	_, ok = CodecByPayloadType(97)
	assert.False(t, ok)
}

func TestTranscodeNoOpSameCodec(t *testing.T) {
	frame := ALawCodec.SilenceFrame()
	out := Transcode(ALawCodec, ALawCodec, frame)
	assert.Equal(t, frame, out)
}

func TestTranscodeUlawSilenceToAlawSilence(t *testing.T) {
	frame := ULawCodec.SilenceFrame()
	out := Transcode(ALawCodec, ULawCodec, frame)
	for _, b := range out {
		assert.Equal(t, ALawCodec.SilenceByte, b)
	}
}

func TestEncodeDecodeSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000, 1, -1}
	for _, c := range []Codec{ALawCodec, ULawCodec} {
		encoded := c.EncodeSamples(nil, samples)
		require.Len(t, encoded, len(samples))
		decoded := c.DecodeSamples(nil, encoded)
		require.Len(t, decoded, len(samples))
		assert.Equal(t, encoded, c.EncodeSamples(nil, decoded), "codec %s buffer did not round-trip", c.Name)
	}
}
