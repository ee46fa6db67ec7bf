// Package codec implements ITU-T G.711 A-law and µ-law companding:
// encode routines, decode tables built once at startup, and the silence constants used
// throughout the bridge. Decoding is table-driven because it runs on every
// sample, every 20 ms frame.
package codec

// Name identifies a negotiated G.711 variant.
type Name int

const (
	ALaw Name = iota
	ULaw
)

func (n Name) String() string {
	if n == ULaw {
		return "ulaw"
	}
	return "alaw"
}

// FrameBytes is the size of one 20 ms G.711 frame at 8 kHz: 160 samples,
// one byte each.
const FrameBytes = 160

const (
	ulawBias = 0x84
	ulawClip = 32635
	alawClip = 32635
)

// Codec pairs a negotiated G.711 variant with its silence byte and RTP
// payload type (RFC 3551: PCMU=0, PCMA=8).
type Codec struct {
	Name        Name
	SilenceByte byte
	PayloadType uint8
}

var (
	ALawCodec = Codec{Name: ALaw, SilenceByte: 0xD5, PayloadType: 8}
	ULawCodec = Codec{Name: ULaw, SilenceByte: 0xFF, PayloadType: 0}
)

// CodecByPayloadType resolves the negotiated codec from an RTP static
// payload type. Returns false for anything else (dynamic PTs, DTMF, etc.
// are handled above this package).
func CodecByPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case ALawCodec.PayloadType:
		return ALawCodec, true
	case ULawCodec.PayloadType:
		return ULawCodec, true
	default:
		return Codec{}, false
	}
}

// SilenceFrame returns a fresh 160-byte silence frame for the codec.
func (c Codec) SilenceFrame() []byte {
	f := make([]byte, FrameBytes)
	for i := range f {
		f[i] = c.SilenceByte
	}
	return f
}

// Encode converts one PCM16 sample to this codec's companded byte.
func (c Codec) Encode(s int16) byte {
	if c.Name == ULaw {
		return ULawEncode(s)
	}
	return ALawEncode(s)
}

// Decode converts one companded byte to a PCM16 sample via the lookup table.
func (c Codec) Decode(b byte) int16 {
	if c.Name == ULaw {
		return ULawDecodeTable[b]
	}
	return ALawDecodeTable[b]
}

// EncodeSamples compands a whole PCM16 buffer into dst (grown if needed).
func (c Codec) EncodeSamples(dst []byte, samples []int16) []byte {
	if cap(dst) < len(samples) {
		dst = make([]byte, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, s := range samples {
		dst[i] = c.Encode(s)
	}
	return dst
}

// DecodeSamples expands a companded buffer into dst (grown if needed).
func (c Codec) DecodeSamples(dst []int16, encoded []byte) []int16 {
	if cap(dst) < len(encoded) {
		dst = make([]int16, len(encoded))
	} else {
		dst = dst[:len(encoded)]
	}
	table := c.decodeTable()
	for i, b := range encoded {
		dst[i] = table[b]
	}
	return dst
}

func (c Codec) decodeTable() *[256]int16 {
	if c.Name == ULaw {
		return &ULawDecodeTable
	}
	return &ALawDecodeTable
}

// Transcode re-companders a frame from one G.711 variant to another,
// in place if src and dst share the same codec (no-op fast path), or into a
// freshly sized dst otherwise. Used by IngressPath to normalize µ-law
// peers to A-law before forwarding to the AI.
func Transcode(dst Codec, src Codec, frame []byte) []byte {
	if dst.Name == src.Name {
		return frame
	}
	out := make([]byte, len(frame))
	srcTable := src.decodeTable()
	for i, b := range frame {
		out[i] = dst.Encode(srcTable[b])
	}
	return out
}
