package sipmedia

import (
	"sync"

	"github.com/pion/rtp"
)

// Sender writes 160-byte G.711 frames as outbound RTP packets with a
// monotonic sequence number, the caller-supplied timestamp (computed by
// playout.Engine, which seeds it randomly per spec.md §3/§4.6's "32-bit
// wrapping, initial random" requirement and advances it 160/frame), and a
// fixed SSRC for the call.
type Sender struct {
	mu sync.Mutex

	writer      RTPWriter
	payloadType uint8
	ssrc        uint32

	seq uint16
}

// RTPWriter is the subset of media.RTPWriter Sender needs; satisfied by
// Endpoint.RTPWriter().
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// NewSender builds a Sender bound to an Endpoint's negotiated payload type
// and a fresh random-ish SSRC (caller-supplied so it stays stable across a
// call even if the Sender is rebuilt).
func NewSender(writer RTPWriter, payloadType uint8, ssrc uint32) *Sender {
	return &Sender{writer: writer, payloadType: payloadType, ssrc: ssrc}
}

// Send writes one 160-byte frame as an RTP packet at the given RTP
// timestamp, advancing only the sequence number. Matches playout.Sender's
// signature so it plugs directly into egress.Config.Send.
func (s *Sender) Send(frame []byte, timestamp uint32) error {
	s.mu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      timestamp,
			SSRC:           s.ssrc,
		},
		Payload: frame,
	}
	s.seq++
	s.mu.Unlock()
	return s.writer.WriteRTP(pkt)
}
