package sipmedia

import (
	"errors"
	"io"
	"log/slog"

	"github.com/emiago/diago/media"
	"github.com/pion/rtp"
)

// Pump reads RTP packets from the endpoint until the reader errors or
// returns io.EOF, invoking handle with each packet's payload. Packets for
// any payload type other than the negotiated one, or with an empty
// payload, are silently skipped (spec.md §6: "silent if peer sends [RTCP]").
// Cloning the payload before handing it to handle matters: the reader may
// reuse its internal buffer across calls.
func (e *Endpoint) Pump(handle func(payload []byte), log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	pt := e.PayloadType()
	buf := make([]byte, media.RTPBufSize)
	pkt := &rtp.Packet{}
	for {
		*pkt = rtp.Packet{}
		_, err := e.rtpReader.ReadRTP(buf, pkt)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("sipmedia: rtp read failed", "error", err)
			}
			return
		}
		if uint8(pkt.PayloadType) != pt || len(pkt.Payload) == 0 {
			continue
		}
		handle(append([]byte(nil), pkt.Payload...))
	}
}
