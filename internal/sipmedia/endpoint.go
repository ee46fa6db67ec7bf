// Package sipmedia is a thin adapter over emiago/diago exposing the
// negotiated RTP socket as the bridge's codec and RTP reader/writer — the
// "black box exposing a codec-negotiated RTP socket" spec.md §1 describes.
// Unlike the teacher's endpoint, which negotiates any of PCMU/PCMA/G722/Opus
// through the LiveKit media-sdk registry, this bridge only ever speaks
// G.711: negotiation is restricted to PCMA/PCMU so every downstream
// component can use internal/codec directly with no extra decode layer.
package sipmedia

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/diago/media"

	"github.com/telephonaut/sip-ai-bridge/internal/codec"
)

// Dialog is the subset of diago's server/client dialog session this package
// needs: a negotiated media session and the underlying RTP media.
type Dialog interface {
	MediaSession() *media.MediaSession
	Media() *diago.DialogMedia
}

// Endpoint is the negotiated RTP socket plus the G.711 codec picked during
// SDP negotiation.
type Endpoint struct {
	Codec         codec.Codec
	FrameDuration time.Duration

	rtpReader media.RTPReader
	rtpWriter media.RTPWriter
}

// New resolves the negotiated audio codec from dialog's media session,
// restricted to G.711, and binds the RTP reader/writer. Returns an error if
// the peer did not offer/accept PCMA or PCMU.
func New(dialog Dialog, frameDuration time.Duration) (*Endpoint, error) {
	session := dialog.MediaSession()
	if session == nil {
		return nil, errors.New("sipmedia: media session not ready")
	}
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}

	mc, err := pickG711(session)
	if err != nil {
		return nil, err
	}
	if mc.NumChannels != 1 {
		return nil, fmt.Errorf("sipmedia: unsupported channel count %d (G.711 is mono)", mc.NumChannels)
	}

	var c codec.Codec
	switch strings.ToLower(mc.Name) {
	case "pcma":
		c = codec.ALawCodec
	case "pcmu":
		c = codec.ULawCodec
	default:
		return nil, fmt.Errorf("sipmedia: unsupported negotiated codec %q", mc.Name)
	}

	dm := dialog.Media()
	if dm == nil || dm.RTPPacketReader == nil || dm.RTPPacketWriter == nil {
		return nil, errors.New("sipmedia: dialog media not ready")
	}

	return &Endpoint{
		Codec:         c,
		FrameDuration: frameDuration,
		rtpReader:     dm.RTPPacketReader.Reader(),
		rtpWriter:     dm.RTPPacketWriter.Writer(),
	}, nil
}

// pickG711 mirrors the teacher's CommonCodecs-then-session-list fallback,
// but filters to PCMA/PCMU only.
func pickG711(session *media.MediaSession) (media.Codec, error) {
	filter := func(list []media.Codec) (media.Codec, bool) {
		for _, c := range list {
			switch strings.ToLower(c.Name) {
			case "pcma", "pcmu":
				return c, true
			}
		}
		return media.Codec{}, false
	}
	if commons := session.CommonCodecs(); len(commons) > 0 {
		if c, ok := filter(commons); ok {
			return c, nil
		}
		return media.Codec{}, fmt.Errorf("sipmedia: no G.711 codec negotiated (common codecs: %v)", commons)
	}
	if c, ok := filter(session.Codecs); ok {
		return c, nil
	}
	return media.Codec{}, errors.New("sipmedia: no G.711 codec available")
}

// RTPReader returns the negotiated inbound RTP socket, for IngressPath's
// receive loop.
func (e *Endpoint) RTPReader() media.RTPReader {
	return e.rtpReader
}

// RTPWriter returns the negotiated outbound RTP socket, for EgressPipe's
// playout sender.
func (e *Endpoint) RTPWriter() media.RTPWriter {
	return e.rtpWriter
}

// PayloadType returns the RTP static payload type this endpoint negotiated
// (0 for PCMU, 8 for PCMA).
func (e *Endpoint) PayloadType() uint8 {
	return e.Codec.PayloadType
}

// OfferedCodecs returns the local SDP codec offer/answer list, G.711 only,
// ordered by preferred first.
func OfferedCodecs(frameDuration time.Duration, preferULaw bool) []media.Codec {
	alaw := media.CodecAudioAlaw(frameDuration)
	ulaw := media.CodecAudioUlaw(frameDuration)
	if preferULaw {
		return []media.Codec{ulaw, alaw}
	}
	return []media.Codec{alaw, ulaw}
}
