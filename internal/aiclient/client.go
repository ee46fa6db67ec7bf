// Package aiclient implements the bridge's WebSocket connection to the
// conversational AI: the outbound/inbound event contract of spec.md §6,
// as a thin, single-subscriber audio stream the rest of the bridge drives.
package aiclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendTimeout bounds every outbound WebSocket write; on expiry the send is
// abandoned and logged, never retried silently.
const sendTimeout = 5 * time.Second

const readLimitBytes = 1 << 20

// Default server-VAD tuning, used whenever Config leaves a VAD field at its
// zero value.
const (
	defaultVADThreshold         = 0.5
	defaultVADSilenceDurationMs = 500
)

// Handlers are the bridge-side callbacks for inbound events. Each is
// optional; a nil handler means that event is simply dropped (transcripts
// and error events are still logged).
type Handlers struct {
	OnSessionReady        func()
	OnAudioDelta          func(alaw []byte)
	OnResponseDone        func()
	OnTranscriptCompleted func(transcript string)
	OnBargeIn             func()
	OnError               func(message string)
}

// Client owns one WebSocket connection to the AI for the lifetime of a
// call. It is the single subscriber of its own inbound audio stream: callers
// never receive a multicast feed, matching spec.md §9's redesign away from
// the source's multicast-event pattern.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	handlers Handlers

	closeOnce sync.Once
	done      chan struct{}
}

// Config wires a Dial.
type Config struct {
	URL            string
	APIKey         string
	CallID         string
	Voice          string
	PreferredCodec string // "g711_alaw" or "g711_ulaw"

	// VADThreshold and VADSilenceDurationMs configure the AI's server-side
	// voice-activity detector, sent in session.update's turn_detection.
	VADThreshold         float64
	VADSilenceDurationMs int

	Handlers Handlers
	Log      *slog.Logger
}

// Dial opens the WebSocket connection and sends the initial session.update
// event declaring the negotiated audio format, then starts the read pump.
// The read pump runs until the connection closes or ctx is cancelled.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	header := map[string][]string{}
	if cfg.APIKey != "" {
		header["Authorization"] = []string{"Bearer " + cfg.APIKey}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("ai client: dial: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)

	c := &Client{
		conn:     conn,
		log:      log.With("call_id", cfg.CallID),
		handlers: cfg.Handlers,
		done:     make(chan struct{}),
	}

	format := cfg.PreferredCodec
	if format == "" {
		format = "g711_alaw"
	}
	vadThreshold := cfg.VADThreshold
	if vadThreshold == 0 {
		vadThreshold = defaultVADThreshold
	}
	vadSilenceMs := cfg.VADSilenceDurationMs
	if vadSilenceMs == 0 {
		vadSilenceMs = defaultVADSilenceDurationMs
	}

	if err := c.sendEvent(sessionUpdateEvent{
		Type: "session.update",
		Session: sessionUpdatePayload{
			InputAudioFormat:  format,
			OutputAudioFormat: format,
			Voice:             cfg.Voice,
			TurnDetection: turnDetectionVAD{
				Type:              "server_vad",
				Threshold:         vadThreshold,
				SilenceDurationMs: vadSilenceMs,
			},
		},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ai client: session.update: %w", err)
	}

	go c.readPump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

// SendAudio forwards one inbound RTP payload's A-law bytes to the AI as
// input_audio_buffer.append. Errors (including send-timeout) are returned
// for the caller to log; IngressPath never blocks indefinitely on a stalled
// connection.
func (c *Client) SendAudio(alaw []byte) error {
	return c.sendEvent(inputAudioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(alaw),
	})
}

func (c *Client) sendEvent(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close closes the underlying connection. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

// Done reports the connection's closed channel, for callers selecting on
// call teardown alongside other lifecycle signals.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ai websocket closed unexpectedly", "error", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("ai event: malformed json", "error", err)
		return
	}

	switch env.Type {
	case "session.created", "session.updated":
		if c.handlers.OnSessionReady != nil {
			c.handlers.OnSessionReady()
		}

	case "response.audio.delta":
		var ev responseAudioDeltaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("ai event: bad response.audio.delta", "error", err)
			return
		}
		alaw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.log.Warn("ai event: bad base64 audio delta", "error", err)
			return
		}
		if c.handlers.OnAudioDelta != nil {
			c.handlers.OnAudioDelta(alaw)
		}

	case "response.done":
		if c.handlers.OnResponseDone != nil {
			c.handlers.OnResponseDone()
		}

	case "conversation.item.input_audio_transcription.completed":
		var ev transcriptionCompletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("ai event: bad transcription event", "error", err)
			return
		}
		c.log.Info("caller transcript", "transcript", ev.Transcript)
		if c.handlers.OnTranscriptCompleted != nil {
			c.handlers.OnTranscriptCompleted(ev.Transcript)
		}

	case "input_audio_buffer.speech_started":
		if c.handlers.OnBargeIn != nil {
			c.handlers.OnBargeIn()
		}

	case "error":
		var ev errorEvent
		_ = json.Unmarshal(data, &ev)
		c.log.Warn("ai event: error", "message", ev.Error.Message)
		if c.handlers.OnError != nil {
			c.handlers.OnError(ev.Error.Message)
		}

	default:
		c.log.Debug("ai event: unhandled type", "type", env.Type)
	}
}
