package aiclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// startTestServer upgrades one connection and hands the caller direct
// read/write access to drive the AI side of the protocol in tests.
func startTestServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDialSendsSessionUpdate(t *testing.T) {
	srv, conns := startTestServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := Dial(context.Background(), Config{URL: wsURL(srv.URL), CallID: "call-1"})
		require.NoError(t, err)
		defer c.Close()
	}()

	conn := <-conns
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "session.update", msg["type"])
	session := msg["session"].(map[string]any)
	require.Equal(t, "g711_alaw", session["input_audio_format"])
	require.Equal(t, "g711_alaw", session["output_audio_format"])
	turnDetection := session["turn_detection"].(map[string]any)
	require.Equal(t, "server_vad", turnDetection["type"])
	require.Equal(t, defaultVADThreshold, turnDetection["threshold"])
	require.Equal(t, float64(defaultVADSilenceDurationMs), turnDetection["silence_duration_ms"])
	<-done
}

func TestDialHonorsConfiguredVADSettings(t *testing.T) {
	srv, conns := startTestServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := Dial(context.Background(), Config{
			URL:                  wsURL(srv.URL),
			CallID:               "call-vad",
			VADThreshold:         0.8,
			VADSilenceDurationMs: 750,
		})
		require.NoError(t, err)
		defer c.Close()
	}()

	conn := <-conns
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	session := msg["session"].(map[string]any)
	turnDetection := session["turn_detection"].(map[string]any)
	require.Equal(t, 0.8, turnDetection["threshold"])
	require.Equal(t, float64(750), turnDetection["silence_duration_ms"])
	<-done
}

func TestSendAudioEncodesBase64(t *testing.T) {
	srv, conns := startTestServer(t)
	c, err := Dial(context.Background(), Config{URL: wsURL(srv.URL), CallID: "call-2"})
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))

	payload := []byte{0xD5, 0xD5, 0x01, 0x02}
	require.NoError(t, c.SendAudio(payload))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "input_audio_buffer.append", msg["type"])
	decoded, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestResponseAudioDeltaDispatchesDecodedAudio(t *testing.T) {
	srv, conns := startTestServer(t)

	var mu sync.Mutex
	var received []byte
	got := make(chan struct{})
	c, err := Dial(context.Background(), Config{
		URL:    wsURL(srv.URL),
		CallID: "call-3",
		Handlers: Handlers{
			OnAudioDelta: func(alaw []byte) {
				mu.Lock()
				received = alaw
				mu.Unlock()
				close(got)
			},
		},
	})
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))

	payload := []byte{0xD5, 0xFF, 0x10}
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(payload),
	}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnAudioDelta")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, payload, received)
}

func TestResponseDoneFiresHandler(t *testing.T) {
	srv, conns := startTestServer(t)

	got := make(chan struct{})
	c, err := Dial(context.Background(), Config{
		URL:    wsURL(srv.URL),
		CallID: "call-4",
		Handlers: Handlers{
			OnResponseDone: func() { close(got) },
		},
	})
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "response.done"}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnResponseDone")
	}
}

func TestErrorEventFiresHandlerWithMessage(t *testing.T) {
	srv, conns := startTestServer(t)

	got := make(chan string, 1)
	c, err := Dial(context.Background(), Config{
		URL:    wsURL(srv.URL),
		CallID: "call-5",
		Handlers: Handlers{
			OnError: func(msg string) { got <- msg },
		},
	})
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	raw, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": map[string]any{"message": "rate limited"},
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	select {
	case msg := <-got:
		require.Equal(t, "rate limited", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}
}
