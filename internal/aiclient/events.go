package aiclient

// envelope peeks at an inbound event's type before dispatch.
type envelope struct {
	Type string `json:"type"`
}

// sessionUpdateEvent is the outbound session.update event, sent once on
// connect per spec.md §6.
type sessionUpdateEvent struct {
	Type    string               `json:"type"`
	Session sessionUpdatePayload `json:"session"`
}

type sessionUpdatePayload struct {
	InputAudioFormat  string           `json:"input_audio_format"`
	OutputAudioFormat string           `json:"output_audio_format"`
	Voice             string           `json:"voice,omitempty"`
	TurnDetection     turnDetectionVAD `json:"turn_detection"`
}

// turnDetectionVAD is the server-side voice-activity-detection config spec.md
// §6 requires session.update to declare alongside the audio formats and
// voice. "server_vad" matches this bridge's own half-duplex model: the AI
// side detects caller speech server-side and emits
// input_audio_buffer.speech_started, which Client.dispatch turns into
// Handlers.OnBargeIn.
type turnDetectionVAD struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// inputAudioAppendEvent is sent once per RTP packet forwarded from
// IngressPath.
type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseAudioDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type transcriptionCompletedEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
