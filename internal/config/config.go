// Package config loads the bridge's YAML configuration file into a
// validated Config, mirroring the audio/jitter tuning knobs spec.md §6
// documents.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSIPBindPort    = 5060
	defaultTransport      = "udp"
	defaultMaxFrames      = 240
	defaultDropBatch      = 20
	defaultAlawGain       = 1.0
	defaultIngressGain    = 4.0
	defaultBargeInRMS     = 1500
	defaultEchoGuardMs    = 200
	defaultThinningAlpha  = 0.88
	defaultPreferredCodec = "PCMA"
	defaultFrameMs        = 20

	defaultVADThreshold = 0.5
	defaultVADSilenceMs = 500
)

// Config is the subset of runtime configuration the bridge core reads,
// per spec.md §6's configuration table, plus the SIP/AI connection fields
// needed to actually run as a service.
type Config struct {
	SIPBindPort   int
	SIPTransport  string
	SIPExternalIP string
	SIPAuthUser   string
	SIPAuthPass   string
	SIPAuthRealm  string

	FrameDuration time.Duration

	MaxFrames           int
	DropBatch           int
	AlawGain            float64
	IngressGain         float64
	BargeInRmsThreshold float64
	EchoGuardMs         int
	ThinningAlpha       float64
	PreferredCodec      string
	TypingSoundsEnabled bool

	AIServerURL          string
	AIAPIKey             string
	AIVoice              string
	AIVADThreshold       float64
	AIVADSilenceDuration time.Duration

	MaxActiveCalls int64
}

type yamlConfig struct {
	SIP struct {
		BindPort     int    `yaml:"bind_port"`
		Transport    string `yaml:"transport"`
		ExternalIP   string `yaml:"external_ip"`
		AuthUser     string `yaml:"auth_user"`
		AuthPassword string `yaml:"auth_password"`
		AuthRealm    string `yaml:"auth_realm"`
	} `yaml:"sip"`
	Audio struct {
		FrameMs             int     `yaml:"frame_ms"`
		MaxFrames           int     `yaml:"max_frames"`
		DropBatch           int     `yaml:"drop_batch"`
		AlawGain            float64 `yaml:"alaw_gain"`
		IngressGain         float64 `yaml:"ingress_gain"`
		BargeInRmsThreshold float64 `yaml:"barge_in_rms_threshold"`
		EchoGuardMs         int     `yaml:"echo_guard_ms"`
		ThinningAlpha       float64 `yaml:"thinning_alpha"`
		PreferredCodec      string  `yaml:"preferred_codec"`
		TypingSoundsEnabled bool    `yaml:"typing_sounds_enabled"`
	} `yaml:"audio"`
	AI struct {
		ServerURL    string  `yaml:"server_url"`
		APIKey       string  `yaml:"api_key"`
		Voice        string  `yaml:"voice"`
		VADThreshold float64 `yaml:"vad_threshold"`
		VADSilenceMs int     `yaml:"vad_silence_ms"`
	} `yaml:"ai"`
	Call struct {
		MaxActiveCalls int64 `yaml:"max_active_calls"`
	} `yaml:"call"`
}

// Load reads and validates a YAML config file at path. Defaults match
// spec.md §6 exactly; validation errors are returned, never panics.
func Load(path string) (Config, error) {
	cfg := Config{
		SIPBindPort:          defaultSIPBindPort,
		SIPTransport:         defaultTransport,
		FrameDuration:        defaultFrameMs * time.Millisecond,
		MaxFrames:            defaultMaxFrames,
		DropBatch:            defaultDropBatch,
		AlawGain:             defaultAlawGain,
		IngressGain:          defaultIngressGain,
		BargeInRmsThreshold:  defaultBargeInRMS,
		EchoGuardMs:          defaultEchoGuardMs,
		ThinningAlpha:        defaultThinningAlpha,
		PreferredCodec:       defaultPreferredCodec,
		AIVADThreshold:       defaultVADThreshold,
		AIVADSilenceDuration: defaultVADSilenceMs * time.Millisecond,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	if yc.SIP.BindPort > 0 {
		cfg.SIPBindPort = yc.SIP.BindPort
	}
	if yc.SIP.Transport != "" {
		cfg.SIPTransport = strings.ToLower(yc.SIP.Transport)
	}
	if cfg.SIPTransport != "udp" && cfg.SIPTransport != "tcp" {
		return Config{}, fmt.Errorf("config: sip.transport must be 'udp' or 'tcp', got %q", cfg.SIPTransport)
	}
	cfg.SIPExternalIP = yc.SIP.ExternalIP
	cfg.SIPAuthUser = yc.SIP.AuthUser
	cfg.SIPAuthPass = yc.SIP.AuthPassword
	if (cfg.SIPAuthUser == "") != (cfg.SIPAuthPass == "") {
		return Config{}, errors.New("config: sip.auth_user and sip.auth_password must be set together")
	}
	cfg.SIPAuthRealm = yc.SIP.AuthRealm

	if yc.Audio.FrameMs > 0 {
		cfg.FrameDuration = time.Duration(yc.Audio.FrameMs) * time.Millisecond
	}
	if yc.Audio.MaxFrames > 0 {
		cfg.MaxFrames = yc.Audio.MaxFrames
	}
	if yc.Audio.DropBatch > 0 {
		cfg.DropBatch = yc.Audio.DropBatch
	}
	if yc.Audio.AlawGain > 0 {
		cfg.AlawGain = yc.Audio.AlawGain
	}
	if yc.Audio.IngressGain > 0 {
		cfg.IngressGain = yc.Audio.IngressGain
	}
	if yc.Audio.BargeInRmsThreshold > 0 {
		cfg.BargeInRmsThreshold = yc.Audio.BargeInRmsThreshold
	}
	if yc.Audio.EchoGuardMs > 0 {
		cfg.EchoGuardMs = yc.Audio.EchoGuardMs
	}
	if yc.Audio.ThinningAlpha != 0 {
		cfg.ThinningAlpha = yc.Audio.ThinningAlpha
	}
	if cfg.ThinningAlpha != 0 && (cfg.ThinningAlpha < 0 || cfg.ThinningAlpha >= 1) {
		return Config{}, fmt.Errorf("config: audio.thinning_alpha must be in [0, 1), got %v", cfg.ThinningAlpha)
	}
	if yc.Audio.PreferredCodec != "" {
		cfg.PreferredCodec = strings.ToUpper(yc.Audio.PreferredCodec)
	}
	if cfg.PreferredCodec != "PCMA" && cfg.PreferredCodec != "PCMU" {
		return Config{}, fmt.Errorf("config: audio.preferred_codec must be 'PCMA' or 'PCMU', got %q", cfg.PreferredCodec)
	}
	// No implicit default: the source's two copies disagreed on whether
	// comfort-fill typing sounds default on or off, so this requires an
	// explicit yaml value rather than picking a side.
	cfg.TypingSoundsEnabled = yc.Audio.TypingSoundsEnabled

	if yc.AI.ServerURL == "" {
		return Config{}, errors.New("config: ai.server_url is required")
	}
	cfg.AIServerURL = yc.AI.ServerURL
	cfg.AIAPIKey = yc.AI.APIKey
	cfg.AIVoice = yc.AI.Voice
	if yc.AI.VADThreshold > 0 {
		cfg.AIVADThreshold = yc.AI.VADThreshold
	}
	if cfg.AIVADThreshold <= 0 || cfg.AIVADThreshold > 1 {
		return Config{}, fmt.Errorf("config: ai.vad_threshold must be in (0, 1], got %v", cfg.AIVADThreshold)
	}
	if yc.AI.VADSilenceMs > 0 {
		cfg.AIVADSilenceDuration = time.Duration(yc.AI.VADSilenceMs) * time.Millisecond
	}

	if yc.Call.MaxActiveCalls > 0 {
		cfg.MaxActiveCalls = yc.Call.MaxActiveCalls
	}

	return cfg, nil
}
