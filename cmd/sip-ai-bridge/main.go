package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/google/uuid"

	"github.com/telephonaut/sip-ai-bridge/internal/codec"
	"github.com/telephonaut/sip-ai-bridge/internal/config"
	"github.com/telephonaut/sip-ai-bridge/internal/session"
	"github.com/telephonaut/sip-ai-bridge/internal/sipmedia"
)

// CLI defines the command-line interface.
type CLI struct {
	Config   string `arg:"" name:"config" help:"Path to the bridge's YAML config file" default:"config.yaml"`
	LogLevel string `help:"Log level: debug, info, warn, error" default:"info"`
	DryRun   bool   `help:"Validate config and codec tables without binding a SIP socket"`
}

func main() {
	cliArgs := &CLI{}
	kong.Parse(cliArgs,
		kong.Name("sip-ai-bridge"),
		kong.Description("SIP/RTP to conversational-AI audio bridge"),
		kong.UsageOnError(),
	)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cliArgs.LogLevel)}))

	cfg, err := config.Load(cliArgs.Config)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	if cliArgs.DryRun {
		logger.Info("dry run: config and codec tables ok",
			"sip_bind_port", cfg.SIPBindPort,
			"preferred_codec", cfg.PreferredCodec,
			"alaw_silence_byte", codec.ALawCodec.SilenceByte,
			"ulaw_silence_byte", codec.ULawCodec.SilenceByte,
		)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ua, err := sipgo.NewUA()
	if err != nil {
		logger.Error("sip ua init failed", "error", err)
		os.Exit(1)
	}

	transport := diago.Transport{
		Transport:    cfg.SIPTransport,
		BindHost:     "0.0.0.0",
		BindPort:     cfg.SIPBindPort,
		ExternalHost: cfg.SIPExternalIP,
	}

	sipCodecs := sipmedia.OfferedCodecs(cfg.FrameDuration, cfg.PreferredCodec == "PCMU")

	sipStack := diago.NewDiago(ua,
		diago.WithTransport(transport),
		diago.WithLogger(logger),
		diago.WithMediaConfig(diago.MediaConfig{Codecs: sipCodecs}),
	)

	err = sipStack.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		handleIncomingCall(ctx, inDialog, cfg, logger)
	})

	logger.Info("shutting down")
	if err != nil && ctx.Err() == nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func handleIncomingCall(ctx context.Context, inDialog *diago.DialogServerSession, cfg config.Config, logger *slog.Logger) {
	callID := uuid.NewString()
	callLogger := logger.With("call_id", callID, "sip_from", inDialog.FromUser())
	callLogger.Info("incoming call")

	defer inDialog.Close()

	if err := inDialog.Trying(); err != nil {
		callLogger.Warn("sip trying failed", "error", err)
		return
	}
	if err := inDialog.Ringing(); err != nil {
		callLogger.Warn("sip ringing failed", "error", err)
		return
	}

	localCodecs := sipmedia.OfferedCodecs(cfg.FrameDuration, cfg.PreferredCodec == "PCMU")
	if err := inDialog.AnswerOptions(diago.AnswerOptions{Codecs: localCodecs}); err != nil {
		callLogger.Warn("sip answer failed", "error", err)
		return
	}

	sess, err := session.New(inDialog.Context(), inDialog, callID, cfg, callLogger)
	if err != nil {
		callLogger.Warn("session setup failed", "error", err)
		return
	}
	defer sess.Close()

	callLogger.Info("call in progress")
	sess.Pump(inDialog.Context())
	callLogger.Info("call ended")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
