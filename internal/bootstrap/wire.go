package bootstrap

import (
	"fmt"
	"log/slog"

	"maisoku/internal/capture"
	"maisoku/internal/config"
	"maisoku/internal/gateway"
	"maisoku/internal/hardware"
	"maisoku/internal/history"
	"maisoku/internal/identity"
	"maisoku/internal/logging"
	"maisoku/internal/ports"
	"maisoku/internal/speech"
	"maisoku/internal/telemetry"
	"maisoku/internal/usecase"
)

// Services is the assembled runtime graph. The Controller drives interactive
// sessions; Pipeline, Analysis, and Identity are exposed for one-shot callers
// that bypass the session state machine.
type Services struct {
	Controller *usecase.Controller
	Pipeline   *capture.Pipeline
	Analysis   ports.AnalysisService
	Identity   ports.IdentityProvider
	History    *history.Store
	Speech     ports.SpeechSynthesizer
	Logger     *slog.Logger
	Config     config.Config
}

// Build wires all dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return Services{}, err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return Services{}, fmt.Errorf("open history store: %w", err)
	}

	var tokenSource identity.TokenSource
	if cfg.Analysis.TokenFile != "" {
		tokenSource = identity.FileTokenSource{Path: cfg.Analysis.TokenFile}
	} else {
		tokenSource = identity.StaticTokenSource(cfg.Analysis.Token)
	}
	identityProvider := identity.NewProvider(tokenSource, identity.WithLogger(logger))

	guard := hardware.NewGuard(
		hardware.NewFFMPEGCamera(cfg.Camera.FFmpegCommand),
		ports.CameraConfig{
			Devices:        cfg.Camera.Devices,
			CaptureTimeout: cfg.Camera.CaptureTimeout,
		},
		logger,
	)

	pipeline := capture.NewPipeline(
		capture.NewDialogPicker(cfg.Capture.PickerCommand),
		capture.Config{
			MaxSourceBytes:  cfg.Capture.MaxSourceBytes,
			MaxPayloadBytes: cfg.Capture.MaxPayloadBytes,
			MaxDimension:    cfg.Capture.MaxDimension,
			JPEGQuality:     cfg.Capture.JPEGQuality,
		},
		logger,
	)

	client := gateway.NewClient(
		cfg.Analysis.BaseURL,
		identityProvider,
		gateway.WithTimeout(cfg.Analysis.RequestTimeout),
		gateway.WithTelemetry(telemetry.NewLogSink(logger)),
		gateway.WithLogger(logger),
	)

	controller := usecase.NewController(
		guard,
		pipeline,
		client,
		identityProvider,
		store,
		store,
		events,
		logger,
	)

	return Services{
		Controller: controller,
		Pipeline:   pipeline,
		Analysis:   client,
		Identity:   identityProvider,
		History:    store,
		Speech:     speech.NewSynthesizer(cfg.Speech.Command, cfg.Speech.Voice),
		Logger:     logger,
		Config:     cfg,
	}, nil
}
