// Package config resolves runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores runtime configuration for the session controller runtime.
type Config struct {
	Analysis AnalysisConfig
	Camera   CameraConfig
	Capture  CaptureConfig
	History  HistoryConfig
	Events   EventsConfig
	Speech   SpeechConfig
	Log      LogConfig
}

type AnalysisConfig struct {
	BaseURL        string        `env:"MAISOKU_API_BASE" envDefault:"http://localhost:8080"`
	RequestTimeout time.Duration `env:"MAISOKU_ANALYSIS_TIMEOUT" envDefault:"90s"`
	Token          string        `env:"MAISOKU_TOKEN"`
	TokenFile      string        `env:"MAISOKU_TOKEN_FILE"`
}

type CameraConfig struct {
	FFmpegCommand  string        `env:"MAISOKU_FFMPEG_COMMAND" envDefault:"ffmpeg"`
	Devices        []string      `env:"MAISOKU_CAMERA_DEVICES" envSeparator:":" envDefault:"/dev/video0"`
	CaptureTimeout time.Duration `env:"MAISOKU_CAPTURE_TIMEOUT" envDefault:"5s"`
}

type CaptureConfig struct {
	PickerCommand   string `env:"MAISOKU_PICKER_COMMAND" envDefault:"zenity"`
	MaxSourceBytes  int    `env:"MAISOKU_MAX_SOURCE_BYTES" envDefault:"12582912"`
	MaxPayloadBytes int    `env:"MAISOKU_MAX_PAYLOAD_BYTES" envDefault:"4194304"`
	MaxDimension    int    `env:"MAISOKU_MAX_DIMENSION" envDefault:"1920"`
	JPEGQuality     int    `env:"MAISOKU_JPEG_QUALITY" envDefault:"85"`
}

type HistoryConfig struct {
	Path string `env:"MAISOKU_HISTORY_DB"`
}

type EventsConfig struct {
	ListenAddr string `env:"MAISOKU_EVENTS_ADDR" envDefault:"127.0.0.1:8790"`
}

type SpeechConfig struct {
	Command string `env:"MAISOKU_SPEECH_COMMAND" envDefault:"espeak-ng"`
	Voice   string `env:"MAISOKU_SPEECH_VOICE"`
}

type LogConfig struct {
	Level  string `env:"MAISOKU_LOG_LEVEL" envDefault:"info"`
	Format string `env:"MAISOKU_LOG_FORMAT" envDefault:"text"`
}

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.History.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve history path: %w", err)
		}
		cfg.History.Path = filepath.Join(home, ".local", "share", "maisoku", "history.db")
	}

	if cfg.Analysis.RequestTimeout <= 0 {
		cfg.Analysis.RequestTimeout = 90 * time.Second
	}
	if cfg.Camera.CaptureTimeout <= 0 {
		cfg.Camera.CaptureTimeout = 5 * time.Second
	}
	if cfg.Capture.JPEGQuality <= 0 || cfg.Capture.JPEGQuality > 100 {
		cfg.Capture.JPEGQuality = 85
	}

	return cfg, nil
}
