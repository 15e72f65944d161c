package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"maisoku/internal/domain"
	"maisoku/internal/ports"
)

const defaultCaptureTimeout = 5 * time.Second

// FFMPEGCamera opens still-frame camera bindings using ffmpeg over v4l2.
type FFMPEGCamera struct {
	command string
}

func NewFFMPEGCamera(command string) *FFMPEGCamera {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCamera{command: command}
}

func (c *FFMPEGCamera) Open(ctx context.Context, cfg ports.CameraConfig) (ports.CameraHandle, error) {
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{"/dev/video0"}
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = defaultCaptureTimeout
	}

	if err := probeDevice(cfg.Devices[0]); err != nil {
		return nil, err
	}

	return &ffmpegHandle{
		command: c.command,
		devices: cfg.Devices,
		timeout: cfg.CaptureTimeout,
	}, nil
}

// probeDevice checks that the device node exists and is openable before a
// binding is handed out, so capture failures surface at acquire time.
func probeDevice(device string) error {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: fmt.Sprintf("no camera at %s", device)}
		case errors.Is(err, fs.ErrPermission):
			return &domain.HardwareError{Reason: domain.HardwarePermissionDenied, Detail: device}
		case errors.Is(err, syscall.EBUSY):
			return &domain.HardwareError{Reason: domain.HardwareBusy, Detail: device}
		}
		return &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: err.Error()}
	}
	return f.Close()
}

type ffmpegHandle struct {
	command string
	devices []string
	timeout time.Duration

	mu     sync.Mutex
	facing int
	closed bool
}

func (h *ffmpegHandle) Device() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devices[h.facing]
}

// Shoot captures one JPEG frame from the bound device.
func (h *ffmpegHandle) Shoot(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errors.New("camera handle is closed")
	}
	device := h.devices[h.facing]
	h.mu.Unlock()

	shootCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-i", device,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	}

	cmd := exec.CommandContext(shootCtx, h.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("camera shot on %s failed: %s", device, detail)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("camera shot on %s produced no frame", device)
	}
	return stdout.Bytes(), nil
}

// SwitchFacing binds the next configured device. If the next device cannot be
// probed the current binding is kept.
func (h *ffmpegHandle) SwitchFacing() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("camera handle is closed")
	}
	if len(h.devices) < 2 {
		return &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: "no second camera configured"}
	}

	next := (h.facing + 1) % len(h.devices)
	if err := probeDevice(h.devices[next]); err != nil {
		return err
	}
	h.facing = next
	return nil
}

func (h *ffmpegHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
