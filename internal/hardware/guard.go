package hardware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"maisoku/internal/domain"
	"maisoku/internal/ports"
)

// ErrReleasedDuringAcquire reports that Release arrived while an Acquire was
// still settling; the late binding was discarded.
var ErrReleasedDuringAcquire = errors.New("camera released while acquire was in flight")

// Guard owns the single live camera binding for a session. Acquiring while a
// binding is live releases the old one first; Release is idempotent and safe
// to call before a pending Acquire settles.
type Guard struct {
	device ports.CameraDevice
	cfg    ports.CameraConfig
	logger *slog.Logger

	mu     sync.Mutex
	handle ports.CameraHandle
	gen    uint64
}

func NewGuard(device ports.CameraDevice, cfg ports.CameraConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{device: device, cfg: cfg, logger: logger}
}

// Acquire binds the camera, releasing any previously held binding first.
// Failure is a normal outcome reported as *domain.HardwareError; the session
// falls back to gallery-only capture.
func (g *Guard) Acquire(ctx context.Context) (ports.CameraHandle, error) {
	g.mu.Lock()
	if g.handle != nil {
		g.closeLocked()
	}
	gen := g.gen
	g.mu.Unlock()

	handle, err := g.device.Open(ctx, g.cfg)
	if err != nil {
		var hwErr *domain.HardwareError
		if errors.As(err, &hwErr) {
			return nil, hwErr
		}
		return nil, &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: err.Error()}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		// Release ran while Open was in flight; discard the late binding.
		_ = handle.Close()
		return nil, ErrReleasedDuringAcquire
	}
	g.handle = handle
	g.logger.Debug("camera acquired", "device", handle.Device())
	return handle, nil
}

// Release drops the current binding if any. Safe to call repeatedly, on a
// never-acquired guard, or while an Acquire has not yet settled.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	if g.handle != nil {
		g.closeLocked()
	}
}

// SwitchFacing toggles the held binding between configured devices. A failed
// switch leaves the existing binding usable.
func (g *Guard) SwitchFacing() error {
	g.mu.Lock()
	handle := g.handle
	g.mu.Unlock()

	if handle == nil {
		return &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: "no camera bound"}
	}
	if err := handle.SwitchFacing(); err != nil {
		var hwErr *domain.HardwareError
		if errors.As(err, &hwErr) {
			return hwErr
		}
		return &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: err.Error()}
	}
	return nil
}

// Handle returns the live binding, or nil when none is held.
func (g *Guard) Handle() ports.CameraHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle
}

func (g *Guard) closeLocked() {
	if err := g.handle.Close(); err != nil {
		g.logger.Warn("camera close failed", "error", err)
	}
	g.handle = nil
}
