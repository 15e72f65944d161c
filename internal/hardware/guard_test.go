package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"maisoku/internal/domain"
	"maisoku/internal/ports"
)

type fakeHandle struct {
	mu         sync.Mutex
	device     string
	closeCalls int
	switchErr  error
}

func (f *fakeHandle) Shoot(context.Context) ([]byte, error) { return []byte("frame"), nil }

func (f *fakeHandle) SwitchFacing() error { return f.switchErr }

func (f *fakeHandle) Device() string { return f.device }

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeHandle) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeDevice struct {
	mu      sync.Mutex
	handles []ports.CameraHandle
	err     error
	calls   int
	opened  chan struct{}
	release chan struct{}
}

func (f *fakeDevice) Open(ctx context.Context, _ ports.CameraConfig) (ports.CameraHandle, error) {
	if f.opened != nil {
		close(f.opened)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.handles) {
		return nil, errors.New("no handle configured")
	}
	handle := f.handles[f.calls]
	f.calls++
	return handle, nil
}

func TestGuardAcquireAndRelease(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{device: "/dev/video0"}
	guard := NewGuard(&fakeDevice{handles: []ports.CameraHandle{handle}}, ports.CameraConfig{}, nil)

	got, err := guard.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got != handle {
		t.Fatalf("unexpected handle")
	}
	if guard.Handle() != handle {
		t.Fatalf("guard should hold the binding")
	}

	guard.Release()
	if guard.Handle() != nil {
		t.Fatalf("binding should be dropped")
	}
	if handle.closed() != 1 {
		t.Fatalf("expected one close, got %d", handle.closed())
	}
}

func TestGuardReleaseIdempotent(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{device: "/dev/video0"}
	guard := NewGuard(&fakeDevice{handles: []ports.CameraHandle{handle}}, ports.CameraConfig{}, nil)

	// Safe before any acquire.
	guard.Release()

	if _, err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	guard.Release()
	guard.Release()
	guard.Release()

	if handle.closed() != 1 {
		t.Fatalf("expected one close, got %d", handle.closed())
	}
}

func TestGuardAcquireReleasesPriorBinding(t *testing.T) {
	t.Parallel()

	first := &fakeHandle{device: "/dev/video0"}
	second := &fakeHandle{device: "/dev/video1"}
	guard := NewGuard(&fakeDevice{handles: []ports.CameraHandle{first, second}}, ports.CameraConfig{}, nil)

	if _, err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	got, err := guard.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if got != second {
		t.Fatalf("expected the new binding")
	}
	if first.closed() != 1 {
		t.Fatalf("prior binding should be closed, got %d closes", first.closed())
	}
	if second.closed() != 0 {
		t.Fatalf("new binding should stay open")
	}
}

func TestGuardReleaseDuringAcquireDiscardsLateBinding(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{device: "/dev/video0"}
	device := &fakeDevice{
		handles: []ports.CameraHandle{handle},
		opened:  make(chan struct{}),
		release: make(chan struct{}),
	}
	guard := NewGuard(device, ports.CameraConfig{}, nil)

	result := make(chan error, 1)
	go func() {
		_, err := guard.Acquire(context.Background())
		result <- err
	}()

	<-device.opened
	guard.Release()
	close(device.release)

	if err := <-result; !errors.Is(err, ErrReleasedDuringAcquire) {
		t.Fatalf("expected ErrReleasedDuringAcquire, got %v", err)
	}
	if guard.Handle() != nil {
		t.Fatalf("late binding must not be installed")
	}
	if handle.closed() != 1 {
		t.Fatalf("late binding must be closed, got %d closes", handle.closed())
	}
}

func TestGuardAcquireFailureIsHardwareError(t *testing.T) {
	t.Parallel()

	guard := NewGuard(&fakeDevice{err: errors.New("v4l2 open failed")}, ports.CameraConfig{}, nil)

	_, err := guard.Acquire(context.Background())
	var hwErr *domain.HardwareError
	if !errors.As(err, &hwErr) {
		t.Fatalf("expected HardwareError, got %v", err)
	}
	if hwErr.Reason != domain.HardwareUnavailable {
		t.Fatalf("unexpected reason %s", hwErr.Reason)
	}
}

func TestGuardAcquireKeepsTypedHardwareError(t *testing.T) {
	t.Parallel()

	guard := NewGuard(&fakeDevice{err: &domain.HardwareError{Reason: domain.HardwarePermissionDenied}}, ports.CameraConfig{}, nil)

	_, err := guard.Acquire(context.Background())
	var hwErr *domain.HardwareError
	if !errors.As(err, &hwErr) {
		t.Fatalf("expected HardwareError, got %v", err)
	}
	if hwErr.Reason != domain.HardwarePermissionDenied {
		t.Fatalf("reason must pass through, got %s", hwErr.Reason)
	}
}

func TestGuardSwitchFacing(t *testing.T) {
	t.Parallel()

	guard := NewGuard(&fakeDevice{}, ports.CameraConfig{}, nil)

	// Without a binding there is nothing to switch.
	err := guard.SwitchFacing()
	var hwErr *domain.HardwareError
	if !errors.As(err, &hwErr) {
		t.Fatalf("expected HardwareError, got %v", err)
	}

	handle := &fakeHandle{device: "/dev/video0", switchErr: errors.New("no second device")}
	guard2 := NewGuard(&fakeDevice{handles: []ports.CameraHandle{handle}}, ports.CameraConfig{}, nil)
	if _, err := guard2.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := guard2.SwitchFacing(); err == nil {
		t.Fatalf("expected switch failure")
	}
	// A failed switch leaves the binding usable.
	if guard2.Handle() != handle {
		t.Fatalf("binding must survive a failed switch")
	}
}
