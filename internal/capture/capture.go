package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrMediaUnavailable is returned when the camera is missing, refused or held elsewhere.
	ErrMediaUnavailable = errors.New("capture: media unavailable")
	// ErrNoActiveStream is returned by Capture before Start succeeded.
	ErrNoActiveStream = errors.New("capture: no active stream")
)

// Stream is an open camera producing JPEG encoded frames.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// Opener opens a camera device by name.
type Opener interface {
	Open(ctx context.Context, device string) (Stream, error)
}

// Frame is a still image taken from the live stream.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Adapter owns one camera device between Start and Stop.
type Adapter struct {
	opener  Opener
	device  string
	locks   *DeviceLocks
	maxSide int

	mu     sync.Mutex
	stream Stream
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLocks uses a custom lock registry instead of the process wide one.
func WithLocks(l *DeviceLocks) Option {
	return func(a *Adapter) { a.locks = l }
}

// WithMaxSide re-encodes captured frames so that neither side exceeds px.
func WithMaxSide(px int) Option {
	return func(a *Adapter) { a.maxSide = px }
}

// NewAdapter creates an adapter for device.
func NewAdapter(opener Opener, device string, opts ...Option) *Adapter {
	a := &Adapter{opener: opener, device: device, locks: defaultLocks}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start acquires the device and begins the live preview. Starting an active adapter is a no-op.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return nil
	}
	if a.opener == nil {
		return fmt.Errorf("%w: no camera on this host", ErrMediaUnavailable)
	}
	if !a.locks.Acquire(a.device, a) {
		return fmt.Errorf("%w: device %s is in use", ErrMediaUnavailable, a.device)
	}
	s, err := a.opener.Open(ctx, a.device)
	if err != nil {
		a.locks.Release(a.device, a)
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	a.stream = s
	return nil
}

// Capture takes a still frame from the active preview.
func (a *Adapter) Capture() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		return Frame{}, ErrNoActiveStream
	}
	data, err := a.stream.Read()
	if err != nil {
		return Frame{}, fmt.Errorf("capture: read frame: %w", err)
	}
	if a.maxSide > 0 {
		data, err = Normalize(data, a.maxSide)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Data: data, CapturedAt: time.Now().UTC()}, nil
}

// Stop releases the device. It is safe to call any number of times.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		_ = a.stream.Close()
		a.stream = nil
	}
	a.locks.Release(a.device, a)
}

// Active reports whether the adapter currently holds an open stream.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil
}
