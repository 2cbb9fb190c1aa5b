package location

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"eventattend/internal/model"
)

// DefaultTimeout bounds a single position request.
const DefaultTimeout = 15 * time.Second

var (
	ErrPermissionDenied    = errors.New("location: permission denied")
	ErrPositionUnavailable = errors.New("location: position unavailable")
	ErrUnsupported         = errors.New("location: not supported on this host")
	ErrTimeout             = errors.New("location: request timed out")
	ErrRequestInFlight     = errors.New("location: request already in flight")
)

// Provider resolves the device position once.
type Provider interface {
	Position(ctx context.Context) (model.Coordinates, error)
}

// Adapter performs one-shot position requests with a timeout, one at a time.
type Adapter struct {
	provider Provider
	timeout  time.Duration
	inflight atomic.Bool
}

// NewAdapter wraps provider. A nil provider makes every request fail with ErrUnsupported.
func NewAdapter(provider Provider, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{provider: provider, timeout: timeout}
}

type result struct {
	coords model.Coordinates
	err    error
}

// GetCurrentPosition returns the current coordinates of the device.
func (a *Adapter) GetCurrentPosition(ctx context.Context) (model.Coordinates, error) {
	if a.provider == nil {
		return model.Coordinates{}, ErrUnsupported
	}
	if !a.inflight.CompareAndSwap(false, true) {
		return model.Coordinates{}, ErrRequestInFlight
	}
	defer a.inflight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		c, err := a.provider.Position(ctx)
		ch <- result{coords: c, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return model.Coordinates{}, ErrTimeout
			}
			return model.Coordinates{}, r.err
		}
		if !r.coords.Valid() {
			return model.Coordinates{}, fmt.Errorf("%w: coordinates out of range", ErrPositionUnavailable)
		}
		return r.coords, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.Coordinates{}, ErrTimeout
		}
		return model.Coordinates{}, ctx.Err()
	}
}

// Static always reports the same position; used by kiosks mounted at a fixed place.
type Static model.Coordinates

// Position implements Provider.
func (s Static) Position(ctx context.Context) (model.Coordinates, error) {
	return model.Coordinates(s), nil
}
