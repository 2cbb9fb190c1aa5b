package capture

import "sync"

var defaultLocks = NewDeviceLocks()

// DeviceLocks records which adapter holds each camera device.
type DeviceLocks struct {
	mu      sync.Mutex
	holders map[string]any
}

// NewDeviceLocks creates an empty registry.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{holders: make(map[string]any)}
}

// Acquire marks device as held by owner. It succeeds when the device is free or already held by owner.
func (l *DeviceLocks) Acquire(device string, owner any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holders[device]; ok && h != owner {
		return false
	}
	l.holders[device] = owner
	return true
}

// Release frees device if owner holds it.
func (l *DeviceLocks) Release(device string, owner any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[device] == owner {
		delete(l.holders, device)
	}
}
