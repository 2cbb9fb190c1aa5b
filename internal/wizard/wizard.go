// Package wizard sequences attendance registration on a capture device:
// take a selfie, confirm the location, then submit both for the event.
//
// The controller is driven by one user at a time. It holds at most one
// outstanding blocking call (camera start, location fix or submission);
// a second blocking call made meanwhile fails with ErrBusy. Close cancels
// whatever is in flight and always releases the camera.
package wizard

import (
	"context"
	"errors"
	"sync"

	"eventattend/internal/capture"
	"eventattend/internal/gateway"
	"eventattend/internal/location"
	"eventattend/internal/model"
)

// State is a wizard step.
type State int

const (
	Idle State = iota
	AwaitingPhoto
	AwaitingLocation
	Submitting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPhoto:
		return "awaiting_photo"
	case AwaitingLocation:
		return "awaiting_location"
	case Submitting:
		return "submitting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	ErrBusy       = errors.New("wizard: another operation is in progress")
	ErrWrongState = errors.New("wizard: operation not allowed in current state")
	ErrClosed     = errors.New("wizard: closed")
)

// Notice is a user-facing message. Validation notices leave the state unchanged.
type Notice struct {
	Title   string
	Message string
	Err     error
}

func (n *Notice) Error() string { return n.Title + ": " + n.Message }

func (n *Notice) Unwrap() error { return n.Err }

// Camera is the media capture side the wizard drives.
type Camera interface {
	Start(ctx context.Context) error
	Capture() (capture.Frame, error)
	Stop()
	Active() bool
}

// Locator resolves the device position.
type Locator interface {
	GetCurrentPosition(ctx context.Context) (model.Coordinates, error)
}

// Snapshot is a read-only view of the capture session.
type Snapshot struct {
	State        State
	Step         int
	PhotoTaken   bool
	CameraActive bool
	Location     *model.Coordinates
	Notice       *Notice
	Receipt      *model.AttendanceReceipt
}

// Controller runs one capture session for one event.
type Controller struct {
	eventID string
	camera  Camera
	locator Locator
	gateway gateway.Gateway
	onMove  func(from, to State)

	life   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	busy       bool
	closed     bool
	state      State
	photoTaken bool
	photo      []byte
	location   *model.Coordinates
	notice     *Notice
	receipt    *model.AttendanceReceipt
}

// Option configures a Controller.
type Option func(*Controller)

// OnTransition registers a callback invoked on every state change.
func OnTransition(fn func(from, to State)) Option {
	return func(c *Controller) { c.onMove = fn }
}

// New creates a controller in the Idle state.
func New(eventID string, camera Camera, locator Locator, gw gateway.Gateway, opts ...Option) *Controller {
	life, cancel := context.WithCancel(context.Background())
	c := &Controller{
		eventID: eventID,
		camera:  camera,
		locator: locator,
		gateway: gw,
		life:    life,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// begin reserves the controller for a blocking call. Caller holds c.mu.
func (c *Controller) begin() error {
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

// opContext ties ctx to the controller lifetime so Close aborts it.
func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// move changes state. Caller holds c.mu.
func (c *Controller) move(to State) {
	from := c.state
	c.state = to
	if c.onMove != nil && from != to {
		c.onMove(from, to)
	}
}

// Start enters AwaitingPhoto and turns the camera on.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != Idle {
		c.busy = false
		c.mu.Unlock()
		return ErrWrongState
	}
	c.move(AwaitingPhoto)
	return c.activateCamera(ctx)
}

// activateCamera starts the camera with c.mu held and c.busy set; it returns with c.mu released.
func (c *Controller) activateCamera(ctx context.Context) error {
	c.mu.Unlock()
	opCtx, done := c.opContext(ctx)
	err := c.camera.Start(opCtx)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.closed {
		c.camera.Stop()
		return ErrClosed
	}
	if err != nil {
		c.notice = &Notice{
			Title:   "Camera Error",
			Message: "Could not access your camera. Please check permissions.",
			Err:     err,
		}
		return c.notice
	}
	c.notice = nil
	return nil
}

// Capture takes the selfie and turns the camera off.
func (c *Controller) Capture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	if c.state != AwaitingPhoto {
		return ErrWrongState
	}
	frame, err := c.camera.Capture()
	if err != nil {
		return err
	}
	c.photo = frame.Data
	c.photoTaken = true
	c.notice = nil
	c.camera.Stop()
	return nil
}

// Retake discards the selfie and turns the camera back on.
func (c *Controller) Retake(ctx context.Context) error {
	c.mu.Lock()
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != AwaitingPhoto {
		c.busy = false
		c.mu.Unlock()
		return ErrWrongState
	}
	c.photoTaken = false
	c.photo = nil
	return c.activateCamera(ctx)
}

// Next advances from the photo step to the location step.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	if c.state != AwaitingPhoto {
		return ErrWrongState
	}
	if !c.photoTaken {
		c.notice = &Notice{Title: "Photo Required", Message: "Please take a selfie to continue"}
		return c.notice
	}
	c.camera.Stop()
	c.notice = nil
	c.move(AwaitingLocation)
	return nil
}

// Back returns to the photo step, discarding the selfie. An acquired location
// is kept for when the user returns to the location step.
func (c *Controller) Back(ctx context.Context) error {
	c.mu.Lock()
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != AwaitingLocation {
		c.busy = false
		c.mu.Unlock()
		return ErrWrongState
	}
	c.photoTaken = false
	c.photo = nil
	c.move(AwaitingPhoto)
	return c.activateCamera(ctx)
}

// Locate requests the current position. Failures leave a notice and may be retried.
func (c *Controller) Locate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != AwaitingLocation {
		c.busy = false
		c.mu.Unlock()
		return ErrWrongState
	}
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	coords, err := c.locator.GetCurrentPosition(opCtx)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		msg := "Could not get your location. Please check permissions."
		if errors.Is(err, location.ErrUnsupported) {
			msg = "Geolocation is not supported on this device"
		}
		c.notice = &Notice{Title: "Location Error", Message: msg, Err: err}
		return c.notice
	}
	c.location = &coords
	c.notice = nil
	return nil
}

// Submit sends the photo and location. On failure the session keeps its data and Submit may be called again.
func (c *Controller) Submit(ctx context.Context) (model.AttendanceReceipt, error) {
	c.mu.Lock()
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return model.AttendanceReceipt{}, err
	}
	if c.state != AwaitingLocation && c.state != Failed {
		c.busy = false
		c.mu.Unlock()
		return model.AttendanceReceipt{}, ErrWrongState
	}
	if !c.photoTaken || len(c.photo) == 0 || c.location == nil {
		c.busy = false
		c.notice = &Notice{Title: "Missing Information", Message: "Please complete all steps before submitting"}
		n := c.notice
		c.mu.Unlock()
		return model.AttendanceReceipt{}, n
	}
	c.move(Submitting)
	photo, coords := c.photo, *c.location
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	receipt, err := c.gateway.Submit(opCtx, c.eventID, photo, coords)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.closed {
		return model.AttendanceReceipt{}, ErrClosed
	}
	if err != nil {
		c.move(Failed)
		c.notice = &Notice{Title: "Submission Error", Message: submitMessage(err), Err: err}
		return model.AttendanceReceipt{}, c.notice
	}
	c.receipt = &receipt
	c.notice = nil
	c.move(Done)
	return receipt, nil
}

func submitMessage(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) && ge.Kind == gateway.RecognitionRejected {
		return "Attendance was not accepted (" + ge.Reason.Label() + "). An administrator will review it."
	}
	return "There was a problem registering your attendance. Please try again."
}

// Close abandons the session: in-flight calls are canceled and the camera is released.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.camera.Stop()
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		Step:         stepOf(c.state),
		PhotoTaken:   c.photoTaken,
		CameraActive: c.camera.Active(),
		Notice:       c.notice,
	}
	if c.location != nil {
		loc := *c.location
		s.Location = &loc
	}
	if c.receipt != nil {
		r := *c.receipt
		s.Receipt = &r
	}
	return s
}

func stepOf(s State) int {
	if s == Idle || s == AwaitingPhoto {
		return 1
	}
	return 2
}
