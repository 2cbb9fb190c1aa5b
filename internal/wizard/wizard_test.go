package wizard

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"eventattend/internal/capture"
	"eventattend/internal/gateway"
	"eventattend/internal/location"
	"eventattend/internal/model"
)

type fakeCamera struct {
	mu       sync.Mutex
	active   bool
	starts   int
	startErr error
	frame    []byte
}

func (c *fakeCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.active = true
	return nil
}

func (c *fakeCamera) Capture() (capture.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return capture.Frame{}, capture.ErrNoActiveStream
	}
	frame := c.frame
	if frame == nil {
		frame = []byte("jpeg")
	}
	return capture.Frame{Data: frame, CapturedAt: time.Now()}, nil
}

func (c *fakeCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

func (c *fakeCamera) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

type fakeLocator struct {
	coords model.Coordinates
	err    error
	block  chan struct{}
}

func (l *fakeLocator) GetCurrentPosition(ctx context.Context) (model.Coordinates, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return model.Coordinates{}, ctx.Err()
		}
	}
	return l.coords, l.err
}

type submitCall struct {
	eventID string
	photo   []byte
	coords  model.Coordinates
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []submitCall
	errs  []error
	block bool
}

func (g *fakeGateway) Submit(ctx context.Context, eventID string, image []byte, coords model.Coordinates) (model.AttendanceReceipt, error) {
	g.mu.Lock()
	g.calls = append(g.calls, submitCall{eventID: eventID, photo: image, coords: coords})
	var err error
	if len(g.errs) > 0 {
		err = g.errs[0]
		g.errs = g.errs[1:]
	}
	block := g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return model.AttendanceReceipt{}, ctx.Err()
	}
	if err != nil {
		return model.AttendanceReceipt{}, err
	}
	return model.AttendanceReceipt{AttendeeID: "a1", EventID: eventID, Name: "John Doe"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newTestController(t *testing.T) (*Controller, *fakeCamera, *fakeLocator, *fakeGateway) {
	t.Helper()
	cam := &fakeCamera{}
	loc := &fakeLocator{coords: model.Coordinates{Lat: 40.7128, Lng: -74.006}}
	gw := &fakeGateway{}
	c := New("1", cam, loc, gw)
	t.Cleanup(c.Close)
	return c, cam, loc, gw
}

func mustStart(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestStart_ActivatesCamera(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	mustStart(t, c)

	s := c.Snapshot()
	if s.State != AwaitingPhoto || s.Step != 1 {
		t.Errorf("expected awaiting photo on step 1, got %s step %d", s.State, s.Step)
	}
	if !cam.Active() {
		t.Error("expected camera to be active")
	}
}

func TestStart_CameraErrorLeavesNotice(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	cam.startErr = capture.ErrMediaUnavailable

	err := c.Start(context.Background())

	var n *Notice
	if !errors.As(err, &n) || n.Title != "Camera Error" {
		t.Fatalf("expected camera notice, got %v", err)
	}
	if !errors.Is(err, capture.ErrMediaUnavailable) {
		t.Error("expected notice to wrap ErrMediaUnavailable")
	}
	if c.Snapshot().State != AwaitingPhoto {
		t.Error("expected to stay on the photo step")
	}

	// Retake doubles as retry once permission is granted.
	cam.startErr = nil
	if err := c.Retake(context.Background()); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if !cam.Active() {
		t.Error("expected camera active after retry")
	}
}

func TestNext_WithoutPhotoStaysOnStepOne(t *testing.T) {
	c, _, _, _ := newTestController(t)
	mustStart(t, c)

	err := c.Next()

	var n *Notice
	if !errors.As(err, &n) || n.Title != "Photo Required" {
		t.Fatalf("expected photo required notice, got %v", err)
	}
	s := c.Snapshot()
	if s.State != AwaitingPhoto || s.Step != 1 {
		t.Errorf("expected step 1, got %s step %d", s.State, s.Step)
	}
	if s.Notice == nil {
		t.Error("expected notice in snapshot")
	}
}

func TestCapture_StopsCamera(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	mustStart(t, c)

	if err := c.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !c.Snapshot().PhotoTaken {
		t.Error("expected photo taken")
	}
	if cam.Active() {
		t.Error("expected camera released after capture")
	}
}

func TestRetake_ClearsPhotoAndReactivatesCamera(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	mustStart(t, c)
	if err := c.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Retake(context.Background()); err != nil {
			t.Fatalf("retake %d: %v", i, err)
		}
		s := c.Snapshot()
		if s.PhotoTaken {
			t.Errorf("retake %d: expected photo cleared", i)
		}
		if !s.CameraActive || !cam.Active() {
			t.Errorf("retake %d: expected camera active", i)
		}
		if err := c.Capture(); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
}

func TestRetake_OnlyOnPhotoStep(t *testing.T) {
	c, _, _, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()

	if err := c.Retake(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Errorf("expected ErrWrongState, got %v", err)
	}
}

func TestHappyPath(t *testing.T) {
	var moves []State
	cam := &fakeCamera{}
	loc := &fakeLocator{coords: model.Coordinates{Lat: 40.7128, Lng: -74.006}}
	gw := &fakeGateway{}
	c := New("1", cam, loc, gw, OnTransition(func(from, to State) { moves = append(moves, to) }))
	defer c.Close()

	mustStart(t, c)
	if err := c.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if s := c.Snapshot(); s.Step != 2 || s.Location != nil {
		t.Fatalf("expected step 2 without location, got %+v", s)
	}
	if err := c.Locate(context.Background()); err != nil {
		t.Fatalf("locate: %v", err)
	}
	receipt, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if receipt.AttendeeID != "a1" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	s := c.Snapshot()
	if s.State != Done || s.Receipt == nil {
		t.Errorf("expected done with receipt, got %+v", s)
	}
	if cam.Active() {
		t.Error("expected camera released")
	}
	want := []State{AwaitingPhoto, AwaitingLocation, Submitting, Done}
	if len(moves) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, moves)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], moves[i])
		}
	}
	call := gw.calls[0]
	if call.eventID != "1" || string(call.photo) != "jpeg" || call.coords.Lat != 40.7128 {
		t.Errorf("unexpected gateway call %+v", call)
	}
}

func TestSubmit_WithoutLocationIsRejected(t *testing.T) {
	c, _, _, gw := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()

	_, err := c.Submit(context.Background())

	var n *Notice
	if !errors.As(err, &n) || n.Title != "Missing Information" {
		t.Fatalf("expected missing information notice, got %v", err)
	}
	if c.Snapshot().State != AwaitingLocation {
		t.Error("expected to stay on location step")
	}
	if gw.callCount() != 0 {
		t.Error("gateway must not be called without location")
	}
}

func TestSubmit_NotFromPhotoStep(t *testing.T) {
	c, _, _, gw := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()

	if _, err := c.Submit(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Errorf("expected ErrWrongState, got %v", err)
	}
	if gw.callCount() != 0 {
		t.Error("gateway must not be called from the photo step")
	}
}

func TestLocate_FailureCanBeRetried(t *testing.T) {
	c, _, loc, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()

	loc.err = location.ErrPermissionDenied
	err := c.Locate(context.Background())
	var n *Notice
	if !errors.As(err, &n) || !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("expected location notice wrapping permission error, got %v", err)
	}
	if c.Snapshot().Location != nil {
		t.Error("expected no location after failure")
	}

	loc.err = nil
	if err := c.Locate(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Snapshot().Location == nil {
		t.Error("expected location after retry")
	}
}

func TestLocate_Unsupported(t *testing.T) {
	c, _, loc, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	loc.err = location.ErrUnsupported

	err := c.Locate(context.Background())

	var n *Notice
	if !errors.As(err, &n) || n.Message != "Geolocation is not supported on this device" {
		t.Errorf("unexpected notice %v", err)
	}
}

func TestBack_DiscardsPhotoAndRestartsCamera(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()

	if err := c.Back(context.Background()); err != nil {
		t.Fatalf("back: %v", err)
	}

	s := c.Snapshot()
	if s.State != AwaitingPhoto || s.PhotoTaken {
		t.Errorf("expected photo step without photo, got %+v", s)
	}
	if !cam.Active() {
		t.Error("expected camera active after going back")
	}
	if err := c.Next(); err == nil {
		t.Error("expected next to require a new photo")
	}
}

func TestBack_KeepsAcquiredLocation(t *testing.T) {
	c, _, _, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	if err := c.Locate(context.Background()); err != nil {
		t.Fatalf("locate: %v", err)
	}

	if err := c.Back(context.Background()); err != nil {
		t.Fatalf("back: %v", err)
	}
	if c.Snapshot().Location == nil {
		t.Error("expected location kept after going back")
	}
	_ = c.Capture()
	_ = c.Next()
	if s := c.Snapshot(); s.State != AwaitingLocation || s.Location == nil {
		t.Errorf("expected location step with location, got %+v", s)
	}
}

func TestSubmit_FailureKeepsDataForRetry(t *testing.T) {
	c, _, _, gw := newTestController(t)
	gw.errs = []error{&gateway.Error{Kind: gateway.NetworkError, Message: "offline"}}
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	_ = c.Locate(context.Background())

	_, err := c.Submit(context.Background())
	if !gateway.IsKind(err, gateway.NetworkError) {
		t.Fatalf("expected network error, got %v", err)
	}
	s := c.Snapshot()
	if s.State != Failed || !s.PhotoTaken || s.Location == nil {
		t.Fatalf("expected failed state with data kept, got %+v", s)
	}

	if _, err := c.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Snapshot().State != Done {
		t.Error("expected done after retry")
	}
	if gw.callCount() != 2 || string(gw.calls[1].photo) != string(gw.calls[0].photo) {
		t.Error("expected retry to resend the same photo")
	}
}

func TestSubmit_RejectionMessageNamesReason(t *testing.T) {
	c, _, _, gw := newTestController(t)
	gw.errs = []error{&gateway.Error{Kind: gateway.RecognitionRejected, Reason: model.ReasonFaceNotRecognized}}
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	_ = c.Locate(context.Background())

	_, err := c.Submit(context.Background())

	var n *Notice
	if !errors.As(err, &n) {
		t.Fatalf("expected notice, got %v", err)
	}
	if n.Message != "Attendance was not accepted (Face Not Recognized). An administrator will review it." {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestClose_CancelsSubmissionAndReleasesCamera(t *testing.T) {
	c, cam, _, gw := newTestController(t)
	gw.block = true
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	_ = c.Locate(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()
	for gw.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit was not canceled by close")
	}
	if c.Snapshot().State == Done {
		t.Error("closed session must not complete")
	}
	if cam.Active() {
		t.Error("expected camera released")
	}
}

func TestClose_ReleasesActiveCamera(t *testing.T) {
	c, cam, _, _ := newTestController(t)
	mustStart(t, c)

	c.Close()
	c.Close()

	if cam.Active() {
		t.Error("expected camera released on close")
	}
	if err := c.Retake(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestOneBlockingCallAtATime(t *testing.T) {
	c, _, loc, _ := newTestController(t)
	mustStart(t, c)
	_ = c.Capture()
	_ = c.Next()
	loc.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- c.Locate(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = c.Locate(context.Background()); errors.Is(err, ErrBusy) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while locating, got %v", err)
	}
	if _, err := c.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected submit to be rejected while locating, got %v", err)
	}

	close(loc.block)
	if err := <-done; err != nil {
		t.Fatalf("locate: %v", err)
	}
}

// Random walks over the public operations must never hand the gateway
// a submission without both a photo and coordinates.
func TestNeverSubmitsIncompleteSession(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		cam := &fakeCamera{}
		loc := &fakeLocator{coords: model.Coordinates{Lat: 1, Lng: 1}}
		gw := &fakeGateway{}
		var submitting []Snapshot
		var c *Controller
		c = New("1", cam, loc, gw, OnTransition(func(from, to State) {
			if to == Submitting {
				// Called with c.mu held; inspect fields directly.
				submitting = append(submitting, Snapshot{PhotoTaken: c.photoTaken, Location: c.location})
			}
		}))
		ctx := context.Background()
		_ = c.Start(ctx)

		for step := 0; step < 30; step++ {
			switch rng.Intn(8) {
			case 0:
				_ = c.Capture()
			case 1:
				_ = c.Retake(ctx)
			case 2:
				_ = c.Next()
			case 3:
				_ = c.Back(ctx)
			case 4:
				if rng.Intn(2) == 0 {
					loc.err = location.ErrPositionUnavailable
				} else {
					loc.err = nil
				}
				_ = c.Locate(ctx)
			case 5, 6:
				if rng.Intn(3) == 0 {
					gw.errs = []error{&gateway.Error{Kind: gateway.ServerError}}
				}
				_, _ = c.Submit(ctx)
			case 7:
				cam.startErr = nil
				if rng.Intn(4) == 0 {
					cam.startErr = capture.ErrMediaUnavailable
				}
			}
		}
		c.Close()

		for _, s := range submitting {
			if !s.PhotoTaken || s.Location == nil {
				t.Fatalf("run %d: reached submitting with photo=%v location=%v", run, s.PhotoTaken, s.Location)
			}
		}
		for _, call := range gw.calls {
			if len(call.photo) == 0 {
				t.Fatalf("run %d: gateway called without photo", run)
			}
		}
		if cam.Active() {
			t.Fatalf("run %d: camera left active after close", run)
		}
	}
}
