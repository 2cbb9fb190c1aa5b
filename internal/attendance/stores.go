package attendance

import (
	"context"
	"errors"
	"time"

	"eventattend/internal/model"
)

var (
	ErrMissingInput     = errors.New("missing required input")
	ErrInvalidTimeRange = errors.New("end time must be after start time")
	ErrInvalidPerimeter = errors.New("perimeter must be at least 1 meter")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrEventNotFound    = errors.New("event not found")
	ErrEventEnded       = errors.New("event has ended")
	ErrFaceNotFound     = errors.New("face not found")
	ErrDuplicateFace    = errors.New("registration number already enrolled")
	ErrAttemptNotFound  = errors.New("attempt not found")
)

// EventStore persists events.
type EventStore interface {
	CreateEvent(ctx context.Context, e model.Event) error
	GetEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// FaceStore persists enrolled faces.
type FaceStore interface {
	// CreateFace fails with ErrDuplicateFace when the registration number is taken.
	CreateFace(ctx context.Context, f model.FaceRecord) error
	RegistrationTaken(ctx context.Context, regNo string) (bool, error)
	GetFace(ctx context.Context, id string) (model.FaceRecord, error)
	ListFaces(ctx context.Context) ([]model.FaceRecord, error)
	DeleteFace(ctx context.Context, id string) error
	CountFaces(ctx context.Context) (int, error)
}

// AttemptFilter narrows failed attempts. Zero fields match everything.
type AttemptFilter struct {
	EventID string
	Status  model.AttemptStatus
}

// Matches reports whether a passes the filter.
func (f AttemptFilter) Matches(a model.FailedAttempt) bool {
	return (f.EventID == "" || a.EventID == f.EventID) && (f.Status == "" || a.Status == f.Status)
}

// AttemptStore persists failed attempts.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a model.FailedAttempt) error
	GetAttempt(ctx context.Context, id string) (model.FailedAttempt, error)
	ListAttempts(ctx context.Context, f AttemptFilter) ([]model.FailedAttempt, error)
	// UpdateAttemptStatus moves an attempt from one status to another and reports
	// whether it did. A record not currently in from is left untouched.
	UpdateAttemptStatus(ctx context.Context, id string, from, to model.AttemptStatus) (bool, error)
}

// AttendeeStore persists accepted registrations.
type AttendeeStore interface {
	CreateAttendee(ctx context.Context, a model.Attendee) error
	// RecordAttendance stores a and increments its event's attendee count as one
	// step. When a.FaceID is set and that face already attended the event,
	// nothing is written and the existing registration is returned.
	RecordAttendance(ctx context.Context, a model.Attendee) (*model.Attendee, error)
	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)
}

// DeviceStore persists capture devices and their refresh tokens.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
}

// Store is everything the service needs from persistence.
type Store interface {
	EventStore
	FaceStore
	AttemptStore
	AttendeeStore
	DeviceStore
}
