package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"eventattend/internal/model"
)

// MemoryStore keeps everything in process memory. It is used for demos and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string]model.Event
	faces     map[string]model.FaceRecord
	attempts  map[string]model.FailedAttempt
	attendees []model.Attendee
	devices   map[string]struct{}
	tokens    map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]model.Event),
		faces:    make(map[string]model.FaceRecord),
		attempts: make(map[string]model.FailedAttempt),
		devices:  make(map[string]struct{}),
		tokens:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateEvent(ctx context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	return e, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) CreateFace(ctx context.Context, f model.FaceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registrationTaken(f.RegistrationNumber) {
		return ErrDuplicateFace
	}
	m.faces[f.ID] = f
	return nil
}

func (m *MemoryStore) RegistrationTaken(ctx context.Context, regNo string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registrationTaken(regNo), nil
}

func (m *MemoryStore) registrationTaken(regNo string) bool {
	for _, existing := range m.faces {
		if existing.RegistrationNumber == regNo {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetFace(ctx context.Context, id string) (model.FaceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faces[id]
	if !ok {
		return model.FaceRecord{}, ErrFaceNotFound
	}
	return f, nil
}

func (m *MemoryStore) ListFaces(ctx context.Context) ([]model.FaceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.FaceRecord, 0, len(m.faces))
	for _, f := range m.faces {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedOn.Before(out[j].AddedOn) })
	return out, nil
}

func (m *MemoryStore) DeleteFace(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.faces[id]; !ok {
		return ErrFaceNotFound
	}
	delete(m.faces, id)
	return nil
}

func (m *MemoryStore) CountFaces(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

func (m *MemoryStore) CreateAttempt(ctx context.Context, a model.FailedAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAttempt(ctx context.Context, id string) (model.FailedAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return model.FailedAttempt{}, ErrAttemptNotFound
	}
	return a, nil
}

// ListAttempts returns matching attempts, newest first.
func (m *MemoryStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]model.FailedAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.FailedAttempt{}
	for _, a := range m.attempts {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) UpdateAttemptStatus(ctx context.Context, id string, from, to model.AttemptStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return false, ErrAttemptNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	m.attempts[id] = a
	return true, nil
}

func (m *MemoryStore) CreateAttendee(ctx context.Context, a model.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendees = append(m.attendees, a)
	return nil
}

// ListAttendees returns the attendees of an event, newest first.
func (m *MemoryStore) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Attendee{}
	for _, a := range m.attendees {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) RecordAttendance(ctx context.Context, a model.Attendee) (*model.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[a.EventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if a.FaceID != "" {
		if prior := m.lastAttendance(a.EventID, a.FaceID); prior != nil {
			return prior, nil
		}
	}
	m.attendees = append(m.attendees, a)
	e.Attendees++
	m.events[a.EventID] = e
	return nil, nil
}

func (m *MemoryStore) lastAttendance(eventID, faceID string) *model.Attendee {
	var last *model.Attendee
	for i := range m.attendees {
		a := m.attendees[i]
		if a.EventID != eventID || a.FaceID != faceID {
			continue
		}
		if last == nil || a.Timestamp.After(last.Timestamp) {
			last = &a
		}
	}
	return last
}

func (m *MemoryStore) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceID] = struct{}{}
	return nil
}

func (m *MemoryStore) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = deviceID
	return nil
}
