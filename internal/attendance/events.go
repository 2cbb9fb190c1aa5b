package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventattend/internal/model"
)

// EventInput is the admin form for a new event.
type EventInput struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	PerimeterMeters int       `json:"perimeterMeters"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
}

// ValidateEvent checks that every field is present, the perimeter is positive
// and the event ends strictly after it starts.
func ValidateEvent(in EventInput) error {
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(in.Location) == "" {
		missing = append(missing, "location")
	}
	if in.PerimeterMeters == 0 {
		missing = append(missing, "perimeterMeters")
	}
	if in.StartTime.IsZero() {
		missing = append(missing, "startTime")
	}
	if in.EndTime.IsZero() {
		missing = append(missing, "endTime")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}
	if in.PerimeterMeters < 1 {
		return ErrInvalidPerimeter
	}
	if !in.EndTime.After(in.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// CreateEvent validates and stores a new event with no attendees.
func (s *Service) CreateEvent(ctx context.Context, in EventInput) (model.Event, error) {
	if err := ValidateEvent(in); err != nil {
		return model.Event{}, err
	}
	e := model.Event{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		Location:        strings.TrimSpace(in.Location),
		PerimeterMeters: in.PerimeterMeters,
		StartTime:       in.StartTime.UTC(),
		EndTime:         in.EndTime.UTC(),
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

// Partition splits events into active (ending after now) and past ones, keeping order.
func Partition(events []model.Event, now time.Time) (active, past []model.Event) {
	active, past = []model.Event{}, []model.Event{}
	for _, e := range events {
		if e.Active(now) {
			active = append(active, e)
		} else {
			past = append(past, e)
		}
	}
	return active, past
}

// Event returns one event.
func (s *Service) Event(ctx context.Context, id string) (model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// ListEvents returns events by status: "active", "past", or "" / "all".
func (s *Service) ListEvents(ctx context.Context, status string) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	active, past := Partition(events, s.now())
	switch status {
	case "", "all":
		return events, nil
	case "active":
		return active, nil
	case "past":
		return past, nil
	}
	return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, status)
}

// Dashboard is the admin overview.
type Dashboard struct {
	Active    []model.Event `json:"activeEvents"`
	Past      []model.Event `json:"pastEvents"`
	FaceCount int           `json:"faceCount"`
}

// Dashboard returns events split by status and the number of enrolled faces.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	n, err := s.store.CountFaces(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	active, past := Partition(events, s.now())
	return Dashboard{Active: active, Past: past, FaceCount: n}, nil
}

// ListAttendees returns the attendees of an existing event.
func (s *Service) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListAttendees(ctx, eventID)
}

// ExportAttendees writes the attendees of an event as CSV.
func (s *Service) ExportAttendees(ctx context.Context, eventID string, w io.Writer) error {
	attendees, err := s.ListAttendees(ctx, eventID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "registration_number", "timestamp", "location"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, a := range attendees {
		if err := cw.Write([]string{a.ID, a.Name, a.RegistrationNumber, a.Timestamp.UTC().Format(time.RFC3339), a.Location}); err != nil {
			return fmt.Errorf("write attendee %s: %w", a.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatCount renders an attendee count for plain text output.
func FormatCount(n int) string {
	if n == 1 {
		return "1 attendee"
	}
	return strconv.Itoa(n) + " attendees"
}
