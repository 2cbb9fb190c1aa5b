package attendance

import (
	"context"
	"fmt"

	"eventattend/internal/seed"
)

// Seed loads fixtures into an empty store. A store that already has events is left alone.
func Seed(ctx context.Context, s Store, d seed.Data) (bool, error) {
	existing, err := s.ListEvents(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	for _, e := range d.Events {
		if err := s.CreateEvent(ctx, e); err != nil {
			return false, fmt.Errorf("seed event %s: %w", e.ID, err)
		}
	}
	for _, f := range d.Faces {
		if err := s.CreateFace(ctx, f); err != nil {
			return false, fmt.Errorf("seed face %s: %w", f.ID, err)
		}
	}
	for _, a := range d.Attendees {
		if err := s.CreateAttendee(ctx, a); err != nil {
			return false, fmt.Errorf("seed attendee %s: %w", a.ID, err)
		}
	}
	for _, a := range d.Attempts {
		if err := s.CreateAttempt(ctx, a); err != nil {
			return false, fmt.Errorf("seed attempt %s: %w", a.ID, err)
		}
	}
	return true, nil
}
