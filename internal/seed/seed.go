// Package seed provides demo fixtures for a fresh store.
package seed

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"eventattend/internal/model"
)

//go:embed seed.yaml
var defaultFixtures []byte

// Data is a resolved fixture set.
type Data struct {
	Events    []model.Event
	Faces     []model.FaceRecord
	Attendees []model.Attendee
	Attempts  []model.FailedAttempt
}

type fixtures struct {
	Events []struct {
		ID          string        `yaml:"id"`
		Title       string        `yaml:"title"`
		Description string        `yaml:"description"`
		Location    string        `yaml:"location"`
		Perimeter   int           `yaml:"perimeter"`
		Start       time.Duration `yaml:"start"`
		End         time.Duration `yaml:"end"`
		Attendees   int           `yaml:"attendees"`
	} `yaml:"events"`
	Faces []struct {
		ID           string        `yaml:"id"`
		Name         string        `yaml:"name"`
		Registration string        `yaml:"registration"`
		Image        string        `yaml:"image"`
		Added        time.Duration `yaml:"added"`
	} `yaml:"faces"`
	Attendees []struct {
		ID       string        `yaml:"id"`
		Event    string        `yaml:"event"`
		Face     string        `yaml:"face"`
		At       time.Duration `yaml:"at"`
		Location string        `yaml:"location"`
	} `yaml:"attendees"`
	Attempts []struct {
		ID       string                `yaml:"id"`
		Event    string                `yaml:"event"`
		At       time.Duration         `yaml:"at"`
		Image    string                `yaml:"image"`
		Reason   model.FailureReason   `yaml:"reason"`
		Location model.AttemptLocation `yaml:"location"`
		Device   string                `yaml:"device"`
		Status   model.AttemptStatus   `yaml:"status"`
	} `yaml:"attempts"`
}

// Load resolves the built-in fixtures against now.
func Load(now time.Time) (Data, error) {
	return Parse(defaultFixtures, now)
}

// Parse resolves a YAML fixture document against now. Durations are offsets from now.
func Parse(raw []byte, now time.Time) (Data, error) {
	var f fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Data{}, fmt.Errorf("seed: parse: %w", err)
	}
	now = now.UTC()

	var d Data
	titles := make(map[string]string, len(f.Events))
	for _, e := range f.Events {
		d.Events = append(d.Events, model.Event{
			ID:              e.ID,
			Title:           e.Title,
			Description:     e.Description,
			Location:        e.Location,
			PerimeterMeters: e.Perimeter,
			StartTime:       now.Add(e.Start),
			EndTime:         now.Add(e.End),
			Attendees:       e.Attendees,
		})
		titles[e.ID] = e.Title
	}

	faces := make(map[string]model.FaceRecord, len(f.Faces))
	for _, fc := range f.Faces {
		rec := model.FaceRecord{
			ID:                 fc.ID,
			Name:               fc.Name,
			RegistrationNumber: fc.Registration,
			ImageURL:           fc.Image,
			AddedOn:            now.Add(fc.Added),
		}
		d.Faces = append(d.Faces, rec)
		faces[fc.ID] = rec
	}

	for _, a := range f.Attendees {
		face, ok := faces[a.Face]
		if !ok {
			return Data{}, fmt.Errorf("seed: attendee %s: unknown face %q", a.ID, a.Face)
		}
		if _, ok := titles[a.Event]; !ok {
			return Data{}, fmt.Errorf("seed: attendee %s: unknown event %q", a.ID, a.Event)
		}
		d.Attendees = append(d.Attendees, model.Attendee{
			ID:                 a.ID,
			EventID:            a.Event,
			FaceID:             face.ID,
			Name:               face.Name,
			RegistrationNumber: face.RegistrationNumber,
			Timestamp:          now.Add(a.At),
			Location:           a.Location,
		})
	}

	for _, a := range f.Attempts {
		title, ok := titles[a.Event]
		if !ok {
			return Data{}, fmt.Errorf("seed: attempt %s: unknown event %q", a.ID, a.Event)
		}
		if !a.Reason.Valid() || !a.Status.Valid() {
			return Data{}, fmt.Errorf("seed: attempt %s: invalid reason %q or status %q", a.ID, a.Reason, a.Status)
		}
		d.Attempts = append(d.Attempts, model.FailedAttempt{
			ID:         a.ID,
			EventID:    a.Event,
			EventTitle: title,
			Timestamp:  now.Add(a.At),
			ImageURL:   a.Image,
			Reason:     a.Reason,
			Location:   a.Location,
			DeviceInfo: a.Device,
			Status:     a.Status,
		})
	}
	return d, nil
}
