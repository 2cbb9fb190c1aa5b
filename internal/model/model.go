package model

import "time"

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are inside their geographic ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Event is a scheduled gathering attendance can be registered for.
type Event struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	PerimeterMeters int       `json:"perimeterMeters"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Attendees       int       `json:"attendees"`
}

// Active reports whether the event has not ended yet at now.
func (e Event) Active(now time.Time) bool {
	return e.EndTime.After(now)
}

// Attendee is a successful attendance registration.
type Attendee struct {
	ID                 string    `json:"id"`
	EventID            string    `json:"eventId"`
	FaceID             string    `json:"faceId,omitempty"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber"`
	Timestamp          time.Time `json:"timestamp"`
	Location           string    `json:"location"`
}

// FaceRecord is an enrolled face used for recognition.
type FaceRecord struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber"`
	ImageURL           string    `json:"imageUrl"`
	AddedOn            time.Time `json:"addedOn"`
}

// FailureReason explains why a submission was not accepted automatically.
type FailureReason string

const (
	ReasonFaceNotRecognized FailureReason = "face_not_recognized"
	ReasonOutsidePerimeter  FailureReason = "outside_perimeter"
	ReasonPoorImageQuality  FailureReason = "poor_image_quality"
	ReasonDuplicateAttempt  FailureReason = "duplicate_attempt"
)

var reasonLabels = map[FailureReason]string{
	ReasonFaceNotRecognized: "Face Not Recognized",
	ReasonOutsidePerimeter:  "Outside Event Perimeter",
	ReasonPoorImageQuality:  "Poor Image Quality",
	ReasonDuplicateAttempt:  "Duplicate Attempt",
}

// Valid reports whether r is one of the known reasons.
func (r FailureReason) Valid() bool {
	_, ok := reasonLabels[r]
	return ok
}

// Label is the human readable form of r.
func (r FailureReason) Label() string {
	if l, ok := reasonLabels[r]; ok {
		return l
	}
	return string(r)
}

// AttemptStatus is the review state of a failed attempt.
type AttemptStatus string

const (
	StatusPending  AttemptStatus = "pending"
	StatusApproved AttemptStatus = "approved"
	StatusDeclined AttemptStatus = "declined"
)

// Valid reports whether s is one of the known statuses.
func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined:
		return true
	}
	return false
}

// AttemptLocation is where a failed attempt was made.
type AttemptLocation struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// FailedAttempt is a submission awaiting manual adjudication.
type FailedAttempt struct {
	ID         string          `json:"id"`
	EventID    string          `json:"eventId"`
	EventTitle string          `json:"eventTitle"`
	Timestamp  time.Time       `json:"timestamp"`
	ImageURL   string          `json:"userImage"`
	Reason     FailureReason   `json:"reason"`
	Location   AttemptLocation `json:"location"`
	DeviceInfo string          `json:"deviceInfo"`
	Status     AttemptStatus   `json:"status"`
}

// AttendanceReceipt confirms an accepted submission.
type AttendanceReceipt struct {
	AttendeeID         string    `json:"attendeeId"`
	EventID            string    `json:"eventId"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber"`
	Timestamp          time.Time `json:"timestamp"`
}
