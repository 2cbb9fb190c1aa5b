package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventattend/internal/faceclient"
	"eventattend/internal/metrics"
	"eventattend/internal/model"
)

// Recognizer identifies a face against the enrolled gallery.
type Recognizer interface {
	Search(ctx context.Context, photo []byte, topK int, threshold float64) (*faceclient.SearchResult, error)
}

// ImageUploader stores a photo and returns a URL for it.
type ImageUploader interface {
	UploadImage(ctx context.Context, data []byte, filename, subfolder string) (string, error)
}

// Rejection is returned by Submit when a submission is recorded as a failed attempt.
type Rejection struct {
	Reason    model.FailureReason
	AttemptID string
}

func (r *Rejection) Error() string {
	return "attendance rejected: " + string(r.Reason)
}

// Submission is one attendance request from a capture device.
type Submission struct {
	EventID    string
	Photo      []byte
	Location   model.Coordinates
	Address    string
	DeviceInfo string
}

// Options tune recognition and deduplication.
type Options struct {
	DedupWindow    time.Duration
	MinQuality     float64
	MatchThreshold float64
	Now            func() time.Time
}

// Service coordinates attendance checks and deduplication.
type Service struct {
	store  Store
	faces  Recognizer
	images ImageUploader
	opts   Options
}

// NewService creates a service. images may be nil when no image storage is configured.
func NewService(store Store, faces Recognizer, images ImageUploader, opts Options) *Service {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, faces: faces, images: images, opts: opts}
}

func (s *Service) now() time.Time { return s.opts.Now().UTC() }

// Submit checks a submission and records either an attendee or a failed attempt.
//
// A repeat by the same face inside the dedup window returns the original
// receipt, so device retries are safe. A repeat after the window is
// rejected as a duplicate attempt.
func (s *Service) Submit(ctx context.Context, sub Submission) (model.AttendanceReceipt, error) {
	start := time.Now()
	defer func() { metrics.SubmitDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(sub.EventID) == "" || len(sub.Photo) == 0 {
		return model.AttendanceReceipt{}, fmt.Errorf("%w: eventId and photo are required", ErrMissingInput)
	}
	if !sub.Location.Valid() {
		return model.AttendanceReceipt{}, fmt.Errorf("%w: location out of range", ErrMissingInput)
	}
	event, err := s.store.GetEvent(ctx, sub.EventID)
	if err != nil {
		return model.AttendanceReceipt{}, err
	}
	now := s.now()
	if !event.Active(now) {
		return model.AttendanceReceipt{}, ErrEventEnded
	}

	imageURL := s.upload(ctx, sub.Photo, "attempts")

	res, err := s.faces.Search(ctx, sub.Photo, 1, s.opts.MatchThreshold)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.OutcomeError, "").Inc()
		return model.AttendanceReceipt{}, fmt.Errorf("face search: %w", err)
	}
	if res.FacesDetected == 0 || (res.Quality != nil && res.Quality.Score < s.opts.MinQuality) {
		return model.AttendanceReceipt{}, s.reject(ctx, event, sub, imageURL, model.ReasonPoorImageQuality)
	}
	best, ok := res.Best()
	if !ok || best.Similarity < s.opts.MatchThreshold {
		return model.AttendanceReceipt{}, s.reject(ctx, event, sub, imageURL, model.ReasonFaceNotRecognized)
	}
	face, err := s.store.GetFace(ctx, best.FaceID)
	if errors.Is(err, ErrFaceNotFound) {
		log.Printf("face %s matched but is not in the registry", best.FaceID)
		return model.AttendanceReceipt{}, s.reject(ctx, event, sub, imageURL, model.ReasonFaceNotRecognized)
	}
	if err != nil {
		return model.AttendanceReceipt{}, err
	}

	attendee := model.Attendee{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		FaceID:             face.ID,
		Name:               face.Name,
		RegistrationNumber: face.RegistrationNumber,
		Timestamp:          now,
		Location:           locationLabel(sub.Address, sub.Location),
	}
	prior, err := s.record(ctx, attendee)
	if err != nil {
		return model.AttendanceReceipt{}, err
	}
	if prior != nil {
		if now.Sub(prior.Timestamp) < s.opts.DedupWindow {
			metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate, "").Inc()
			return receiptFor(*prior), nil
		}
		return model.AttendanceReceipt{}, s.reject(ctx, event, sub, imageURL, model.ReasonDuplicateAttempt)
	}
	metrics.Submissions.WithLabelValues(metrics.OutcomeAccepted, "").Inc()
	return receiptFor(attendee), nil
}

// RecordApproved registers attendance for a failed attempt an admin approved.
// The person behind the attempt is unknown, so the attendee is unidentified.
func (s *Service) RecordApproved(ctx context.Context, a model.FailedAttempt) error {
	_, err := s.record(ctx, model.Attendee{
		ID:        uuid.NewString(),
		EventID:   a.EventID,
		Name:      "Unidentified",
		Timestamp: s.now(),
		Location:  locationLabel(a.Location.Address, model.Coordinates{Lat: a.Location.Lat, Lng: a.Location.Lng}),
	})
	return err
}

// record stores a unless its face already attended the event, in which case
// the earlier registration is returned.
func (s *Service) record(ctx context.Context, a model.Attendee) (*model.Attendee, error) {
	prior, err := s.store.RecordAttendance(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("record attendee: %w", err)
	}
	return prior, nil
}

func (s *Service) reject(ctx context.Context, event model.Event, sub Submission, imageURL string, reason model.FailureReason) error {
	attempt := model.FailedAttempt{
		ID:         uuid.NewString(),
		EventID:    event.ID,
		EventTitle: event.Title,
		Timestamp:  s.now(),
		ImageURL:   imageURL,
		Reason:     reason,
		Location: model.AttemptLocation{
			Lat:     sub.Location.Lat,
			Lng:     sub.Location.Lng,
			Address: sub.Address,
		},
		DeviceInfo: sub.DeviceInfo,
		Status:     model.StatusPending,
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	metrics.Submissions.WithLabelValues(metrics.OutcomeRejected, string(reason)).Inc()
	return &Rejection{Reason: reason, AttemptID: attempt.ID}
}

// upload stores the photo when image storage is configured. Failures are logged, not fatal.
func (s *Service) upload(ctx context.Context, photo []byte, folder string) string {
	if s.images == nil {
		return ""
	}
	url, err := s.images.UploadImage(ctx, photo, uuid.NewString()+".jpg", folder)
	if err != nil {
		log.Printf("image upload failed: %v", err)
		return ""
	}
	return url
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id", ErrMissingInput)
	}
	return s.store.UpsertDevice(ctx, deviceID)
}

// SaveRefreshToken records a refresh token issued to a device.
func (s *Service) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	return s.store.SaveRefreshToken(ctx, deviceID, token, expiresAt)
}

func receiptFor(a model.Attendee) model.AttendanceReceipt {
	return model.AttendanceReceipt{
		AttendeeID:         a.ID,
		EventID:            a.EventID,
		Name:               a.Name,
		RegistrationNumber: a.RegistrationNumber,
		Timestamp:          a.Timestamp,
	}
}

func locationLabel(address string, c model.Coordinates) string {
	if address != "" {
		return address
	}
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lng)
}
