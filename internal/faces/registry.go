// Package faces manages the registry of enrolled faces. Gallery updates on
// the recognition service are handed to the worker through the job queue.
package faces

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventattend/internal/attendance"
	"eventattend/internal/model"
	"eventattend/internal/queue"
)

const publishTimeout = 2 * time.Second

// EnrollJob asks the worker to add a face to the recognition gallery.
type EnrollJob struct {
	FaceID   string `json:"faceId"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
	Photo    []byte `json:"photo"`
}

// RemoveJob asks the worker to drop a face from the recognition gallery.
type RemoveJob struct {
	FaceID string `json:"faceId"`
}

// Registry registers, lists and removes faces.
type Registry struct {
	store  attendance.FaceStore
	images attendance.ImageUploader
	jobs   queue.Queue
	now    func() time.Time
}

// NewRegistry creates a registry. images and jobs may be nil.
func NewRegistry(store attendance.FaceStore, images attendance.ImageUploader, jobs queue.Queue) *Registry {
	return &Registry{store: store, images: images, jobs: jobs, now: time.Now}
}

// Register stores a new face and schedules its enrollment.
func (r *Registry) Register(ctx context.Context, name, regNo string, photo []byte) (model.FaceRecord, error) {
	name, regNo = strings.TrimSpace(name), strings.TrimSpace(regNo)
	if name == "" || regNo == "" || len(photo) == 0 {
		return model.FaceRecord{}, fmt.Errorf("%w: name, registration number and photo are required", attendance.ErrMissingInput)
	}

	// Checked before the upload so a rejected registration stores no image.
	taken, err := r.store.RegistrationTaken(ctx, regNo)
	if err != nil {
		return model.FaceRecord{}, fmt.Errorf("check registration number: %w", err)
	}
	if taken {
		return model.FaceRecord{}, attendance.ErrDuplicateFace
	}

	rec := model.FaceRecord{
		ID:                 uuid.NewString(),
		Name:               name,
		RegistrationNumber: regNo,
		AddedOn:            r.now().UTC(),
	}
	if r.images != nil {
		url, err := r.images.UploadImage(ctx, photo, rec.ID+".jpg", "faces")
		if err != nil {
			return model.FaceRecord{}, fmt.Errorf("upload face image: %w", err)
		}
		rec.ImageURL = url
	}
	if err := r.store.CreateFace(ctx, rec); err != nil {
		return model.FaceRecord{}, fmt.Errorf("store face: %w", err)
	}

	r.publish(ctx, queue.TypeFaceEnroll, EnrollJob{FaceID: rec.ID, Name: rec.Name, ImageURL: rec.ImageURL, Photo: photo})
	return rec, nil
}

// List returns faces whose name or registration number contains search, case-insensitively.
func (r *Registry) List(ctx context.Context, search string) ([]model.FaceRecord, error) {
	all, err := r.store.ListFaces(ctx)
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return all, nil
	}
	out := []model.FaceRecord{}
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Name), search) || strings.Contains(strings.ToLower(f.RegistrationNumber), search) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Delete removes a face and schedules its removal from the gallery.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteFace(ctx, id); err != nil {
		return err
	}
	r.publish(ctx, queue.TypeFaceRemove, RemoveJob{FaceID: id})
	return nil
}

// Count returns the number of enrolled faces.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.CountFaces(ctx)
}

// publish enqueues a gallery job. The registry stays authoritative, so failures are only logged.
func (r *Registry) publish(ctx context.Context, typ string, job any) {
	if r.jobs == nil {
		return
	}
	msg, err := queue.NewJSON(typ, job)
	if err != nil {
		log.Printf("encode %s job: %v", typ, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.jobs.Publish(ctx, msg); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
