package faces

import (
	"context"
	"fmt"
	"log"
	"time"

	"eventattend/internal/faceclient"
	"eventattend/internal/metrics"
	"eventattend/internal/queue"
)

// Gallery is the recognition service's enrolled face set.
type Gallery interface {
	Enroll(ctx context.Context, faceID, name string, photo []byte) (*faceclient.EnrollResult, error)
	Remove(ctx context.Context, faceID string) error
}

// Worker applies gallery jobs published by the Registry.
type Worker struct {
	gallery Gallery
	timeout time.Duration
}

// NewWorker creates a worker. Each job gets at most timeout to finish.
func NewWorker(gallery Gallery, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Worker{gallery: gallery, timeout: timeout}
}

// Run consumes jobs until ctx ends. Failed jobs are logged and dropped.
func (w *Worker) Run(ctx context.Context, jobs queue.Queue) error {
	messages, err := jobs.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range messages {
		result := "ok"
		if err := w.Handle(ctx, msg); err != nil {
			log.Printf("%s job failed: %v", msg.Type, err)
			result = "error"
		}
		metrics.FaceJobs.WithLabelValues(msg.Type, result).Inc()
	}
	return nil
}

// Handle applies one job. Unknown job types are ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	switch msg.Type {
	case queue.TypeFaceEnroll:
		var job EnrollJob
		if err := msg.Decode(&job); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		res, err := w.gallery.Enroll(ctx, job.FaceID, job.Name, job.Photo)
		if err != nil {
			return fmt.Errorf("enroll %s: %w", job.FaceID, err)
		}
		if !res.Success {
			return fmt.Errorf("enroll %s: %s", job.FaceID, res.Message)
		}
		log.Printf("face %s enrolled", job.FaceID)
	case queue.TypeFaceRemove:
		var job RemoveJob
		if err := msg.Decode(&job); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if err := w.gallery.Remove(ctx, job.FaceID); err != nil {
			return fmt.Errorf("remove %s: %w", job.FaceID, err)
		}
		log.Printf("face %s removed", job.FaceID)
	default:
		log.Printf("ignoring job of type %q", msg.Type)
	}
	return nil
}
