// Package review lets administrators adjudicate failed attendance attempts.
package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"eventattend/internal/attendance"
	"eventattend/internal/metrics"
	"eventattend/internal/model"
)

// All disables a filter field.
const All = "all"

var ErrInvalidStatus = errors.New("review: invalid status filter")

// Filter selects attempts by event and status. Empty or "all" matches everything.
type Filter struct {
	EventID string
	Status  string
}

func (f Filter) resolve() (attendance.AttemptFilter, error) {
	var af attendance.AttemptFilter
	if f.EventID != All {
		af.EventID = f.EventID
	}
	if f.Status != "" && f.Status != All {
		st := model.AttemptStatus(f.Status)
		if !st.Valid() {
			return af, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
		}
		af.Status = st
	}
	return af, nil
}

// Recorder registers attendance for an approved attempt.
type Recorder interface {
	RecordApproved(ctx context.Context, a model.FailedAttempt) error
}

// Counts summarises attempts by status.
type Counts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Declined int `json:"declined"`
}

// List is the admin review list over an attempt store.
type List struct {
	store    attendance.AttemptStore
	recorder Recorder
}

// New creates a review list. recorder may be nil, in which case approvals only change status.
func New(store attendance.AttemptStore, recorder Recorder) *List {
	return &List{store: store, recorder: recorder}
}

// Filter returns the attempts matching f, newest first.
func (l *List) Filter(ctx context.Context, f Filter) ([]model.FailedAttempt, error) {
	af, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return l.store.ListAttempts(ctx, af)
}

// Approve marks a pending attempt approved and records the attendance.
// Attempts that are not pending are returned unchanged with changed=false.
func (l *List) Approve(ctx context.Context, id string) (model.FailedAttempt, bool, error) {
	return l.decide(ctx, id, model.StatusApproved)
}

// Decline marks a pending attempt declined.
// Attempts that are not pending are returned unchanged with changed=false.
func (l *List) Decline(ctx context.Context, id string) (model.FailedAttempt, bool, error) {
	return l.decide(ctx, id, model.StatusDeclined)
}

func (l *List) decide(ctx context.Context, id string, to model.AttemptStatus) (model.FailedAttempt, bool, error) {
	changed, err := l.store.UpdateAttemptStatus(ctx, id, model.StatusPending, to)
	if err != nil {
		return model.FailedAttempt{}, false, err
	}
	a, err := l.store.GetAttempt(ctx, id)
	if err != nil {
		return model.FailedAttempt{}, false, err
	}
	if changed && to == model.StatusApproved && l.recorder != nil {
		if err := l.recorder.RecordApproved(ctx, a); err != nil {
			// Back to pending so a retried approval records the attendance.
			if _, rerr := l.store.UpdateAttemptStatus(ctx, id, model.StatusApproved, model.StatusPending); rerr != nil {
				log.Printf("revert attempt %s to pending: %v", id, rerr)
			} else {
				a.Status = model.StatusPending
			}
			return a, false, fmt.Errorf("record approved attempt %s: %w", id, err)
		}
	}
	metrics.ReviewDecisions.WithLabelValues(string(to), strconv.FormatBool(changed)).Inc()
	return a, changed, nil
}

// Counts returns the number of attempts in each status.
func (l *List) Counts(ctx context.Context) (Counts, error) {
	all, err := l.store.ListAttempts(ctx, attendance.AttemptFilter{})
	if err != nil {
		return Counts{}, err
	}
	c := Counts{Total: len(all)}
	for _, a := range all {
		switch a.Status {
		case model.StatusPending:
			c.Pending++
		case model.StatusApproved:
			c.Approved++
		case model.StatusDeclined:
			c.Declined++
		}
	}
	return c, nil
}
