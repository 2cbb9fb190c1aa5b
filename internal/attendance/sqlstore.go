package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"eventattend/internal/model"
)

// SQLStore persists attendance data through database/sql. It speaks both
// Postgres (pgx) and SQLite; only the placeholder format differs.
type SQLStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

// NewSQLStore creates a store for db opened with the named driver ("pgx" or "sqlite3").
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	format := sq.PlaceholderFormat(sq.Dollar)
	if driver == "sqlite3" {
		format = sq.Question
	}
	return &SQLStore{db: db, psql: sq.StatementBuilder.PlaceholderFormat(format)}
}

type scanner interface {
	Scan(dest ...any) error
}

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer, op string) (sql.Result, error) {
	return execOn(ctx, s.db, b, op)
}

func execOn(ctx context.Context, r runner, b sq.Sqlizer, op string) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (s *SQLStore) query(ctx context.Context, b sq.Sqlizer, op string) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

func (s *SQLStore) queryRow(ctx context.Context, b sq.Sqlizer, op string) (*sql.Row, error) {
	return queryRowOn(ctx, s.db, b, op)
}

func queryRowOn(ctx context.Context, r runner, b sq.Sqlizer, op string) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	return r.QueryRowContext(ctx, query, args...), nil
}

// Events

var eventColumns = []string{"id", "title", "description", "location", "perimeter_meters", "start_time", "end_time", "attendees"}

func scanEvent(r scanner) (model.Event, error) {
	var e model.Event
	err := r.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.PerimeterMeters, &e.StartTime, &e.EndTime, &e.Attendees)
	e.StartTime, e.EndTime = e.StartTime.UTC(), e.EndTime.UTC()
	return e, err
}

func (s *SQLStore) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.exec(ctx, s.psql.Insert("events").Columns(eventColumns...).
		Values(e.ID, e.Title, e.Description, e.Location, e.PerimeterMeters, e.StartTime.UTC(), e.EndTime.UTC(), e.Attendees),
		"insert event")
	return err
}

func (s *SQLStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row, err := s.queryRow(ctx, s.psql.Select(eventColumns...).From("events").Where(sq.Eq{"id": id}).Limit(1), "get event")
	if err != nil {
		return model.Event{}, err
	}
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrEventNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func (s *SQLStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.query(ctx, s.psql.Select(eventColumns...).From("events").OrderBy("start_time"), "list events")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) incrementAttendees(ctx context.Context, r runner, eventID string) error {
	res, err := execOn(ctx, r, s.psql.Update("events").
		Set("attendees", sq.Expr("attendees + 1")).
		Where(sq.Eq{"id": eventID}), "increment attendees")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Faces

var faceColumns = []string{"id", "name", "registration_number", "image_url", "added_on"}

func scanFace(r scanner) (model.FaceRecord, error) {
	var f model.FaceRecord
	err := r.Scan(&f.ID, &f.Name, &f.RegistrationNumber, &f.ImageURL, &f.AddedOn)
	f.AddedOn = f.AddedOn.UTC()
	return f, err
}

// CreateFace inserts a face. The unique index on registration_number still guards concurrent inserts.
func (s *SQLStore) RegistrationTaken(ctx context.Context, regNo string) (bool, error) {
	row, err := s.queryRow(ctx, s.psql.Select("COUNT(*)").From("faces").
		Where(sq.Eq{"registration_number": regNo}), "check face")
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check face: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) CreateFace(ctx context.Context, f model.FaceRecord) error {
	taken, err := s.RegistrationTaken(ctx, f.RegistrationNumber)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateFace
	}
	_, err = s.exec(ctx, s.psql.Insert("faces").Columns(faceColumns...).
		Values(f.ID, f.Name, f.RegistrationNumber, f.ImageURL, f.AddedOn.UTC()), "insert face")
	return err
}

func (s *SQLStore) GetFace(ctx context.Context, id string) (model.FaceRecord, error) {
	row, err := s.queryRow(ctx, s.psql.Select(faceColumns...).From("faces").Where(sq.Eq{"id": id}).Limit(1), "get face")
	if err != nil {
		return model.FaceRecord{}, err
	}
	f, err := scanFace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FaceRecord{}, ErrFaceNotFound
	}
	if err != nil {
		return model.FaceRecord{}, fmt.Errorf("get face %s: %w", id, err)
	}
	return f, nil
}

func (s *SQLStore) ListFaces(ctx context.Context) ([]model.FaceRecord, error) {
	rows, err := s.query(ctx, s.psql.Select(faceColumns...).From("faces").OrderBy("added_on"), "list faces")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.FaceRecord{}
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteFace(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.psql.Delete("faces").Where(sq.Eq{"id": id}), "delete face")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFaceNotFound
	}
	return nil
}

func (s *SQLStore) CountFaces(ctx context.Context) (int, error) {
	row, err := s.queryRow(ctx, s.psql.Select("COUNT(*)").From("faces"), "count faces")
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return n, nil
}

// Failed attempts

var attemptColumns = []string{"id", "event_id", "event_title", "recorded_at", "image_url", "reason", "lat", "lng", "address", "device_info", "status"}

func scanAttempt(r scanner) (model.FailedAttempt, error) {
	var a model.FailedAttempt
	err := r.Scan(&a.ID, &a.EventID, &a.EventTitle, &a.Timestamp, &a.ImageURL, &a.Reason,
		&a.Location.Lat, &a.Location.Lng, &a.Location.Address, &a.DeviceInfo, &a.Status)
	a.Timestamp = a.Timestamp.UTC()
	return a, err
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a model.FailedAttempt) error {
	_, err := s.exec(ctx, s.psql.Insert("failed_attempts").Columns(attemptColumns...).
		Values(a.ID, a.EventID, a.EventTitle, a.Timestamp.UTC(), a.ImageURL, string(a.Reason),
			a.Location.Lat, a.Location.Lng, a.Location.Address, a.DeviceInfo, string(a.Status)),
		"insert attempt")
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (model.FailedAttempt, error) {
	row, err := s.queryRow(ctx, s.psql.Select(attemptColumns...).From("failed_attempts").Where(sq.Eq{"id": id}).Limit(1), "get attempt")
	if err != nil {
		return model.FailedAttempt{}, err
	}
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FailedAttempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return model.FailedAttempt{}, fmt.Errorf("get attempt %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]model.FailedAttempt, error) {
	q := s.psql.Select(attemptColumns...).From("failed_attempts").OrderBy("recorded_at DESC")
	if f.EventID != "" {
		q = q.Where(sq.Eq{"event_id": f.EventID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	rows, err := s.query(ctx, q, "list attempts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.FailedAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateAttemptStatus(ctx context.Context, id string, from, to model.AttemptStatus) (bool, error) {
	res, err := s.exec(ctx, s.psql.Update("failed_attempts").
		Set("status", string(to)).
		Where(sq.Eq{"id": id, "status": string(from)}), "update attempt status")
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetAttempt(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Attendees

var attendeeColumns = []string{"id", "event_id", "face_id", "name", "registration_number", "recorded_at", "location"}

func scanAttendee(r scanner) (model.Attendee, error) {
	var a model.Attendee
	err := r.Scan(&a.ID, &a.EventID, &a.FaceID, &a.Name, &a.RegistrationNumber, &a.Timestamp, &a.Location)
	a.Timestamp = a.Timestamp.UTC()
	return a, err
}

func (s *SQLStore) CreateAttendee(ctx context.Context, a model.Attendee) error {
	_, err := s.exec(ctx, s.psql.Insert("attendees").Columns(attendeeColumns...).
		Values(a.ID, a.EventID, a.FaceID, a.Name, a.RegistrationNumber, a.Timestamp.UTC(), a.Location),
		"insert attendee")
	return err
}

// RecordAttendance relies on the unique index over (event_id, face_id) for
// recognised faces, so concurrent submissions for one face insert once.
func (s *SQLStore) RecordAttendance(ctx context.Context, a model.Attendee) (*model.Attendee, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record attendance: %w", err)
	}
	defer tx.Rollback()

	res, err := execOn(ctx, tx, s.psql.Insert("attendees").Columns(attendeeColumns...).
		Values(a.ID, a.EventID, a.FaceID, a.Name, a.RegistrationNumber, a.Timestamp.UTC(), a.Location).
		Suffix("ON CONFLICT DO NOTHING"), "insert attendee")
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		row, err := queryRowOn(ctx, tx, s.psql.Select(attendeeColumns...).From("attendees").
			Where(sq.Eq{"event_id": a.EventID, "face_id": a.FaceID}).Limit(1), "existing attendance")
		if err != nil {
			return nil, err
		}
		prior, err := scanAttendee(row)
		if err != nil {
			return nil, fmt.Errorf("existing attendance: %w", err)
		}
		return &prior, nil
	}
	if err := s.incrementAttendees(ctx, tx, a.EventID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record attendance: %w", err)
	}
	return nil, nil
}

func (s *SQLStore) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	rows, err := s.query(ctx, s.psql.Select(attendeeColumns...).From("attendees").
		Where(sq.Eq{"event_id": eventID}).OrderBy("recorded_at DESC"), "list attendees")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Attendee{}
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Devices

// UpsertDevice ensures a device record exists.
func (s *SQLStore) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := s.exec(ctx, s.psql.Insert("devices").Columns("device_id").Values(deviceID).
		Suffix("ON CONFLICT (device_id) DO NOTHING"), "upsert device")
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (s *SQLStore) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := s.exec(ctx, s.psql.Insert("refresh_tokens").Columns("device_id", "token", "expires_at").
		Values(deviceID, token, expiresAt.UTC()), "save refresh token")
	return err
}
