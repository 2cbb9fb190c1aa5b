package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"eventattend/internal/attendance"
	"eventattend/internal/auth"
	"eventattend/internal/faceclient"
	"eventattend/internal/faces"
	"eventattend/internal/gateway"
	"eventattend/internal/model"
	"eventattend/internal/queue"
	"eventattend/internal/review"
	"eventattend/internal/seed"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	issuer auth.Issuer
	face   *faceclient.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := attendance.NewMemoryStore()
	data, err := seed.Load(time.Now())
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if _, err := attendance.Seed(context.Background(), st, data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	face := faceclient.New("", true)
	face.SkipMatch = "4"
	svc := attendance.NewService(st, face, nil, attendance.Options{
		DedupWindow:    5 * time.Minute,
		MinQuality:     0.5,
		MatchThreshold: 0.45,
	})
	admin, err := auth.NewAdmin("admin", "secret", "")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	issuer := auth.Issuer{Name: "eventattend", Key: "test-key", AccessTTL: time.Minute, RefreshTTL: time.Hour}

	r := NewRouter(Deps{
		Attendance: svc,
		Review:     review.New(st, svc),
		Faces:      faces.NewRegistry(st, nil, queue.NewInMemory(16)),
		Issuer:     issuer,
		Admin:      admin,
		Health:     map[string]HealthCheck{"db": func(context.Context) bool { return true }},
	})
	return &testServer{t: t, router: r, issuer: issuer, face: face}
}

func (s *testServer) token(subject, role string) string {
	s.t.Helper()
	pair, err := s.issuer.Issue(subject, role)
	if err != nil {
		s.t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func payload(eventID string) gateway.Payload {
	return gateway.Payload{
		EventID:  eventID,
		Photo:    gateway.EncodePhoto([]byte("jpeg")),
		Location: model.Coordinates{Lat: 40.7128, Lng: -74.006},
		Address:  "Main Hall",
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" || body["db"] != true {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealthz_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Health: map[string]HealthCheck{"redis": func(context.Context) bool { return false }}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestDeviceRegisterAndSubmit(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/devices/register", "", map[string]string{"device_id": "kiosk-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	var tokens gateway.Tokens
	decode(t, w, &tokens)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.ExpiresAt == 0 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}

	w = s.do(http.MethodPost, "/v1/attendance", tokens.AccessToken, payload("3"))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	var first model.AttendanceReceipt
	decode(t, w, &first)
	if first.Name != "Emily Davis" || first.RegistrationNumber != "REG004" || first.EventID != "3" {
		t.Errorf("unexpected receipt %+v", first)
	}

	// A retry inside the dedup window returns the same receipt.
	w = s.do(http.MethodPost, "/v1/attendance", tokens.AccessToken, payload("3"))
	var second model.AttendanceReceipt
	decode(t, w, &second)
	if w.Code != http.StatusCreated || second.AttendeeID != first.AttendeeID {
		t.Errorf("expected same receipt on retry, got %d %+v", w.Code, second)
	}
}

func TestSubmit_Auth(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodPost, "/v1/attendance", "", payload("3")); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/attendance", s.token("admin", auth.RoleAdmin), payload("3")); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for admin token, got %d", w.Code)
	}
}

func TestSubmit_Errors(t *testing.T) {
	s := newTestServer(t)
	device := s.token("kiosk-1", auth.RoleDevice)

	bad := payload("3")
	bad.Photo = "data:image/jpeg;base64,%%%"
	if w := s.do(http.MethodPost, "/v1/attendance", device, bad); w.Code != http.StatusBadRequest {
		t.Errorf("bad photo: expected 400, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/attendance", device, payload("")); w.Code != http.StatusBadRequest {
		t.Errorf("missing event: expected 400, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/attendance", device, payload("nope")); w.Code != http.StatusNotFound {
		t.Errorf("unknown event: expected 404, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/attendance", device, payload("4")); w.Code != http.StatusConflict {
		t.Errorf("ended event: expected 409, got %d", w.Code)
	}
}

func TestSubmit_Rejected(t *testing.T) {
	s := newTestServer(t)
	s.face.SkipMatch = ""
	device := s.token("kiosk-1", auth.RoleDevice)

	w := s.do(http.MethodPost, "/v1/attendance", device, payload("2"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Error     string              `json:"error"`
		Reason    model.FailureReason `json:"reason"`
		AttemptID string              `json:"attempt_id"`
	}
	decode(t, w, &body)
	if body.Reason != model.ReasonFaceNotRecognized || body.Error != "Face Not Recognized" || body.AttemptID == "" {
		t.Errorf("unexpected rejection %+v", body)
	}

	admin := s.token("admin", auth.RoleAdmin)
	w = s.do(http.MethodGet, "/v1/admin/attempts?event=2&status=pending", admin, nil)
	var list struct {
		Attempts []model.FailedAttempt `json:"attempts"`
	}
	decode(t, w, &list)
	if len(list.Attempts) != 2 || list.Attempts[0].ID != body.AttemptID || list.Attempts[0].DeviceInfo != "kiosk-1" {
		t.Errorf("expected new attempt first, got %+v", list.Attempts)
	}
}

func TestPublicEvents(t *testing.T) {
	s := newTestServer(t)
	tests := map[string]struct {
		code  int
		count int
	}{
		"":               {http.StatusOK, 4},
		"?status=active": {http.StatusOK, 3},
		"?status=past":   {http.StatusOK, 1},
		"?status=soon":   {http.StatusBadRequest, 0},
	}
	for query, want := range tests {
		w := s.do(http.MethodGet, "/v1/events"+query, "", nil)
		if w.Code != want.code {
			t.Errorf("%q: expected %d, got %d", query, want.code, w.Code)
			continue
		}
		if w.Code != http.StatusOK {
			continue
		}
		var body struct {
			Events []model.Event `json:"events"`
		}
		decode(t, w, &body)
		if len(body.Events) != want.count {
			t.Errorf("%q: expected %d events, got %d", query, want.count, len(body.Events))
		}
	}
}

func TestAdminLogin(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "admin", "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "admin"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", w.Code)
	}

	w := s.do(http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "admin", "password": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &body)

	if w := s.do(http.MethodGet, "/v1/admin/dashboard", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/v1/admin/dashboard", s.token("kiosk-1", auth.RoleDevice), nil); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for device token, got %d", w.Code)
	}
	w = s.do(http.MethodGet, "/v1/admin/dashboard", body.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d", w.Code)
	}
	var dash struct {
		Active    []model.Event `json:"activeEvents"`
		Past      []model.Event `json:"pastEvents"`
		FaceCount int           `json:"faceCount"`
		Attempts  review.Counts `json:"attempts"`
	}
	decode(t, w, &dash)
	if len(dash.Active) != 3 || len(dash.Past) != 1 || dash.FaceCount != 5 || dash.Attempts.Pending != 2 {
		t.Errorf("unexpected dashboard %+v", dash)
	}
}

func TestCreateEvent(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	in := attendance.EventInput{
		Title:           "Workshop",
		Description:     "Hands-on session",
		Location:        "Room 4",
		PerimeterMeters: 50,
		StartTime:       start,
		EndTime:         start,
	}
	if w := s.do(http.MethodPost, "/v1/admin/events", admin, in); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty time range, got %d", w.Code)
	}

	in.EndTime = start.Add(2 * time.Hour)
	w := s.do(http.MethodPost, "/v1/admin/events", admin, in)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var e model.Event
	decode(t, w, &e)
	if e.ID == "" || e.Title != "Workshop" || e.Attendees != 0 {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestAttendeesAndExport(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)

	w := s.do(http.MethodGet, "/v1/admin/events/1/attendees", admin, nil)
	var body struct {
		Attendees []model.Attendee `json:"attendees"`
	}
	decode(t, w, &body)
	if len(body.Attendees) != 3 {
		t.Errorf("expected 3 attendees, got %d", len(body.Attendees))
	}

	w = s.do(http.MethodGet, "/v1/admin/events/1/attendees.csv", admin, nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("export: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 4 || lines[0] != "id,name,registration_number,timestamp,location" {
		t.Errorf("unexpected csv %q", w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "event-1-attendees.csv") {
		t.Errorf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}

	if w := s.do(http.MethodGet, "/v1/admin/events/missing/attendees.csv", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing event, got %d", w.Code)
	}
}

func TestReviewDecisions(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)

	if w := s.do(http.MethodGet, "/v1/admin/attempts?status=archived", admin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", w.Code)
	}

	type decision struct {
		Attempt model.FailedAttempt `json:"attempt"`
		Changed bool                `json:"changed"`
	}
	for i, wantChanged := range []bool{true, false} {
		w := s.do(http.MethodPost, "/v1/admin/attempts/fa1/approve", admin, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("approve %d: %d", i, w.Code)
		}
		var d decision
		decode(t, w, &d)
		if d.Changed != wantChanged || d.Attempt.Status != model.StatusApproved {
			t.Errorf("approve %d: unexpected %+v", i, d)
		}
	}

	w := s.do(http.MethodGet, "/v1/admin/events/1/attendees", admin, nil)
	var body struct {
		Attendees []model.Attendee `json:"attendees"`
	}
	decode(t, w, &body)
	if len(body.Attendees) != 4 {
		t.Errorf("approval should record one attendee, got %d", len(body.Attendees))
	}

	if w := s.do(http.MethodPost, "/v1/admin/attempts/fa2/decline", admin, nil); w.Code != http.StatusOK {
		t.Errorf("decline: %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/admin/attempts/nope/decline", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown attempt, got %d", w.Code)
	}
}

func TestFaces(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)

	upload := func(name, reg string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("name", name)
		_ = mw.WriteField("registration_number", reg)
		part, _ := mw.CreateFormFile("photo", "face.jpg")
		_, _ = part.Write([]byte("jpeg"))
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/faces", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+admin)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := upload("Ada Lovelace", "REG006")
	if w.Code != http.StatusCreated {
		t.Fatalf("register face: %d %s", w.Code, w.Body.String())
	}
	var rec model.FaceRecord
	decode(t, w, &rec)

	if w := upload("Copy", "REG006"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate registration number, got %d", w.Code)
	}
	if w := upload("", "REG007"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", w.Code)
	}

	w = s.do(http.MethodGet, "/v1/admin/faces?search=ada", admin, nil)
	var list struct {
		Faces []model.FaceRecord `json:"faces"`
	}
	decode(t, w, &list)
	if len(list.Faces) != 1 || list.Faces[0].ID != rec.ID {
		t.Errorf("unexpected search result %+v", list.Faces)
	}

	if w := s.do(http.MethodDelete, "/v1/admin/faces/"+rec.ID, admin, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := s.do(http.MethodDelete, "/v1/admin/faces/"+rec.ID, admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}
