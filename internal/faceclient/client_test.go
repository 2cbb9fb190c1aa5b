package faceclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch_SendsPhotoAsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("top_k"); got != "1" {
			t.Errorf("expected top_k 1, got %q", got)
		}
		if got := r.FormValue("threshold"); got != "0.45" {
			t.Errorf("expected threshold 0.45, got %q", got)
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("photo: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "jpeg-bytes" {
			t.Errorf("unexpected photo %q", data)
		}
		_ = json.NewEncoder(w).Encode(SearchResult{
			Matches:       []SearchMatch{{FaceID: "2", Similarity: 0.81}},
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.9},
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL, false).Search(context.Background(), []byte("jpeg-bytes"), 1, 0.45)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	best, ok := res.Best()
	if !ok || best.FaceID != "2" {
		t.Errorf("unexpected best match %+v", best)
	}
}

func TestSearch_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, false).Search(context.Background(), []byte("x"), 1, 0); err == nil {
		t.Error("expected error")
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://unused.invalid", true)

	res, err := c.Search(context.Background(), nil, 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, ok := res.Best(); ok {
		t.Error("expected no match without SkipMatch")
	}

	c.SkipMatch = "1"
	res, _ = c.Search(context.Background(), nil, 1, 0)
	if best, ok := res.Best(); !ok || best.FaceID != "1" {
		t.Errorf("expected skip match 1, got %+v", res.Matches)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
	if err := c.Remove(context.Background(), "1"); err != nil {
		t.Errorf("remove: %v", err)
	}
}

func TestRemove_NotFoundIsIgnored(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := New(srv.URL, false).Remove(context.Background(), "abc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if method != http.MethodDelete || path != "/faces/abc" {
		t.Errorf("unexpected request %s %s", method, path)
	}
}
