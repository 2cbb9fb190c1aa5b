package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	PoseYaw   float64 `json:"pose_yaw"`
	PosePitch float64 `json:"pose_pitch"`
	PoseRoll  float64 `json:"pose_roll"`
	FaceSize  int     `json:"face_size"`
	IsFrontal bool    `json:"is_frontal"`
}

// EnrollResult contains face enrollment response.
type EnrollResult struct {
	FaceID  string       `json:"face_id"`
	Success bool         `json:"success"`
	Quality *FaceQuality `json:"quality"`
	Message string       `json:"message"`
}

// SearchMatch represents a face match from gallery search.
type SearchMatch struct {
	FaceID     string  `json:"face_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult contains 1:N search results, best match first.
type SearchResult struct {
	Matches       []SearchMatch `json:"matches"`
	FacesDetected int           `json:"faces_detected"`
	Quality       *FaceQuality  `json:"quality"`
}

// Best returns the top match, if any.
func (r *SearchResult) Best() (SearchMatch, bool) {
	if r == nil || len(r.Matches) == 0 {
		return SearchMatch{}, false
	}
	return r.Matches[0], true
}

// Client calls the face recognition microservice.
// With Skip set no requests are made and searches resolve to SkipMatch.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Skip      bool
	SkipMatch string
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Enroll adds a face to the recognition gallery under faceID.
func (c *Client) Enroll(ctx context.Context, faceID, name string, photo []byte) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{
			FaceID:  faceID,
			Success: true,
			Quality: &FaceQuality{Score: 0.85, IsFrontal: true},
			Message: "Face enrolled (mock)",
		}, nil
	}
	if faceID == "" || len(photo) == 0 {
		return nil, fmt.Errorf("face id and photo required")
	}

	fields := map[string]string{"face_id": faceID}
	if name != "" {
		fields["name"] = name
	}
	var out EnrollResult
	if err := c.postPhoto(ctx, "/enroll", fields, photo, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search performs 1:N face identification against the enrolled gallery.
func (c *Client) Search(ctx context.Context, photo []byte, topK int, threshold float64) (*SearchResult, error) {
	if c.Skip {
		res := &SearchResult{
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}
		if c.SkipMatch != "" {
			res.Matches = []SearchMatch{{FaceID: c.SkipMatch, Similarity: 0.92}}
		}
		return res, nil
	}
	if len(photo) == 0 {
		return nil, fmt.Errorf("photo required")
	}
	if topK <= 0 {
		topK = 1
	}

	fields := map[string]string{"top_k": strconv.Itoa(topK)}
	if threshold > 0 {
		fields["threshold"] = strconv.FormatFloat(threshold, 'f', -1, 64)
	}
	var out SearchResult
	if err := c.postPhoto(ctx, "/search", fields, photo, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes a face from the gallery. Unknown faces are not an error.
func (c *Client) Remove(ctx context.Context, faceID string) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/faces/"+url.PathEscape(faceID), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

func (c *Client) postPhoto(ctx context.Context, path string, fields map[string]string, photo []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	fw, err := w.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
