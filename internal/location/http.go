package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventattend/internal/model"
)

// HTTP resolves the position through a JSON geolocation endpoint.
// The response must carry "lat" and either "lon" or "lng".
type HTTP struct {
	URL    string
	Client *http.Client
}

// NewHTTP creates a provider for url.
func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

// Position implements Provider.
func (h *HTTP) Position(ctx context.Context) (model.Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return model.Coordinates{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.Coordinates{}, ctx.Err()
		}
		return model.Coordinates{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.Coordinates{}, ErrPermissionDenied
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Coordinates{}, fmt.Errorf("%w: %s: %s", ErrPositionUnavailable, resp.Status, string(body))
	}

	var out struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
		Lng     *float64 `json:"lng"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Coordinates{}, fmt.Errorf("%w: decode response: %v", ErrPositionUnavailable, err)
	}
	if out.Status == "fail" {
		return model.Coordinates{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, out.Message)
	}
	lng := out.Lon
	if lng == nil {
		lng = out.Lng
	}
	if out.Lat == nil || lng == nil {
		return model.Coordinates{}, fmt.Errorf("%w: response has no coordinates", ErrPositionUnavailable)
	}
	return model.Coordinates{Lat: *out.Lat, Lng: *lng}, nil
}
