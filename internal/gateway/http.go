package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eventattend/internal/model"
)

// HTTP submits attendance to the eventattend API.
type HTTP struct {
	BaseURL    string
	Token      string
	DeviceInfo string
	Client     *http.Client
}

// NewHTTP creates a client for baseURL authenticated with a device token.
func NewHTTP(baseURL, token, deviceInfo string) *HTTP {
	return &HTTP{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		DeviceInfo: deviceInfo,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit implements Gateway.
func (h *HTTP) Submit(ctx context.Context, eventID string, image []byte, coords model.Coordinates) (model.AttendanceReceipt, error) {
	body, err := json.Marshal(Payload{
		EventID:    eventID,
		Photo:      EncodePhoto(image),
		Location:   coords,
		DeviceInfo: h.DeviceInfo,
	})
	if err != nil {
		return model.AttendanceReceipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/v1/attendance", bytes.NewReader(body))
	if err != nil {
		return model.AttendanceReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.AttendanceReceipt{}, ctx.Err()
		}
		return model.AttendanceReceipt{}, &Error{Kind: NetworkError, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AttendanceReceipt{}, &Error{Kind: NetworkError, Message: "read response", Err: err}
	}

	if resp.StatusCode < 300 {
		var receipt model.AttendanceReceipt
		if err := json.Unmarshal(respBody, &receipt); err != nil {
			return model.AttendanceReceipt{}, &Error{Kind: ServerError, Message: "decode receipt", Err: err}
		}
		return receipt, nil
	}

	var apiErr struct {
		Error  string              `json:"error"`
		Reason model.FailureReason `json:"reason"`
	}
	_ = json.Unmarshal(respBody, &apiErr)
	if apiErr.Error == "" {
		apiErr.Error = resp.Status
	}
	if resp.StatusCode == http.StatusUnprocessableEntity && apiErr.Reason.Valid() {
		return model.AttendanceReceipt{}, &Error{Kind: RecognitionRejected, Reason: apiErr.Reason, Message: apiErr.Error}
	}
	return model.AttendanceReceipt{}, &Error{Kind: ServerError, Message: fmt.Sprintf("%d %s", resp.StatusCode, apiErr.Error)}
}

// Tokens are returned by device registration.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// RegisterDevice obtains a device token from the API.
func (h *HTTP) RegisterDevice(ctx context.Context, deviceID string) (Tokens, error) {
	body, _ := json.Marshal(map[string]string{"device_id": deviceID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/v1/devices/register", bytes.NewReader(body))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("register device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Tokens{}, fmt.Errorf("register device: %s: %s", resp.Status, string(b))
	}
	var t Tokens
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Tokens{}, fmt.Errorf("register device: decode: %w", err)
	}
	return t, nil
}

// ListEvents returns the events currently open for registration.
func (h *HTTP) ListEvents(ctx context.Context) ([]model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/v1/events?status=active", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list events: %s", resp.Status)
	}
	var out struct {
		Events []model.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list events: decode: %w", err)
	}
	return out.Events, nil
}
