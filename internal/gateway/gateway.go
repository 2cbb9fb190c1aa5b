package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"eventattend/internal/model"
)

// Gateway delivers a captured attendance to the backend. Implementations do not retry.
type Gateway interface {
	Submit(ctx context.Context, eventID string, image []byte, coords model.Coordinates) (model.AttendanceReceipt, error)
}

// Kind classifies a submission failure.
type Kind string

const (
	NetworkError        Kind = "network_error"
	RecognitionRejected Kind = "recognition_rejected"
	ServerError         Kind = "server_error"
)

// Error is returned by Submit.
type Error struct {
	Kind    Kind
	Reason  model.FailureReason // set for RecognitionRejected
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway error of kind k.
func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// Payload is the wire format of a submission.
type Payload struct {
	EventID    string            `json:"eventId"`
	Photo      string            `json:"photo"`
	Location   model.Coordinates `json:"location"`
	Address    string            `json:"address,omitempty"`
	DeviceInfo string            `json:"deviceInfo,omitempty"`
}

const jpegDataURLPrefix = "data:image/jpeg;base64,"

// EncodePhoto renders image bytes as a JPEG data URL.
func EncodePhoto(image []byte) string {
	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(image)
}

// DecodePhoto accepts a data URL or bare base64 and returns the raw bytes.
func DecodePhoto(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, errors.New("photo must be a base64 data URL")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	return data, nil
}
