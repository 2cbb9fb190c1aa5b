// Package webcam opens local cameras through OpenCV.
package webcam

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"eventattend/internal/capture"
)

// Opener opens a user-facing camera by index ("0") or by device path.
type Opener struct {
	Width  int
	Height int
}

// Open implements capture.Opener.
func (o Opener) Open(ctx context.Context, device string) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("camera %s not opened", device)
	}
	if o.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(o.Width))
	}
	if o.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(o.Height))
	}
	return &stream{vc: vc, mat: gocv.NewMat()}, nil
}

type stream struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (s *stream) Read() ([]byte, error) {
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, errors.New("empty frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

func (s *stream) Close() error {
	_ = s.mat.Close()
	return s.vc.Close()
}
