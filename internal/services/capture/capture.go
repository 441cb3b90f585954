package capture

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"ppemonitor/internal/logger"
	"ppemonitor/internal/models"

	"gocv.io/x/gocv"
)

// CameraSource reads JPEG-encoded frames from a local capture device.
type CameraSource struct {
	deviceID int
	webcam   *gocv.VideoCapture
	mutex    sync.Mutex
	logger   *logger.Logger
}

// NewCameraSource opens the capture device.
func NewCameraSource(deviceID int, logger *logger.Logger) (*CameraSource, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", deviceID, err)
	}

	logger.Info("Capture device %d opened", deviceID)
	return &CameraSource{
		deviceID: deviceID,
		webcam:   webcam,
		logger:   logger,
	}, nil
}

// Capture grabs one frame and returns it JPEG-encoded.
func (s *CameraSource) Capture() ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.webcam.Read(&mat); !ok {
		return nil, fmt.Errorf("failed to read frame from device %d", s.deviceID)
	}
	if mat.Empty() {
		return nil, fmt.Errorf("captured frame is empty")
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	frame := make([]byte, len(buf.GetBytes()))
	copy(frame, buf.GetBytes())
	return frame, nil
}

// Close releases the capture device.
func (s *CameraSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.webcam.Close()
}

// Annotator draws detection boxes onto frames for evidence storage.
type Annotator struct {
	logger *logger.Logger
}

func NewAnnotator(logger *logger.Logger) *Annotator {
	return &Annotator{logger: logger}
}

// Annotate draws each detection's box and label onto the frame and returns
// the re-encoded JPEG.
func (a *Annotator) Annotate(frame []byte, detections []models.RawDetection) ([]byte, error) {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	for _, det := range detections {
		if len(det.Box) != 4 {
			continue
		}
		rect := image.Rect(int(det.Box[0]), int(det.Box[1]), int(det.Box[2]), int(det.Box[3]))
		if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", det.Label, det.Confidence)
		pt := image.Pt(int(det.Box[0]), int(det.Box[1])-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return nil, fmt.Errorf("failed to draw label: %w", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		a.logger.Error("Failed to encode annotated frame: %v", err)
		return nil, err
	}
	defer buf.Close()

	annotated := make([]byte, len(buf.GetBytes()))
	copy(annotated, buf.GetBytes())
	return annotated, nil
}
