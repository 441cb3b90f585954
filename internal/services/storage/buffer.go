package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ppemonitor/internal/logger"
)

// Frame is one buffered evidence image awaiting flush.
type Frame struct {
	Timestamp string
	Label     string
	Data      []byte
}

// BufferService batches annotated violation frames in memory and flushes
// them to disk on a fixed interval, bounding both memory use and disk I/O.
type BufferService struct {
	evidenceDir string
	frames      []Frame
	bufferLimit int
	mu          sync.Mutex
	logger      *logger.Logger
}

func NewBufferService(evidenceDir string, bufferLimit int, logger *logger.Logger) *BufferService {
	return &BufferService{
		evidenceDir: evidenceDir,
		bufferLimit: bufferLimit,
		frames:      make([]Frame, 0),
		logger:      logger,
	}
}

// Run flushes the buffer every flushInterval seconds until stop is closed.
func (s *BufferService) Run(flushInterval int, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(flushInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// AddFrame buffers one evidence frame. Frames beyond the buffer limit are
// dropped; evidence is best effort, the verdict history is the durable log.
func (s *BufferService) AddFrame(data []byte, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) >= s.bufferLimit {
		s.logger.Warning("Evidence buffer full (%d), dropping frame", s.bufferLimit)
		return
	}

	s.frames = append(s.frames, Frame{
		Timestamp: time.Now().Format("2006-01-02_15-04-05"),
		Label:     label,
		Data:      data,
	})
}

// Flush writes all buffered frames to the evidence directory.
func (s *BufferService) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return
	}

	if err := os.MkdirAll(s.evidenceDir, 0755); err != nil {
		s.logger.Error("Error creating evidence directory: %v", err)
		return
	}

	for i, frame := range s.frames {
		filename := fmt.Sprintf("%s_%s_%d.jpg", frame.Timestamp, frame.Label, i)
		fullpath := filepath.Join(s.evidenceDir, filename)

		if err := os.WriteFile(fullpath, frame.Data, 0644); err != nil {
			s.logger.Error("Error saving evidence frame %s: %v", filename, err)
			continue
		}
	}

	s.logger.Info("Flushed %d evidence frames to disk", len(s.frames))
	s.frames = s.frames[:0]
}

// Len returns the number of buffered frames.
func (s *BufferService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
