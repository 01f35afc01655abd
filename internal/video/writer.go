package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Writer manages sequential frame writes to an mp4 file
type Writer struct {
	writer *gocv.VideoWriter
	path   string
	mu     sync.Mutex
}

// NewWriter opens a video writer at the given rate and dimensions
func NewWriter(path string, fps float64, width, height int) (*Writer, error) {
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer %s did not open", path)
	}

	return &Writer{
		writer: writer,
		path:   path,
	}, nil
}

// Write appends one frame
func (w *Writer) Write(frame gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("video writer %s is closed", w.path)
	}
	return w.writer.Write(frame)
}

// Close releases the writer
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		err := w.writer.Close()
		w.writer = nil
		return err
	}
	return nil
}
