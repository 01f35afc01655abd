// Package jobs owns the asynchronous batch job lifecycle: registration,
// status reporting and the bounded worker pool that runs the video pipeline.
package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dudu/swapstream/internal/reference"
)

var (
	// ErrNoReference rejects submissions made before a reference upload
	ErrNoReference = errors.New("no reference set")
	// ErrNotFound reports an unknown job id
	ErrNotFound = errors.New("job not found")
	// ErrNotReady reports a result request for an unfinished job
	ErrNotReady = errors.New("job not ready")
)

// Runner executes one job's video processing. It reads inputPath, writes
// outputPath and reports progress as it goes.
type Runner func(inputPath, outputPath string, report func(progress float64, message string)) error

// Manager registers jobs, reports their state and runs them on a worker
// pool bounded to a small fixed concurrency. One worker is sufficient and
// intentional: the compute stage is contended with live streams, so batch
// jobs run serially rather than oversubscribing it. Submission itself never
// blocks.
type Manager struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	slots chan struct{}
	run   Runner
	refs  *reference.Store
	dir   string
	log   zerolog.Logger
}

// NewManager creates a job manager writing temp and output files under dir
func NewManager(log zerolog.Logger, refs *reference.Store, dir string, concurrency int, run Runner) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		jobs:  make(map[string]*Job),
		slots: make(chan struct{}, concurrency),
		run:   run,
		refs:  refs,
		dir:   dir,
		log:   log,
	}
}

// Submit persists the uploaded bytes, registers a queued job and returns
// its id immediately; the heavy work happens on the worker pool. Fails with
// ErrNoReference when no reference face is active.
func (m *Manager) Submit(videoBytes []byte, filename string) (string, error) {
	if m.refs.Get() == nil {
		return "", ErrNoReference
	}

	id := uuid.New().String()
	inputPath := filepath.Join(m.dir, "in_"+id+uploadExt(filename))
	if err := os.WriteFile(inputPath, videoBytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to persist upload: %w", err)
	}

	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		Message:   "queued",
		InputPath: inputPath,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	go m.process(id, inputPath, filepath.Join(m.dir, "out_"+id+".mp4"))

	return id, nil
}

// Status returns a polling snapshot; repeated polls are side-effect-free
func (m *Manager) Status(id string) (StatusView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return StatusView{}, ErrNotFound
	}
	return StatusView{
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Ready:    job.Status == StatusDone,
	}, nil
}

// Result returns the output file path once the job is done
func (m *Manager) Result(id string) (string, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	var status Status
	var path string
	if ok {
		status = job.Status
		path = job.ResultPath
	}
	m.mu.Unlock()

	if !ok {
		return "", ErrNotFound
	}
	if status != StatusDone || path == "" {
		return "", ErrNotReady
	}
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotReady
	}
	return path, nil
}

// Count returns the number of registered jobs
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// process is the worker body wrapper: acquire a pool slot, run the job and
// settle its terminal state. The input temp file is removed in all paths.
func (m *Manager) process(id, inputPath, outputPath string) {
	m.slots <- struct{}{}
	defer func() { <-m.slots }()
	defer func() {
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("job", id).Msg("input cleanup failed")
		}
	}()

	m.update(id, func(j *Job) {
		j.Status = StatusProcessing
		j.Message = "processing"
	})

	err := m.run(inputPath, outputPath, func(progress float64, message string) {
		m.update(id, func(j *Job) {
			j.Progress = progress
			j.Message = message
		})
	})

	if err != nil {
		m.log.Error().Err(err).Str("job", id).Msg("job failed")
		// Best-effort removal of the partial output; the error outcome stands
		// either way
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			m.log.Warn().Err(rmErr).Str("job", id).Msg("output cleanup failed")
		}
		m.update(id, func(j *Job) {
			j.Status = StatusError
			j.Message = err.Error()
		})
		return
	}

	m.update(id, func(j *Job) {
		j.Status = StatusDone
		j.Progress = 100
		j.Message = "done"
		j.ResultPath = outputPath
	})
	m.log.Info().Str("job", id).Msg("job done")
}

// update applies fn to the job under the table lock. The critical section
// is short and does no I/O.
func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// uploadExt keeps the upload's container extension when it has one
func uploadExt(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ".mp4"
	}
	return ext
}
