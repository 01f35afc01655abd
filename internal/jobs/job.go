package jobs

import "time"

// Status is the lifecycle state of a batch job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Job holds the full state of one asynchronous video processing request.
// It is mutated only by its own worker, through the manager's lock; done
// and error are terminal.
type Job struct {
	ID         string
	Status     Status
	Progress   float64
	Message    string
	InputPath  string
	ResultPath string // set only when Status is done
	CreatedAt  time.Time
}

// StatusView is the polling snapshot returned to clients
type StatusView struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Ready    bool    `json:"ready"`
}
