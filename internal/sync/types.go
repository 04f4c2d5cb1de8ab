// Package sync owns the synchronization job lifecycle: submission,
// scheduling, bounded-concurrency execution, content deduplication,
// multi-channel fan-out and partial-failure accounting.
package sync

import (
	"errors"
	"time"

	"contentsync/internal/delivery"
	"contentsync/internal/source"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("job is not in a retryable state")
	ErrQueueFull    = errors.New("sync queue full")
	ErrStopped      = errors.New("orchestrator not running")
	ErrNoDocument   = errors.New("document id is required")
)

// Status is the job state machine position.
//
//	pending -> in_progress -> {completed, failed, partial}
//
// Terminal states are never left; retrying produces a NEW job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// Terminal reports whether the status ends the job lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Result is the per-channel outcome of one fan-out attempt.
// Error is empty on success.
type Result struct {
	Receipt delivery.Receipt `json:"receipt,omitempty"`
	Error   string           `json:"error,omitempty"`
	At      time.Time        `json:"at"`
}

// Job is one attempt to propagate one document's content to a set of
// channels. A job is mutated only by the single worker executing it;
// queries hand out copies.
type Job struct {
	ID            string                      `json:"id"`
	CreatedAt     time.Time                   `json:"created_at"`
	Status        Status                      `json:"status"`
	DocumentID    string                      `json:"document_id"`
	Channels      []delivery.Channel          `json:"channels"`
	Content       source.Document             `json:"-"`
	Results       map[delivery.Channel]Result `json:"results,omitempty"`
	Errors        []string                    `json:"errors,omitempty"`
	CorrelationID string                      `json:"correlation_id,omitempty"`
	ScheduledFor  *time.Time                  `json:"scheduled_for,omitempty"`
	CompletedAt   *time.Time                  `json:"completed_at,omitempty"`
	Metadata      map[string]string           `json:"metadata,omitempty"`
}

// Skipped reports whether the job short-circuited on unchanged content.
func (j *Job) Skipped() bool {
	return j != nil && j.Metadata["skipped"] == "true"
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Channels = append([]delivery.Channel(nil), j.Channels...)
	cp.Errors = append([]string(nil), j.Errors...)
	if j.Results != nil {
		cp.Results = make(map[delivery.Channel]Result, len(j.Results))
		for k, v := range j.Results {
			cp.Results[k] = v
		}
	}
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.ScheduledFor != nil {
		t := *j.ScheduledFor
		cp.ScheduledFor = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ContentVersion is the last-delivered fingerprint of a source document.
// At most one is retained per document (most-recent-wins); it is a dedup
// oracle, not an audit log.
type ContentVersion struct {
	VersionID         string                         `json:"version_id"`
	DocumentID        string                         `json:"document_id"`
	Hash              string                         `json:"hash"`
	CreatedAt         time.Time                      `json:"created_at"`
	ChannelsPublished map[delivery.Channel]time.Time `json:"channels_published"`
}

// SubmitRequest describes one sync submission.
//
// Channels defaults to every channel with a configured sender. A zero
// ScheduleTime (or one already past) enqueues immediately.
type SubmitRequest struct {
	DocumentID    string
	Channels      []delivery.Channel
	CorrelationID string
	ScheduleTime  time.Time
}

// Config controls the orchestrator.
type Config struct {
	// MaxConcurrentJobs is the worker pool size; at most this many jobs
	// are in_progress at once.
	MaxConcurrentJobs int
	QueueSize         int

	// FetchTimeout bounds the document fetch call. Channel sends carry
	// their own timeouts inside the senders; there is no whole-job timeout.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// ChannelStats aggregates per-channel outcomes across terminal jobs.
type ChannelStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Statistics is a point-in-time aggregate over the job table.
//
// SuccessRate is completed / (completed + partial + failed), over terminal
// jobs only; pending and in_progress jobs are excluded from the denominator.
type Statistics struct {
	TotalJobs   int                               `json:"total_jobs"`
	ByStatus    map[Status]int                    `json:"by_status"`
	ByChannel   map[delivery.Channel]ChannelStats `json:"by_channel"`
	SuccessRate float64                           `json:"success_rate"`
	ActiveJobs  int                               `json:"active_jobs"`
	QueueLen    int                               `json:"queue_len"`
	Documents   int                               `json:"documents_tracked"`
}

// JobEvent is published on the monitoring bus for job lifecycle events.
type JobEvent struct {
	JobID         string `json:"job_id"`
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        Status `json:"status"`
	DurationMS    int64  `json:"duration_ms"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Skipped       bool   `json:"skipped"`
}

const (
	EventJobStarted  = "sync.job.started"
	EventJobFinished = "sync.job.finished"
)
