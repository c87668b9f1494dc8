package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/pipeline"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the document reached the audit trail.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed for good.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates a retryable failure; the job will be resumed.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is used when a job does not set MaxRetries.
const DefaultMaxRetries = 3

// VerificationJob runs one document through the verification pipeline.
type VerificationJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Submission is the document to verify. Fields may be empty when
	// SourceURI points at the raw fields instead.
	Submission pipeline.Submission `json:"submission"`

	// SourceURI is a gs:// object holding the raw fields as JSON.
	SourceURI string `json:"source_uri,omitempty"`

	Status JobStatus `json:"status"`

	// State is the pipeline state after the latest attempt.
	State *pipeline.PipelineState `json:"state,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the latest attempt failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Clone returns a copy safe to hand out while the job keeps running.
func (j *VerificationJob) Clone() *VerificationJob {
	cp := *j
	cp.State = j.State.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Publisher enqueues verification jobs.
type Publisher interface {
	Publish(ctx context.Context, job *VerificationJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It should return an error wrapping a
// *domain.PersistenceError when the job may succeed if retried.
type JobHandler func(ctx context.Context, job *VerificationJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *VerificationJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*VerificationJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*VerificationJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// DocumentID filters jobs by document ID.
	DocumentID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
