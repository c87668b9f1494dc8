// Package pipeline takes one invoice document from raw extracted fields to
// a durably logged verdict.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stage is a state of the per-document state machine.
type Stage string

const (
	StageReceived   Stage = "received"
	StageNormalized Stage = "normalized"
	StageEvaluated  Stage = "evaluated"
	StageCommitted  Stage = "committed"
	StageSkipped    Stage = "skipped"
	StageLogged     Stage = "logged"
	StagePublished  Stage = "published"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// FailureKind attributes a failed document to exactly one cause.
type FailureKind string

const (
	FailureNormalization      FailureKind = "normalization"
	FailureAllocationNotFound FailureKind = "allocation_not_found"
	FailurePersistence        FailureKind = "persistence"
	// FailureInternal covers errors no retry can fix, such as a rejected
	// ledger request.
	FailureInternal FailureKind = "internal"
)

// Failure records why and where a document stopped.
type Failure struct {
	// Stage is the last stage reached before the failing step.
	Stage  Stage       `json:"stage"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
	err    error
}

// Err returns the underlying error when the failure happened in this process.
func (f *Failure) Err() error {
	return f.err
}

// Retryable reports whether resuming the document may succeed.
func (f *Failure) Retryable() bool {
	return f.Kind == FailurePersistence
}

func classify(err error) FailureKind {
	var normErr *domain.NormalizationError
	var notFound *domain.AllocationNotFoundError
	switch {
	case errors.As(err, &normErr):
		return FailureNormalization
	case errors.As(err, &notFound):
		return FailureAllocationNotFound
	case domain.IsRetryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailurePersistence
	default:
		return FailureInternal
	}
}

// Transition is one entry of a document's stage history.
type Transition struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// Submission is one document handed to the pipeline.
type Submission struct {
	DocumentID string           `json:"document_id"`
	Source     string           `json:"source,omitempty"`
	Fields     domain.RawFields `json:"fields"`
}

// PipelineState is everything known about one document's progress.
type PipelineState struct {
	DocumentID   string                    `json:"document_id"`
	Source       string                    `json:"source,omitempty"`
	Stage        Stage                     `json:"stage"`
	Raw          domain.RawFields          `json:"-"`
	Record       *domain.TransactionRecord `json:"record,omitempty"`
	Verdict      *domain.Verdict           `json:"verdict,omitempty"`
	Commit       *domain.CommitResult      `json:"commit,omitempty"`
	Entry        *domain.AuditEntry        `json:"audit_entry,omitempty"`
	Failure      *Failure                  `json:"failure,omitempty"`
	PublishError string                    `json:"publish_error,omitempty"`
	Attempts     int                       `json:"attempts"`
	History      []Transition              `json:"history"`
	now          func() time.Time
}

func (s *PipelineState) advance(stage Stage) {
	s.Stage = stage
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.History = append(s.History, Transition{Stage: stage, At: now().UTC()})
}

func (s *PipelineState) fail(err error) {
	s.Failure = &Failure{Stage: s.Stage, Kind: classify(err), Reason: err.Error(), err: err}
	s.advance(StageFailed)
}

// Processed reports whether the document reached the audit trail.
func (s *PipelineState) Processed() bool {
	return s.Entry != nil
}

// Pipeline runs documents through its steps.
type Pipeline struct {
	steps []PipelineStep
	now   func() time.Time
	log   zerolog.Logger
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(log zerolog.Logger, steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps, now: time.Now, log: log}
}

// Deps are the collaborators of the standard verification pipeline.
type Deps struct {
	Normalizer RecordNormalizer
	Engine     Evaluator
	Ledger     BudgetCommitter
	Audit      AuditAppender
	Publisher  EventPublisher
	Retry      RetryPolicy
}

// NewVerificationPipeline wires the standard normalize, evaluate, commit,
// log and publish steps.
func NewVerificationPipeline(deps Deps, log zerolog.Logger) *Pipeline {
	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	return NewPipeline(log,
		&NormalizeStep{Normalizer: deps.Normalizer},
		&EvaluateStep{Engine: deps.Engine},
		&CommitStep{Ledger: deps.Ledger, Retry: retry},
		&LogStep{Audit: deps.Audit, Retry: retry},
		&PublishStep{Publisher: deps.Publisher},
	)
}

// NewState creates the received state for a submission.
func (p *Pipeline) NewState(sub Submission) *PipelineState {
	id := sub.DocumentID
	if id == "" {
		id = uuid.NewString()
	}
	state := &PipelineState{DocumentID: id, Source: sub.Source, Raw: sub.Fields, now: p.now}
	state.advance(StageReceived)
	return state
}

// Process runs a fresh submission to a terminal stage. The returned error
// is the failure cause, if any; the state is always returned.
func (p *Pipeline) Process(ctx context.Context, sub Submission) (*PipelineState, error) {
	state := p.NewState(sub)
	err := p.Execute(ctx, state)
	return state, err
}

// Resume continues a document that failed with a retryable error from the
// stage it had reached. Steps already completed are not repeated, so an
// accepted record is never committed twice.
func (p *Pipeline) Resume(ctx context.Context, state *PipelineState) error {
	if state.Failure == nil {
		return fmt.Errorf("resume %s: document has not failed", state.DocumentID)
	}
	if !state.Failure.Retryable() {
		return fmt.Errorf("resume %s: %s failures are not retryable", state.DocumentID, state.Failure.Kind)
	}
	if state.now == nil {
		state.now = p.now
	}
	state.Stage = state.Failure.Stage
	state.Failure = nil
	return p.Execute(ctx, state)
}

// Execute drives state forward until it is done or failed.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	state.Attempts++
	for state.Stage != StageDone && state.Stage != StageFailed {
		if state.Stage == StagePublished {
			state.advance(StageDone)
			break
		}
		step := p.stepFor(state.Stage)
		if step == nil {
			return fmt.Errorf("pipeline: no step runs from stage %s", state.Stage)
		}
		if err := step.Execute(ctx, state); err != nil {
			state.fail(err)
			p.logTerminal(state)
			return fmt.Errorf("pipeline step %s failed: %w", step.Name(), err)
		}
	}
	p.logTerminal(state)
	return nil
}

func (p *Pipeline) stepFor(stage Stage) PipelineStep {
	for _, s := range p.steps {
		if s.Accepts(stage) {
			return s
		}
	}
	return nil
}

func (p *Pipeline) logTerminal(state *PipelineState) {
	if state.Failure != nil {
		p.log.Warn().
			Str("document_id", state.DocumentID).
			Str("failed_after", string(state.Failure.Stage)).
			Str("kind", string(state.Failure.Kind)).
			Str("reason", state.Failure.Reason).
			Int("attempt", state.Attempts).
			Msg("Document failed")
		return
	}
	ev := p.log.Info().Str("document_id", state.DocumentID)
	if state.Record != nil {
		ev = ev.Str("record_id", state.Record.ID).
			Str("vendor", state.Record.VendorName).
			Str("department", state.Record.Department).
			Str("amount", state.Record.Amount.StringFixed(2))
	}
	if state.Verdict != nil {
		ev = ev.Str("verdict", string(state.Verdict.Kind))
	}
	if state.Entry != nil {
		ev = ev.Uint64("audit_seq", state.Entry.Seq)
	}
	ev.Msg("Document processed")
}

// DefaultBatchConcurrency bounds ProcessBatch when no limit is given.
const DefaultBatchConcurrency = 8

// ProcessBatch runs submissions concurrently, each in its own pipeline
// instance. Results are returned in submission order; one document's
// failure does not stop the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, subs []Submission, concurrency int) []*PipelineState {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	states := make([]*PipelineState, len(subs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			states[i], _ = p.Process(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()
	return states
}

// Clone returns a copy that shares no mutable state with s.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = append([]Transition(nil), s.History...)
	if s.Failure != nil {
		f := *s.Failure
		cp.Failure = &f
	}
	return &cp
}
