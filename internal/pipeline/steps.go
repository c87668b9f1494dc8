package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

// PipelineStep is one transition of the verification state machine.
type PipelineStep interface {
	Name() string
	// Accepts reports whether the step runs from the given stage.
	Accepts(stage Stage) bool
	Execute(ctx context.Context, state *PipelineState) error
}

// NormalizeStep: received -> normalized.
type NormalizeStep struct {
	Normalizer RecordNormalizer
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Accepts(stage Stage) bool { return stage == StageReceived }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	rec, err := s.Normalizer.Normalize(state.Raw)
	if err != nil {
		return err
	}
	state.Record = &rec
	state.advance(StageNormalized)
	return nil
}

// EvaluateStep: normalized -> evaluated.
type EvaluateStep struct {
	Engine Evaluator
}

func (s *EvaluateStep) Name() string { return "evaluate" }

func (s *EvaluateStep) Accepts(stage Stage) bool { return stage == StageNormalized }

func (s *EvaluateStep) Execute(ctx context.Context, state *PipelineState) error {
	v := s.Engine.Evaluate(*state.Record)
	state.Verdict = &v
	state.advance(StageEvaluated)
	return nil
}

// CommitStep: evaluated -> committed for accepted records, skipped otherwise.
type CommitStep struct {
	Ledger BudgetCommitter
	Retry  RetryPolicy
}

func (s *CommitStep) Name() string { return "commit" }

func (s *CommitStep) Accepts(stage Stage) bool { return stage == StageEvaluated }

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	if !state.Verdict.Accepted() {
		state.advance(StageSkipped)
		return nil
	}
	rec := state.Record
	req := domain.CommitRequest{
		Department: rec.Department,
		Period:     rec.Period,
		Vendor:     rec.VendorName,
		RecordID:   rec.ID,
		Amount:     rec.Amount,
	}
	var res domain.CommitResult
	err := withRetry(ctx, s.Retry, "ledger commit", func() error {
		var err error
		res, err = s.Ledger.Commit(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	state.Commit = &res
	state.advance(StageCommitted)
	return nil
}

// LogStep: committed|skipped -> logged.
type LogStep struct {
	Audit AuditAppender
	Retry RetryPolicy
}

func (s *LogStep) Name() string { return "log" }

func (s *LogStep) Accepts(stage Stage) bool {
	return stage == StageCommitted || stage == StageSkipped
}

func (s *LogStep) Execute(ctx context.Context, state *PipelineState) error {
	var entry domain.AuditEntry
	err := withRetry(ctx, s.Retry, "audit append", func() error {
		var err error
		entry, err = s.Audit.Append(ctx, *state.Record, *state.Verdict)
		return err
	})
	if err != nil {
		return err
	}
	state.Entry = &entry
	state.advance(StageLogged)
	return nil
}

// PublishStep: logged -> published. It never fails; the record is already
// durable and a lost event changes nothing.
type PublishStep struct {
	Publisher EventPublisher
}

func (s *PublishStep) Name() string { return "publish" }

func (s *PublishStep) Accepts(stage Stage) bool { return stage == StageLogged }

func (s *PublishStep) Execute(ctx context.Context, state *PipelineState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			state.PublishError = fmt.Sprint(r)
		}
		state.advance(StagePublished)
		err = nil
	}()
	if s.Publisher != nil {
		s.Publisher.Publish(domain.NewProcessingEvent(*state.Entry))
	}
	return nil
}
