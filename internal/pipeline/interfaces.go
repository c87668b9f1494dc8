package pipeline

import (
	"context"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

// RecordNormalizer turns raw fields into a record.
type RecordNormalizer interface {
	Normalize(raw domain.RawFields) (domain.TransactionRecord, error)
}

// Evaluator produces a verdict without side effects.
type Evaluator interface {
	Evaluate(rec domain.TransactionRecord) domain.Verdict
}

// BudgetCommitter consumes budget for accepted records.
type BudgetCommitter interface {
	Commit(ctx context.Context, req domain.CommitRequest) (domain.CommitResult, error)
}

// AuditAppender durably records decisions.
type AuditAppender interface {
	Append(ctx context.Context, rec domain.TransactionRecord, verdict domain.Verdict) (domain.AuditEntry, error)
}

// EventPublisher delivers processing events on a best-effort basis.
type EventPublisher interface {
	Publish(e domain.ProcessingEvent)
}
