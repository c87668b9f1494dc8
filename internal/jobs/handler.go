package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
)

// RawFetcher loads raw fields from a document source such as GCS.
type RawFetcher interface {
	FetchRawFields(ctx context.Context, uri string) (domain.RawFields, error)
}

// NewVerificationHandler returns a handler that runs jobs through p. A job
// whose previous attempt failed with a retryable error is resumed from
// where it stopped rather than restarted.
func NewVerificationHandler(p *pipeline.Pipeline, fetcher RawFetcher) JobHandler {
	return func(ctx context.Context, job *VerificationJob) error {
		if job.State != nil && job.State.Failure != nil && job.State.Failure.Retryable() {
			return p.Resume(ctx, job.State)
		}

		sub := job.Submission
		if len(sub.Fields) == 0 && job.SourceURI != "" {
			if fetcher == nil {
				return fmt.Errorf("job %s: no fetcher configured for %s", job.JobID, job.SourceURI)
			}
			raw, err := fetcher.FetchRawFields(ctx, job.SourceURI)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", job.SourceURI, err)
			}
			sub.Fields = raw
			if sub.Source == "" {
				sub.Source = job.SourceURI
			}
		}

		state, err := p.Process(ctx, sub)
		job.State = state
		return err
	}
}
