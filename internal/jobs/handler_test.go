package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/invoice-verifier/internal/audit"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/ledger"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
	"github.com/dvloznov/invoice-verifier/internal/rules"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type mockFetcher struct {
	FetchFunc func(ctx context.Context, uri string) (domain.RawFields, error)
}

func (m *mockFetcher) FetchRawFields(ctx context.Context, uri string) (domain.RawFields, error) {
	return m.FetchFunc(ctx, uri)
}

type flakyAppender struct {
	log  *audit.Log
	down bool
}

func (f *flakyAppender) Append(ctx context.Context, rec domain.TransactionRecord, v domain.Verdict) (domain.AuditEntry, error) {
	if f.down {
		return domain.AuditEntry{}, &domain.PersistenceError{Op: "append", Err: errors.New("unavailable")}
	}
	return f.log.Append(ctx, rec, v)
}

func newTestPipeline(t *testing.T, appender pipeline.AuditAppender) (*pipeline.Pipeline, *ledger.Ledger, *audit.Log) {
	t.Helper()
	l := ledger.New()
	if err := l.Allocate("Engineering", "2024-03", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	log, err := audit.New(context.Background(), audit.NewMemoryStore())
	if err != nil {
		t.Fatalf("audit.New failed: %v", err)
	}
	if fa, ok := appender.(*flakyAppender); ok {
		fa.log = log
	}
	if appender == nil {
		appender = log
	}
	p := pipeline.NewVerificationPipeline(pipeline.Deps{
		Normalizer: pipeline.NewNormalizer(nil),
		Engine:     rules.NewEngine(l, nil, zerolog.Nop()),
		Ledger:     l,
		Audit:      appender,
		Retry:      pipeline.RetryPolicy{MaxAttempts: 1},
	}, zerolog.Nop())
	return p, l, log
}

func rawInvoice() domain.RawFields {
	return domain.RawFields{
		"vendor_name": "Initech",
		"amount":      json.Number("250.00"),
		"date":        "2024-03-10",
		"department":  "Engineering",
	}
}

func TestVerificationHandler_FetchesFromSource(t *testing.T) {
	p, _, log := newTestPipeline(t, nil)
	var fetched string
	handler := NewVerificationHandler(p, &mockFetcher{FetchFunc: func(ctx context.Context, uri string) (domain.RawFields, error) {
		fetched = uri
		return rawInvoice(), nil
	}})

	job := &VerificationJob{JobID: "j1", SourceURI: "gs://invoices/march/42.json"}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if fetched != "gs://invoices/march/42.json" {
		t.Errorf("fetched %q", fetched)
	}
	if job.State == nil || job.State.Stage != pipeline.StageDone {
		t.Fatalf("state = %+v, want done", job.State)
	}
	if job.State.Source != "gs://invoices/march/42.json" {
		t.Errorf("Source = %q", job.State.Source)
	}
	if log.Len() != 1 {
		t.Errorf("audit entries = %d, want 1", log.Len())
	}
}

func TestVerificationHandler_FetchError(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	handler := NewVerificationHandler(p, &mockFetcher{FetchFunc: func(ctx context.Context, uri string) (domain.RawFields, error) {
		return nil, errors.New("object not found")
	}})
	job := &VerificationJob{JobID: "j1", SourceURI: "gs://invoices/missing.json"}
	if err := handler(context.Background(), job); err == nil {
		t.Fatal("expected fetch error")
	}
	if job.State != nil {
		t.Errorf("state = %+v, want nil when nothing ran", job.State)
	}

	noFetcher := NewVerificationHandler(p, nil)
	if err := noFetcher(context.Background(), &VerificationJob{JobID: "j2", SourceURI: "gs://x/y.json"}); err == nil {
		t.Error("expected an error without a fetcher")
	}
}

func TestVerificationHandler_ResumesRetryableFailure(t *testing.T) {
	appender := &flakyAppender{down: true}
	p, l, log := newTestPipeline(t, appender)
	handler := NewVerificationHandler(p, nil)

	job := &VerificationJob{JobID: "j1", Submission: pipeline.Submission{DocumentID: "doc-1", Fields: rawInvoice()}}
	err := handler(context.Background(), job)
	if !domain.IsRetryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}

	appender.down = false
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if job.State.Stage != pipeline.StageDone || job.State.Attempts != 2 {
		t.Errorf("state = %s after %d attempts", job.State.Stage, job.State.Attempts)
	}
	snap, err := l.Snapshot("Engineering", "2024-03")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Consumed.String() != "250" {
		t.Errorf("consumed = %s, want 250", snap.Consumed)
	}
	if log.Len() != 1 {
		t.Errorf("audit entries = %d, want 1", log.Len())
	}
}
