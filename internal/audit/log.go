// Package audit keeps the append-only record of every processed invoice.
package audit

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/rs/zerolog"
)

// Log serializes appends onto a Store and hands out commit order.
type Log struct {
	mu       sync.Mutex
	store    Store
	seq      uint64
	prevHash string
	lastAt   time.Time
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger sets the log's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Log) { l.log = log }
}

// New opens a log over store, resuming sequence and hash chain from the
// newest stored entry.
func New(ctx context.Context, store Store, opts ...Option) (*Log, error) {
	l := &Log{
		store:    store,
		prevHash: GenesisHash(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	last, ok, err := store.Last(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "audit open", Err: err}
	}
	if ok {
		l.seq = last.Seq
		l.prevHash = last.Hash
		l.lastAt = last.CommittedAt
		l.log.Info().Uint64("seq", l.seq).Msg("Resumed audit chain")
	}
	return l, nil
}

// Append durably records a decision. On store failure it returns a
// *domain.PersistenceError and the sequence is not advanced.
func (l *Log) Append(ctx context.Context, rec domain.TransactionRecord, verdict domain.Verdict) (domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Microsecond precision survives every backend unchanged, which keeps
	// hashes verifiable after a round trip.
	at := l.now().UTC().Truncate(time.Microsecond)
	if at.Before(l.lastAt) {
		at = l.lastAt
	}

	entry := domain.AuditEntry{
		Seq:         l.seq + 1,
		Record:      rec,
		Verdict:     verdict,
		CommittedAt: at,
		PrevHash:    l.prevHash,
	}
	entry.Hash = ComputeHash(entry)

	if err := l.store.Append(ctx, entry); err != nil {
		var pe *domain.PersistenceError
		if errors.As(err, &pe) {
			return domain.AuditEntry{}, err
		}
		return domain.AuditEntry{}, &domain.PersistenceError{Op: "audit append", Err: err}
	}

	l.seq = entry.Seq
	l.prevHash = entry.Hash
	l.lastAt = at
	return entry, nil
}

// Len returns the number of appended entries.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Query returns entries matching filter in commit order. The result is
// fixed at call time: entries appended later are not included, and ranging
// over it again yields the same entries.
func (l *Log) Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEntry, error] {
	upTo := l.Len()
	return func(yield func(domain.AuditEntry, error) bool) {
		for e, err := range l.store.Scan(ctx, upTo) {
			if err != nil {
				yield(domain.AuditEntry{}, err)
				return
			}
			if !filter.Matches(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Verify checks the stored hash chain and returns the number of entries.
func (l *Log) Verify(ctx context.Context) (int, error) {
	return VerifyChain(l.store.Scan(ctx, l.Len()))
}

// Summarize aggregates the entries matching filter.
func (l *Log) Summarize(ctx context.Context, filter domain.AuditFilter) (domain.AuditSummary, error) {
	var s domain.AuditSummary
	for e, err := range l.Query(ctx, filter) {
		if err != nil {
			return domain.AuditSummary{}, err
		}
		s.Add(e)
	}
	return s, nil
}
