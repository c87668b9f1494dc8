package audit

import (
	"context"
	"iter"
	"sync"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

// Store is the durable backend behind a Log. Append must be durable when
// it returns nil. Scan yields entries with Seq <= upTo in ascending order.
type Store interface {
	Append(ctx context.Context, e domain.AuditEntry) error
	Scan(ctx context.Context, upTo uint64) iter.Seq2[domain.AuditEntry, error]
	// Last returns the newest entry, or false for an empty store.
	Last(ctx context.Context) (domain.AuditEntry, bool, error)
}

// MemoryStore keeps entries in a slice. Entries are never modified once
// appended, so readers iterate a prefix without holding the lock.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, upTo uint64) iter.Seq2[domain.AuditEntry, error] {
	return func(yield func(domain.AuditEntry, error) bool) {
		s.mu.RLock()
		entries := s.entries
		s.mu.RUnlock()

		for _, e := range entries {
			if e.Seq > upTo {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(domain.AuditEntry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) Last(ctx context.Context) (domain.AuditEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return domain.AuditEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

var _ Store = (*MemoryStore)(nil)
