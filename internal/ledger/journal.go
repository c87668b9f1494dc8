package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// JournalEntry is the durable form of one commit.
type JournalEntry struct {
	CommitID    string          `json:"commit_id"`
	RecordID    string          `json:"record_id"`
	Department  string          `json:"department"`
	Period      string          `json:"period"`
	Vendor      string          `json:"vendor"`
	Amount      decimal.Decimal `json:"amount"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Journal persists commits. Append must be durable when it returns nil.
type Journal interface {
	Append(ctx context.Context, e JournalEntry) error
	Load(ctx context.Context) ([]JournalEntry, error)
}

// MemoryJournal keeps entries in process memory. Useful for tests and for
// running without a durable backend.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
	// FailWith, when set, is returned by Append instead of recording.
	FailWith error
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.FailWith != nil {
		return j.FailWith
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemoryJournal) Load(ctx context.Context) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out, nil
}

// SetFailure makes subsequent appends fail with err, or succeed again when err is nil.
func (j *MemoryJournal) SetFailure(err error) {
	j.mu.Lock()
	j.FailWith = err
	j.mu.Unlock()
}

var _ Journal = (*MemoryJournal)(nil)
