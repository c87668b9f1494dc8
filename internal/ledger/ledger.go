// Package ledger tracks budget consumption per department and period.
//
// Each (department, period) allocation carries its own lock, so commits
// against one allocation are linearizable while commits against different
// allocations proceed in parallel. Consumption only ever grows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type allocationKey struct {
	department string
	period     string
}

type allocation struct {
	mu        sync.Mutex
	allocated decimal.Decimal
	consumed  decimal.Decimal
	// records holds the IDs already committed, so a repeated commit of the
	// same record is reported but not counted twice.
	records map[string]struct{}
}

// Ledger is the in-process budget ledger. The zero value is not usable; call New.
type Ledger struct {
	mu          sync.RWMutex
	allocations map[allocationKey]*allocation

	vendorMu sync.Mutex
	vendors  map[string]decimal.Decimal

	journal Journal
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal makes every commit durable through j before it is applied.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the ledger's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		allocations: make(map[allocationKey]*allocation),
		vendors:     make(map[string]decimal.Decimal),
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allocate sets the ceiling for a department and period. Re-allocating an
// existing pair changes only the ceiling; consumption is preserved.
func (l *Ledger) Allocate(department, period string, ceiling decimal.Decimal) error {
	if department == "" || period == "" {
		return errors.New("allocate: department and period are required")
	}
	if ceiling.IsNegative() {
		return fmt.Errorf("allocate %s/%s: negative ceiling %s", department, period, ceiling)
	}

	k := allocationKey{department, period}
	l.mu.Lock()
	a, ok := l.allocations[k]
	if !ok {
		a = &allocation{records: make(map[string]struct{})}
		l.allocations[k] = a
	}
	l.mu.Unlock()

	a.mu.Lock()
	a.allocated = ceiling
	a.mu.Unlock()
	return nil
}

func (l *Ledger) lookup(department, period string) *allocation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allocations[allocationKey{department, period}]
}

// Snapshot returns allocated, consumed and remaining for the pair.
func (l *Ledger) Snapshot(department, period string) (domain.BudgetSnapshot, error) {
	a := l.lookup(department, period)
	if a == nil {
		return domain.BudgetSnapshot{}, &domain.AllocationNotFoundError{Department: department, Period: period}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return snapshotLocked(department, period, a), nil
}

func snapshotLocked(department, period string, a *allocation) domain.BudgetSnapshot {
	return domain.BudgetSnapshot{
		Department: department,
		Period:     period,
		Allocated:  a.allocated,
		Consumed:   a.consumed,
		Remaining:  a.allocated.Sub(a.consumed),
	}
}

// Snapshots lists every configured allocation ordered by department, then period.
func (l *Ledger) Snapshots() []domain.BudgetSnapshot {
	l.mu.RLock()
	keys := make([]allocationKey, 0, len(l.allocations))
	for k := range l.allocations {
		keys = append(keys, k)
	}
	l.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].department != keys[j].department {
			return keys[i].department < keys[j].department
		}
		return keys[i].period < keys[j].period
	})

	out := make([]domain.BudgetSnapshot, 0, len(keys))
	for _, k := range keys {
		if s, err := l.Snapshot(k.department, k.period); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// CheckCapacity reports whether amount fits in the remaining allocation.
// It never changes the ledger.
func (l *Ledger) CheckCapacity(department, period string, amount decimal.Decimal) (domain.Capacity, error) {
	s, err := l.Snapshot(department, period)
	if err != nil {
		return domain.Capacity{}, err
	}
	return s.CapacityFor(amount), nil
}

// View takes the single consistent read used for one rule evaluation. The
// vendor total is read under the allocation lock, so it never includes a
// commit to this allocation that the snapshot does not. Commits for the
// same vendor against other allocations are not ordered with it.
func (l *Ledger) View(department, period, vendor string) domain.BudgetView {
	a := l.lookup(department, period)
	if a == nil {
		return domain.BudgetView{VendorSpend: l.VendorSpend(vendor)}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.BudgetView{
		Allocation:  snapshotLocked(department, period, a),
		Configured:  true,
		VendorSpend: l.VendorSpend(vendor),
	}
}

// VendorSpend returns everything committed for the vendor so far.
// Vendor names compare case-insensitively.
func (l *Ledger) VendorSpend(vendor string) decimal.Decimal {
	l.vendorMu.Lock()
	defer l.vendorMu.Unlock()
	return l.vendors[vendorKey(vendor)]
}

func vendorKey(vendor string) string {
	return strings.ToUpper(strings.TrimSpace(vendor))
}

// Commit consumes amount from the allocation. It fails with
// *domain.AllocationNotFoundError for an unconfigured pair and with
// *domain.PersistenceError when the journal cannot record the commit; in
// both cases nothing changes. Over-commitment is allowed.
func (l *Ledger) Commit(ctx context.Context, req domain.CommitRequest) (domain.CommitResult, error) {
	if req.Amount.IsNegative() {
		return domain.CommitResult{}, fmt.Errorf("commit %s/%s: negative amount %s", req.Department, req.Period, req.Amount)
	}
	a := l.lookup(req.Department, req.Period)
	if a == nil {
		return domain.CommitResult{}, &domain.AllocationNotFoundError{Department: req.Department, Period: req.Period}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.RecordID != "" {
		if _, done := a.records[req.RecordID]; done {
			l.log.Warn().
				Str("record_id", req.RecordID).
				Str("department", req.Department).
				Str("period", req.Period).
				Msg("Record already committed, skipping")
			return l.resultLocked(req, a), nil
		}
	}

	if l.journal != nil {
		entry := JournalEntry{
			CommitID:    uuid.NewString(),
			RecordID:    req.RecordID,
			Department:  req.Department,
			Period:      req.Period,
			Vendor:      req.Vendor,
			Amount:      req.Amount,
			CommittedAt: l.now().UTC(),
		}
		if err := l.journal.Append(ctx, entry); err != nil {
			return domain.CommitResult{}, asPersistenceError("ledger commit", err)
		}
	}

	l.applyLocked(a, req.RecordID, req.Vendor, req.Amount)
	return l.resultLocked(req, a), nil
}

func (l *Ledger) applyLocked(a *allocation, recordID, vendor string, amount decimal.Decimal) {
	a.consumed = a.consumed.Add(amount)
	if recordID != "" {
		a.records[recordID] = struct{}{}
	}

	l.vendorMu.Lock()
	k := vendorKey(vendor)
	l.vendors[k] = l.vendors[k].Add(amount)
	l.vendorMu.Unlock()
}

func (l *Ledger) resultLocked(req domain.CommitRequest, a *allocation) domain.CommitResult {
	return domain.CommitResult{
		Department: req.Department,
		Period:     req.Period,
		Amount:     req.Amount,
		Consumed:   a.consumed,
		Remaining:  a.allocated.Sub(a.consumed),
	}
}

// Restore replays the journal into the in-memory state. Allocations must be
// configured first; entries for unknown allocations are skipped and logged.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.journal == nil {
		return 0, nil
	}
	entries, err := l.journal.Load(ctx)
	if err != nil {
		return 0, asPersistenceError("ledger restore", err)
	}

	applied := 0
	for _, e := range entries {
		a := l.lookup(e.Department, e.Period)
		if a == nil {
			l.log.Warn().
				Str("department", e.Department).
				Str("period", e.Period).
				Str("record_id", e.RecordID).
				Msg("Journal entry for unconfigured allocation, skipping")
			continue
		}
		a.mu.Lock()
		if _, done := a.records[e.RecordID]; e.RecordID == "" || !done {
			l.applyLocked(a, e.RecordID, e.Vendor, e.Amount)
			applied++
		}
		a.mu.Unlock()
	}
	return applied, nil
}

func asPersistenceError(op string, err error) error {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
