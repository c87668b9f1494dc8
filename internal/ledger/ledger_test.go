package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger_CommitUpdatesSnapshot(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("Marketing", "2024-05", dec("5000")))

	res, err := l.Commit(context.Background(), domain.CommitRequest{
		Department: "Marketing",
		Period:     "2024-05",
		Vendor:     "Acme Supplies",
		RecordID:   "rec-1",
		Amount:     dec("300"),
	})
	require.NoError(t, err)
	assert.True(t, res.Consumed.Equal(dec("300")))
	assert.True(t, res.Remaining.Equal(dec("4700")))

	snap, err := l.Snapshot("Marketing", "2024-05")
	require.NoError(t, err)
	assert.True(t, snap.Allocated.Equal(dec("5000")))
	assert.True(t, snap.Consumed.Equal(dec("300")))
	assert.True(t, snap.Remaining.Equal(dec("4700")))
	assert.True(t, l.VendorSpend("ACME SUPPLIES").Equal(dec("300")))
}

func TestLedger_CommitUnknownAllocation(t *testing.T) {
	l := New()

	_, err := l.Commit(context.Background(), domain.CommitRequest{
		Department: "Legal",
		Period:     "2024-05",
		Amount:     dec("10"),
	})

	var notFound *domain.AllocationNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Legal", notFound.Department)
	assert.False(t, domain.IsRetryable(err))
}

func TestLedger_ConcurrentCommitsSameAllocation(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("Engineering", "2024-05", dec("100")))

	const n = 200
	want := decimal.Zero
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		amount := decimal.New(int64(i%7)+1, -2).Add(decimal.NewFromInt(int64(i % 3)))
		want = want.Add(amount)
		wg.Add(1)
		go func(i int, amount decimal.Decimal) {
			defer wg.Done()
			_, err := l.Commit(context.Background(), domain.CommitRequest{
				Department: "Engineering",
				Period:     "2024-05",
				Vendor:     fmt.Sprintf("vendor-%d", i%4),
				RecordID:   fmt.Sprintf("rec-%d", i),
				Amount:     amount,
			})
			assert.NoError(t, err)
		}(i, amount)
	}
	wg.Wait()

	snap, err := l.Snapshot("Engineering", "2024-05")
	require.NoError(t, err)
	assert.True(t, snap.Consumed.Equal(want), "consumed %s, want %s", snap.Consumed, want)
	// Over-commitment is recorded, not prevented.
	assert.True(t, snap.Remaining.Equal(dec("100").Sub(want)))
}

func TestLedger_ConcurrentCommitsDifferentAllocations(t *testing.T) {
	l := New()
	depts := []string{"Marketing", "Engineering", "Legal"}
	for _, d := range depts {
		require.NoError(t, l.Allocate(d, "2024-Q2", dec("1000")))
	}

	var wg sync.WaitGroup
	for i := 0; i < 90; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Commit(context.Background(), domain.CommitRequest{
				Department: depts[i%3],
				Period:     "2024-Q2",
				RecordID:   fmt.Sprintf("rec-%d", i),
				Amount:     dec("1.10"),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, d := range depts {
		snap, err := l.Snapshot(d, "2024-Q2")
		require.NoError(t, err)
		assert.True(t, snap.Consumed.Equal(dec("33")), "%s consumed %s", d, snap.Consumed)
	}
}

func TestLedger_CheckCapacityIsReadOnly(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("Marketing", "2024-05", dec("10000")))
	_, err := l.Commit(context.Background(), domain.CommitRequest{Department: "Marketing", Period: "2024-05", Amount: dec("9500")})
	require.NoError(t, err)

	c, err := l.CheckCapacity("Marketing", "2024-05", dec("700"))
	require.NoError(t, err)
	assert.False(t, c.WithinLimit)
	assert.True(t, c.Remaining.Equal(dec("500")))

	c, err = l.CheckCapacity("Marketing", "2024-05", dec("500"))
	require.NoError(t, err)
	assert.True(t, c.WithinLimit)

	snap, _ := l.Snapshot("Marketing", "2024-05")
	assert.True(t, snap.Consumed.Equal(dec("9500")))
}

func TestLedger_ReallocateKeepsConsumption(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("HR", "2024", dec("100")))
	_, err := l.Commit(context.Background(), domain.CommitRequest{Department: "HR", Period: "2024", Amount: dec("40")})
	require.NoError(t, err)

	require.NoError(t, l.Allocate("HR", "2024", dec("250")))

	snap, err := l.Snapshot("HR", "2024")
	require.NoError(t, err)
	assert.True(t, snap.Consumed.Equal(dec("40")))
	assert.True(t, snap.Remaining.Equal(dec("210")))
}

func TestLedger_DuplicateRecordCountedOnce(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("HR", "2024", dec("100")))
	req := domain.CommitRequest{Department: "HR", Period: "2024", RecordID: "rec-1", Amount: dec("25")}

	_, err := l.Commit(context.Background(), req)
	require.NoError(t, err)
	res, err := l.Commit(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Consumed.Equal(dec("25")))
}

func TestLedger_JournalFailureLeavesStateUntouched(t *testing.T) {
	j := NewMemoryJournal()
	l := New(WithJournal(j))
	require.NoError(t, l.Allocate("HR", "2024", dec("100")))

	j.SetFailure(errors.New("backend unavailable"))
	_, err := l.Commit(context.Background(), domain.CommitRequest{Department: "HR", Period: "2024", RecordID: "rec-1", Amount: dec("25")})

	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, domain.IsRetryable(err))
	snap, _ := l.Snapshot("HR", "2024")
	assert.True(t, snap.Consumed.IsZero())

	j.SetFailure(nil)
	_, err = l.Commit(context.Background(), domain.CommitRequest{Department: "HR", Period: "2024", RecordID: "rec-1", Amount: dec("25")})
	require.NoError(t, err)
	snap, _ = l.Snapshot("HR", "2024")
	assert.True(t, snap.Consumed.Equal(dec("25")))
}

func TestLedger_RestoreFromJournal(t *testing.T) {
	j := NewMemoryJournal()
	first := New(WithJournal(j))
	require.NoError(t, first.Allocate("HR", "2024", dec("100")))
	for i, amount := range []string{"10", "20.50", "0.25"} {
		_, err := first.Commit(context.Background(), domain.CommitRequest{
			Department: "HR", Period: "2024", Vendor: "Globex",
			RecordID: fmt.Sprintf("rec-%d", i), Amount: dec(amount),
		})
		require.NoError(t, err)
	}

	second := New(WithJournal(j))
	require.NoError(t, second.Allocate("HR", "2024", dec("100")))
	n, err := second.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snap, err := second.Snapshot("HR", "2024")
	require.NoError(t, err)
	assert.True(t, snap.Consumed.Equal(dec("30.75")))
	assert.True(t, second.VendorSpend("globex").Equal(dec("30.75")))
}

func TestLedger_ViewUnconfigured(t *testing.T) {
	l := New()
	v := l.View("Nowhere", "2024-01", "Acme")
	assert.False(t, v.Configured)
	assert.True(t, v.VendorSpend.IsZero())
}

func TestLedger_ViewConsistentWithCommits(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Allocate("Marketing", "2024-03", dec("1000000")))

	const commits = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < commits; i++ {
			_, err := l.Commit(ctx, domain.CommitRequest{
				Department: "Marketing",
				Period:     "2024-03",
				Vendor:     "Acme",
				RecordID:   fmt.Sprintf("rec-%d", i),
				Amount:     dec("5"),
			})
			assert.NoError(t, err)
		}
	}()

	for {
		v := l.View("Marketing", "2024-03", "acme")
		require.True(t, v.Configured)
		// Acme is the only vendor, so both totals move together.
		require.True(t, v.VendorSpend.Equal(v.Allocation.Consumed),
			"vendor spend %s, consumed %s", v.VendorSpend, v.Allocation.Consumed)
		select {
		case <-done:
			v = l.View("Marketing", "2024-03", "Acme")
			assert.True(t, dec("1000").Equal(v.VendorSpend))
			return
		default:
		}
	}
}

func TestLedger_SnapshotsSorted(t *testing.T) {
	l := New()
	require.NoError(t, l.Allocate("Marketing", "2024-02", dec("1")))
	require.NoError(t, l.Allocate("Engineering", "2024-01", dec("1")))
	require.NoError(t, l.Allocate("Marketing", "2024-01", dec("1")))

	snaps := l.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "Engineering", snaps[0].Department)
	assert.Equal(t, "2024-01", snaps[1].Period)
	assert.Equal(t, "2024-02", snaps[2].Period)
}

func TestLedger_AllocateValidation(t *testing.T) {
	l := New()
	assert.Error(t, l.Allocate("", "2024", dec("1")))
	assert.Error(t, l.Allocate("HR", "2024", dec("-1")))
}
