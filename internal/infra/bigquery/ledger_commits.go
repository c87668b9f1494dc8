package bigquery

import (
	"math/big"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/ledger"
)

// LedgerCommitRow is one row of ledger_commits.
type LedgerCommitRow struct {
	CommitID    string    `bigquery:"commit_id"`    // REQUIRED
	RecordID    string    `bigquery:"record_id"`    // NULLABLE
	Department  string    `bigquery:"department"`   // REQUIRED
	Period      string    `bigquery:"period"`       // REQUIRED
	VendorName  string    `bigquery:"vendor_name"`  // NULLABLE
	Amount      *big.Rat  `bigquery:"amount"`       // REQUIRED NUMERIC
	CommittedAt time.Time `bigquery:"committed_at"` // REQUIRED
}

func toLedgerCommitRow(e ledger.JournalEntry) *LedgerCommitRow {
	return &LedgerCommitRow{
		CommitID:    e.CommitID,
		RecordID:    e.RecordID,
		Department:  e.Department,
		Period:      e.Period,
		VendorName:  e.Vendor,
		Amount:      e.Amount.Rat(),
		CommittedAt: e.CommittedAt.UTC(),
	}
}

func (r *LedgerCommitRow) toJournalEntry() (ledger.JournalEntry, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return ledger.JournalEntry{
		CommitID:    r.CommitID,
		RecordID:    r.RecordID,
		Department:  r.Department,
		Period:      r.Period,
		Vendor:      r.VendorName,
		Amount:      amount,
		CommittedAt: r.CommittedAt.UTC(),
	}, nil
}

// insertID keys streaming inserts by record so a retried commit for the
// same record is deduplicated by BigQuery.
func (r *LedgerCommitRow) insertID() string {
	if r.RecordID != "" {
		return "record-" + r.RecordID
	}
	return "commit-" + r.CommitID
}
