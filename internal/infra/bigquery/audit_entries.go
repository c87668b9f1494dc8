package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/shopspring/decimal"
)

// AuditEntryRow is one row of audit_entries. The record and verdict are
// stored as JSON so the hash chain can be recomputed byte for byte; the
// flattened columns exist for querying.
type AuditEntryRow struct {
	Seq int64 `bigquery:"seq"` // REQUIRED

	RecordID    string     `bigquery:"record_id"`    // REQUIRED
	InvoiceID   string     `bigquery:"invoice_id"`   // NULLABLE
	VendorName  string     `bigquery:"vendor_name"`  // REQUIRED
	Department  string     `bigquery:"department"`   // REQUIRED
	Period      string     `bigquery:"period"`       // REQUIRED
	Amount      *big.Rat   `bigquery:"amount"`       // REQUIRED NUMERIC
	Currency    string     `bigquery:"currency"`     // REQUIRED
	InvoiceDate civil.Date `bigquery:"invoice_date"` // REQUIRED

	Verdict   string `bigquery:"verdict"`    // REQUIRED
	RiskScore int64  `bigquery:"risk_score"` // REQUIRED

	RecordJSON  string `bigquery:"record_json"`  // REQUIRED JSON text
	VerdictJSON string `bigquery:"verdict_json"` // REQUIRED JSON text

	CommittedAt time.Time `bigquery:"committed_at"` // REQUIRED
	PrevHash    string    `bigquery:"prev_hash"`    // REQUIRED
	Hash        string    `bigquery:"hash"`         // REQUIRED
}

func toAuditEntryRow(e domain.AuditEntry) (*AuditEntryRow, error) {
	rec, err := json.Marshal(e.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	verdict, err := json.Marshal(e.Verdict)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict: %w", err)
	}
	return &AuditEntryRow{
		Seq:         int64(e.Seq),
		RecordID:    e.Record.ID,
		InvoiceID:   e.Record.InvoiceID,
		VendorName:  e.Record.VendorName,
		Department:  e.Record.Department,
		Period:      e.Record.Period,
		Amount:      e.Record.Amount.Rat(),
		Currency:    e.Record.Currency,
		InvoiceDate: e.Record.Date,
		Verdict:     string(e.Verdict.Kind),
		RiskScore:   int64(e.Verdict.RiskScore),
		RecordJSON:  string(rec),
		VerdictJSON: string(verdict),
		CommittedAt: e.CommittedAt.UTC(),
		PrevHash:    e.PrevHash,
		Hash:        e.Hash,
	}, nil
}

func (r *AuditEntryRow) toEntry() (domain.AuditEntry, error) {
	e := domain.AuditEntry{
		Seq:         uint64(r.Seq),
		CommittedAt: r.CommittedAt.UTC(),
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
	if err := json.Unmarshal([]byte(r.RecordJSON), &e.Record); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("audit entry %d: decode record: %w", r.Seq, err)
	}
	if err := json.Unmarshal([]byte(r.VerdictJSON), &e.Verdict); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("audit entry %d: decode verdict: %w", r.Seq, err)
	}
	return e, nil
}

// ratToDecimal converts a NUMERIC value; BigQuery NUMERIC has at most nine
// fractional digits.
func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(9))
}
