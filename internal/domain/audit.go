package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// AuditEntry is one durably recorded decision. Entries are hash chained:
// Hash covers every other field, PrevHash is the previous entry's Hash.
type AuditEntry struct {
	Seq         uint64            `json:"seq"`
	Record      TransactionRecord `json:"record"`
	Verdict     Verdict           `json:"verdict"`
	CommittedAt time.Time         `json:"committed_at"`
	PrevHash    string            `json:"prev_hash"`
	Hash        string            `json:"hash"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
// From and To bound the invoice date, both inclusive.
type AuditFilter struct {
	Department string
	From       *civil.Date
	To         *civil.Date
	Verdict    VerdictKind
}

// Matches reports whether the entry passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Department != "" && e.Record.Department != f.Department {
		return false
	}
	if f.From != nil && e.Record.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Record.Date.After(*f.To) {
		return false
	}
	if f.Verdict != "" && e.Verdict.Kind != f.Verdict {
		return false
	}
	return true
}

// ProcessingEvent is pushed to live subscribers once a record is logged.
type ProcessingEvent struct {
	Seq       uint64        `json:"seq"`
	Record    RecordSummary `json:"record"`
	Verdict   VerdictKind   `json:"verdict"`
	Reasons   []string      `json:"reasons,omitempty"`
	RiskScore int           `json:"risk_score"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewProcessingEvent builds the event for a logged entry.
func NewProcessingEvent(e AuditEntry) ProcessingEvent {
	return ProcessingEvent{
		Seq:       e.Seq,
		Record:    e.Record.Summary(),
		Verdict:   e.Verdict.Kind,
		Reasons:   e.Verdict.Reasons,
		RiskScore: e.Verdict.RiskScore,
		Timestamp: e.CommittedAt,
	}
}

// AuditSummary aggregates the audit trail for the dashboard sidebar.
type AuditSummary struct {
	Documents       int             `json:"documents"`
	Accepted        int             `json:"accepted"`
	Flagged         int             `json:"flagged"`
	Rejected        int             `json:"rejected"`
	VolumeProcessed decimal.Decimal `json:"volume_processed"`
	FlaggedAmount   decimal.Decimal `json:"flagged_amount"`
	// Alerts counts every non-passing rule outcome.
	Alerts int `json:"alerts"`
}

// Add folds one entry into the summary.
func (s *AuditSummary) Add(e AuditEntry) {
	s.Documents++
	s.VolumeProcessed = s.VolumeProcessed.Add(e.Record.Amount)
	switch e.Verdict.Kind {
	case VerdictAccepted:
		s.Accepted++
	case VerdictFlagged:
		s.Flagged++
		s.FlaggedAmount = s.FlaggedAmount.Add(e.Record.Amount)
	case VerdictRejected:
		s.Rejected++
		s.FlaggedAmount = s.FlaggedAmount.Add(e.Record.Amount)
	}
	s.Alerts += len(e.Verdict.Reasons)
}
