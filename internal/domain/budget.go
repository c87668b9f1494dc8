package domain

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// PeriodGranularity controls how invoice dates map onto budget periods.
type PeriodGranularity string

const (
	PeriodMonth   PeriodGranularity = "month"
	PeriodQuarter PeriodGranularity = "quarter"
	PeriodYear    PeriodGranularity = "year"
)

// ParsePeriodGranularity validates a configured granularity. Empty means month.
func ParsePeriodGranularity(s string) (PeriodGranularity, error) {
	switch PeriodGranularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodQuarter:
		return PeriodQuarter, nil
	case PeriodYear:
		return PeriodYear, nil
	}
	return "", fmt.Errorf("unknown period granularity %q", s)
}

// PeriodOf returns the period key for a date: "2024-03", "2024-Q1" or "2024".
func (g PeriodGranularity) PeriodOf(d civil.Date) string {
	switch g {
	case PeriodYear:
		return fmt.Sprintf("%04d", d.Year)
	case PeriodQuarter:
		return fmt.Sprintf("%04d-Q%d", d.Year, (int(d.Month)-1)/3+1)
	default:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	}
}

// BudgetSnapshot is a point-in-time read of one allocation.
type BudgetSnapshot struct {
	Department string          `json:"department"`
	Period     string          `json:"period"`
	Allocated  decimal.Decimal `json:"allocated"`
	Consumed   decimal.Decimal `json:"consumed"`
	Remaining  decimal.Decimal `json:"remaining"`
}

// Capacity is the answer to "would this amount fit".
type Capacity struct {
	WithinLimit bool            `json:"within_limit"`
	Remaining   decimal.Decimal `json:"remaining"`
}

// CapacityFor projects amount onto the snapshot without changing it.
func (s BudgetSnapshot) CapacityFor(amount decimal.Decimal) Capacity {
	return Capacity{
		WithinLimit: amount.LessThanOrEqual(s.Remaining),
		Remaining:   s.Remaining,
	}
}

// BudgetView is the single ledger read a rule evaluation works from.
type BudgetView struct {
	Allocation BudgetSnapshot
	// Configured is false when no allocation exists for the record's
	// department and period; Allocation is then zero valued.
	Configured bool
	// VendorSpend is the vendor's cumulative committed amount.
	VendorSpend decimal.Decimal
}

// CommitRequest asks the ledger to consume budget for an accepted record.
type CommitRequest struct {
	Department string
	Period     string
	Vendor     string
	RecordID   string
	Amount     decimal.Decimal
}

// CommitResult reports the allocation state right after a commit.
type CommitResult struct {
	Department string          `json:"department"`
	Period     string          `json:"period"`
	Amount     decimal.Decimal `json:"amount"`
	Consumed   decimal.Decimal `json:"consumed"`
	Remaining  decimal.Decimal `json:"remaining"`
}
