package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when an invoice does not state one.
const DefaultCurrency = "EUR"

// RawFields is the loosely typed field mapping handed over by the extraction
// step. Values are strings, numbers (float64 or json.Number) or, for
// line_items, a list of objects.
type RawFields map[string]interface{}

// LineItem is one priced line of an invoice.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// TransactionRecord is a normalized, validated vendor invoice.
// Records are built by the normalizer and never modified afterwards.
type TransactionRecord struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoice_id,omitempty"`
	VendorName string          `json:"vendor_name"`
	IBAN       string          `json:"iban,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Date       civil.Date      `json:"date"`
	Department string          `json:"department"`
	Period     string          `json:"period"`
	LineItems  []LineItem      `json:"line_items,omitempty"`
}

// RecordSummary is the subset of a record pushed to live subscribers.
type RecordSummary struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoice_id,omitempty"`
	VendorName string          `json:"vendor_name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Date       civil.Date      `json:"date"`
	Department string          `json:"department"`
}

// Summary returns the event-facing view of the record.
func (r TransactionRecord) Summary() RecordSummary {
	return RecordSummary{
		ID:         r.ID,
		InvoiceID:  r.InvoiceID,
		VendorName: r.VendorName,
		Amount:     r.Amount,
		Currency:   r.Currency,
		Date:       r.Date,
		Department: r.Department,
	}
}
