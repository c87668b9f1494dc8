package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
)

func newTestNormalizer(opts ...NormalizerOption) *Normalizer {
	dir := NewDepartmentDirectory([]string{"Marketing", "Engineering"}, map[string]string{"MKT": "Marketing"})
	opts = append([]NormalizerOption{WithIDFunc(func() string { return "rec-1" })}, opts...)
	return NewNormalizer(dir, opts...)
}

func TestNormalizer_Normalize(t *testing.T) {
	n := newTestNormalizer()
	raw := domain.RawFields{
		"vendor_name":    " Acme Corp ",
		"invoice_number": json.Number("4711"),
		"iban":           "DE89 3704 0044 0532 0130 00",
		"total":          "1.234,50",
		"invoice_date":   "2024-03-15",
		"department":     "mkt",
		"currency":       "usd",
		"line_items": []interface{}{
			map[string]interface{}{"description": "Ads", "amount": json.Number("1000.00")},
			map[string]interface{}{"description": "Design", "amount": "234,50"},
		},
	}

	rec, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.ID != "rec-1" {
		t.Errorf("ID = %q, want rec-1", rec.ID)
	}
	if rec.VendorName != "Acme Corp" {
		t.Errorf("VendorName = %q, want Acme Corp", rec.VendorName)
	}
	if rec.InvoiceID != "4711" {
		t.Errorf("InvoiceID = %q, want 4711", rec.InvoiceID)
	}
	if rec.Amount.StringFixed(2) != "1234.50" {
		t.Errorf("Amount = %s, want 1234.50", rec.Amount.StringFixed(2))
	}
	if rec.Date != (civil.Date{Year: 2024, Month: 3, Day: 15}) {
		t.Errorf("Date = %v, want 2024-03-15", rec.Date)
	}
	if rec.Department != "Marketing" {
		t.Errorf("Department = %q, want Marketing", rec.Department)
	}
	if rec.Period != "2024-03" {
		t.Errorf("Period = %q, want 2024-03", rec.Period)
	}
	if rec.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", rec.Currency)
	}
	if len(rec.LineItems) != 2 || rec.LineItems[1].Description != "Design" {
		t.Errorf("LineItems = %+v, want 2 items", rec.LineItems)
	}
}

func TestNormalizer_Defaults(t *testing.T) {
	n := newTestNormalizer(WithGranularity(domain.PeriodQuarter))
	rec, err := n.Normalize(domain.RawFields{
		"vendor":     "Globex",
		"amount":     json.Number("300"),
		"date":       "2024-05-02",
		"department": "Engineering",
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.Currency != domain.DefaultCurrency {
		t.Errorf("Currency = %q, want %q", rec.Currency, domain.DefaultCurrency)
	}
	if rec.Period != "2024-Q2" {
		t.Errorf("Period = %q, want 2024-Q2", rec.Period)
	}
	if rec.LineItems != nil {
		t.Errorf("LineItems = %+v, want nil", rec.LineItems)
	}
}

func TestNormalizer_Errors(t *testing.T) {
	valid := func() domain.RawFields {
		return domain.RawFields{
			"vendor_name": "Acme Corp",
			"amount":      json.Number("100.00"),
			"date":        "2024-03-15",
			"department":  "Marketing",
		}
	}

	tests := []struct {
		name      string
		mutate    func(domain.RawFields)
		wantKind  domain.NormalizationErrorKind
		wantField string
	}{
		{
			name:      "missing vendor",
			mutate:    func(r domain.RawFields) { delete(r, "vendor_name") },
			wantKind:  domain.MissingField,
			wantField: "vendor_name",
		},
		{
			name:      "blank vendor",
			mutate:    func(r domain.RawFields) { r["vendor_name"] = "   " },
			wantKind:  domain.MissingField,
			wantField: "vendor_name",
		},
		{
			name:      "vendor not text",
			mutate:    func(r domain.RawFields) { r["vendor_name"] = json.Number("12") },
			wantKind:  domain.InvalidField,
			wantField: "vendor_name",
		},
		{
			name:      "missing amount",
			mutate:    func(r domain.RawFields) { r["amount"] = nil },
			wantKind:  domain.MissingField,
			wantField: "amount",
		},
		{
			name:      "negative amount",
			mutate:    func(r domain.RawFields) { r["amount"] = json.Number("-5") },
			wantKind:  domain.InvalidAmount,
			wantField: "amount",
		},
		{
			name:      "amount with fractional cents",
			mutate:    func(r domain.RawFields) { r["amount"] = json.Number("10.005") },
			wantKind:  domain.InvalidAmount,
			wantField: "amount",
		},
		{
			name:      "amount with huge exponent",
			mutate:    func(r domain.RawFields) { r["amount"] = json.Number("1e300000000") },
			wantKind:  domain.InvalidAmount,
			wantField: "amount",
		},
		{
			name:      "amount text with huge negative exponent",
			mutate:    func(r domain.RawFields) { r["amount"] = "1e-300000000" },
			wantKind:  domain.InvalidAmount,
			wantField: "amount",
		},
		{
			name: "line item with huge exponent",
			mutate: func(r domain.RawFields) {
				r["line_items"] = []interface{}{map[string]interface{}{"amount": json.Number("1e300000000")}}
			},
			wantKind:  domain.InvalidAmount,
			wantField: "line_items[0].amount",
		},
		{
			name:      "unparseable date",
			mutate:    func(r domain.RawFields) { r["date"] = "sometime in March" },
			wantKind:  domain.InvalidDate,
			wantField: "date",
		},
		{
			name:      "missing date",
			mutate:    func(r domain.RawFields) { delete(r, "date") },
			wantKind:  domain.MissingField,
			wantField: "date",
		},
		{
			name:      "unknown department",
			mutate:    func(r domain.RawFields) { r["department"] = "Legal" },
			wantKind:  domain.UnknownDepartment,
			wantField: "department",
		},
		{
			name:      "bad currency",
			mutate:    func(r domain.RawFields) { r["currency"] = "EURO" },
			wantKind:  domain.InvalidField,
			wantField: "currency",
		},
		{
			name: "line items do not add up",
			mutate: func(r domain.RawFields) {
				r["line_items"] = []interface{}{
					map[string]interface{}{"amount": json.Number("60.00")},
					map[string]interface{}{"amount": json.Number("39.98")},
				}
			},
			wantKind:  domain.LineItemMismatch,
			wantField: "line_items",
		},
		{
			name: "line item without amount",
			mutate: func(r domain.RawFields) {
				r["line_items"] = []interface{}{map[string]interface{}{"description": "x"}}
			},
			wantKind:  domain.MissingField,
			wantField: "line_items[0].amount",
		},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := valid()
			tt.mutate(raw)
			_, err := n.Normalize(raw)
			var ne *domain.NormalizationError
			if !errors.As(err, &ne) {
				t.Fatalf("Normalize error = %v, want *domain.NormalizationError", err)
			}
			if ne.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ne.Kind, tt.wantKind)
			}
			if ne.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ne.Field, tt.wantField)
			}
		})
	}
}

func TestNormalizer_LineItemTolerance(t *testing.T) {
	raw := domain.RawFields{
		"vendor_name": "Acme Corp",
		"amount":      json.Number("100.00"),
		"date":        "2024-03-15",
		"department":  "Marketing",
		"line_items": []interface{}{
			map[string]interface{}{"amount": json.Number("33.33")},
			map[string]interface{}{"amount": json.Number("33.33")},
			map[string]interface{}{"amount": json.Number("33.33")},
		},
	}
	if _, err := newTestNormalizer().Normalize(raw); err != nil {
		t.Fatalf("one cent of rounding should be tolerated: %v", err)
	}
}
