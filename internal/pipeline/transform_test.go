package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
)

func TestParseAmountText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1200.00", "1200"},
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1234,5", "1234.5"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"1.234.567", "1234567"},
		{"€ 1 500,00", "1500"},
		{"EUR 99.90", "99.9"},
		{"1'000.25 CHF", "1000.25"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmountText(tt.in)
			if err != nil {
				t.Fatalf("parseAmountText(%q) error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("parseAmountText(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}

	if _, err := parseAmountText(" € "); err == nil {
		t.Error("expected an error for an amount with no digits")
	}
}

func TestCoerceAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    string
		wantErr bool
	}{
		{name: "json number", in: json.Number("1200.50"), want: "1200.5"},
		{name: "float", in: 99.99, want: "99.99"},
		{name: "int", in: 15000, want: "15000"},
		{name: "text", in: "1.234,56", want: "1234.56"},
		{name: "three decimals", in: json.Number("1.234"), wantErr: true},
		{name: "garbage text", in: "twelve", wantErr: true},
		{name: "exponent", in: json.Number("2.5e3"), want: "2500"},
		{name: "exponent too large", in: json.Number("1e19"), wantErr: true},
		{name: "huge float", in: 1e300, wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceAmount("amount", tt.in)
			if tt.wantErr {
				var ne *domain.NormalizationError
				if !errors.As(err, &ne) || ne.Kind != domain.InvalidAmount {
					t.Fatalf("coerceAmount(%v) error = %v, want InvalidAmount", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceAmount(%v) error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("coerceAmount(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceDate(t *testing.T) {
	want := civil.Date{Year: 2024, Month: 3, Day: 15}
	for _, in := range []string{"2024-03-15", "2024/03/15", "15.03.2024", "15 March 2024", "March 15, 2024", "2024-03-15T10:30:00Z"} {
		got, err := coerceDate("date", in)
		if err != nil {
			t.Errorf("coerceDate(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("coerceDate(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []interface{}{"2024-02-30", "next tuesday", "15/03/2024", 20240315} {
		_, err := coerceDate("date", in)
		var ne *domain.NormalizationError
		if !errors.As(err, &ne) || ne.Kind != domain.InvalidDate {
			t.Errorf("coerceDate(%v) error = %v, want InvalidDate", in, err)
		}
	}
}

func TestDecodeRawFields(t *testing.T) {
	raw, err := DecodeRawFields([]byte(`{"vendor_name":"Acme","amount":1200.10,"line_items":[{"amount":1200.10}]}`))
	if err != nil {
		t.Fatalf("DecodeRawFields error: %v", err)
	}
	if n, ok := raw["amount"].(json.Number); !ok || n.String() != "1200.10" {
		t.Errorf("amount = %#v, want json.Number(\"1200.10\")", raw["amount"])
	}

	if _, err := DecodeRawFields([]byte(`[1,2]`)); err == nil {
		t.Error("expected an error for a JSON array")
	}
	if _, err := DecodeRawFields([]byte(`null`)); err == nil {
		t.Error("expected an error for null")
	}
}
