package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order when coercing a textual date.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"2 January 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// currencyMarkers are stripped from textual amounts before parsing.
var currencyMarkers = []string{"EUR", "USD", "GBP", "CHF", "€", "$", "£", "\u00a0", " ", "'"}

func missing(field string) error {
	return &domain.NormalizationError{Kind: domain.MissingField, Field: field, Detail: "field is required"}
}

func invalid(kind domain.NormalizationErrorKind, field, format string, args ...interface{}) error {
	return &domain.NormalizationError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// lookup returns the first present, non-null value among keys.
func lookup(m domain.RawFields, keys ...string) (string, interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return keys[0], nil, false
}

func getStringField(m domain.RawFields, keys ...string) (string, error) {
	key, v, ok := lookup(m, keys...)
	if !ok {
		return "", missing(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(domain.InvalidField, key, "has type %T, want string", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing(key)
	}
	return s, nil
}

// getOptionalTextField accepts strings and numbers; identifiers such as
// invoice numbers often come back from extraction as numbers.
func getOptionalTextField(m domain.RawFields, keys ...string) (string, error) {
	key, v, ok := lookup(m, keys...)
	if !ok {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return "", invalid(domain.InvalidField, key, "has type %T, want string or number", v)
	}
}

const (
	maxAmountExponent = 18
	maxAmountBits     = 128
)

// coerceAmount converts a raw amount into a decimal with at most two
// fractional digits. Sign checks are left to the caller.
func coerceAmount(field string, v interface{}) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch val := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(val.String())
	case float64:
		d = decimal.NewFromFloat(val)
	case float32:
		d = decimal.NewFromFloat32(val)
	case int:
		d = decimal.NewFromInt(int64(val))
	case int64:
		d = decimal.NewFromInt(val)
	case string:
		d, err = parseAmountText(val)
	default:
		return decimal.Decimal{}, invalid(domain.InvalidAmount, field, "has type %T, want number or text", v)
	}
	if err != nil {
		return decimal.Decimal{}, invalid(domain.InvalidAmount, field, "cannot parse %v: %v", v, err)
	}
	// Rescaling is exponential in the exponent, so bound it before Round.
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent || d.Coefficient().BitLen() > maxAmountBits {
		return decimal.Decimal{}, invalid(domain.InvalidAmount, field, "%v is out of range", v)
	}
	if !d.Round(2).Equal(d) {
		return decimal.Decimal{}, invalid(domain.InvalidAmount, field, "%s has more than two decimal places", d)
	}
	return d, nil
}

// parseAmountText handles both "1.234,56" and "1,234.56". When only commas
// appear, a single comma followed by one or two digits is a decimal comma
// and anything else is a thousands separator.
func parseAmountText(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	for _, m := range currencyMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return decimal.NewFromString(s)
}

func coerceDate(field string, v interface{}) (civil.Date, error) {
	s, ok := v.(string)
	if !ok {
		return civil.Date{}, invalid(domain.InvalidDate, field, "has type %T, want text", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, invalid(domain.InvalidDate, field, "%q is not a recognised calendar date", s)
}

func coerceLineItems(field string, v interface{}) ([]domain.LineItem, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, invalid(domain.InvalidField, field, "has type %T, want list", v)
	}
	items := make([]domain.LineItem, 0, len(list))
	for i, item := range list {
		obj, ok := asObject(item)
		if !ok {
			return nil, invalid(domain.InvalidField, field, "element %d has type %T, want object", i, item)
		}
		itemField := fmt.Sprintf("%s[%d].amount", field, i)
		rawAmount, ok := obj["amount"]
		if !ok || rawAmount == nil {
			return nil, missing(itemField)
		}
		amount, err := coerceAmount(itemField, rawAmount)
		if err != nil {
			return nil, err
		}
		desc, err := getOptionalTextField(obj, "description")
		if err != nil {
			return nil, err
		}
		items = append(items, domain.LineItem{Description: desc, Amount: amount})
	}
	return items, nil
}

func asObject(v interface{}) (domain.RawFields, bool) {
	switch o := v.(type) {
	case map[string]interface{}:
		return domain.RawFields(o), true
	case domain.RawFields:
		return o, true
	}
	return nil, false
}

// DecodeRawFields parses a JSON document into raw fields, keeping numbers
// as json.Number so amounts never pass through float64.
func DecodeRawFields(data []byte) (domain.RawFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw domain.RawFields
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode raw fields: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode raw fields: document is not an object")
	}
	return raw, nil
}
