package pipeline

import (
	"strings"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is how far line items may drift from the stated total.
var DefaultTolerance = decimal.New(1, -2)

// Normalizer turns raw extracted fields into transaction records.
// Apart from ID generation it has no side effects.
type Normalizer struct {
	departments *DepartmentDirectory
	tolerance   decimal.Decimal
	granularity domain.PeriodGranularity
	newID       func() string
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithTolerance overrides the line-item reconciliation tolerance.
func WithTolerance(t decimal.Decimal) NormalizerOption {
	return func(n *Normalizer) { n.tolerance = t.Abs() }
}

// WithGranularity sets how record dates map onto budget periods.
func WithGranularity(g domain.PeriodGranularity) NormalizerOption {
	return func(n *Normalizer) { n.granularity = g }
}

// WithIDFunc overrides record ID generation.
func WithIDFunc(f func() string) NormalizerOption {
	return func(n *Normalizer) { n.newID = f }
}

// NewNormalizer creates a normalizer that accepts departments known to dir.
func NewNormalizer(dir *DepartmentDirectory, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		departments: dir,
		tolerance:   DefaultTolerance,
		granularity: domain.PeriodMonth,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw and builds a record, or returns a
// *domain.NormalizationError describing the first problem found.
func (n *Normalizer) Normalize(raw domain.RawFields) (domain.TransactionRecord, error) {
	vendor, err := getStringField(raw, "vendor_name", "vendor")
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	amountKey, rawAmount, ok := lookup(raw, "amount", "total")
	if !ok {
		return domain.TransactionRecord{}, missing(amountKey)
	}
	amount, err := coerceAmount(amountKey, rawAmount)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if amount.IsNegative() {
		return domain.TransactionRecord{}, invalid(domain.InvalidAmount, amountKey, "%s is negative", amount)
	}

	dateKey, rawDate, ok := lookup(raw, "date", "invoice_date")
	if !ok {
		return domain.TransactionRecord{}, missing(dateKey)
	}
	date, err := coerceDate(dateKey, rawDate)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	deptName, err := getStringField(raw, "department")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	department, known := n.departments.Resolve(deptName)
	if !known {
		return domain.TransactionRecord{}, invalid(domain.UnknownDepartment, "department", "%q is not a known department", deptName)
	}

	invoiceID, err := getOptionalTextField(raw, "invoice_id", "invoice_number")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	iban, err := getOptionalTextField(raw, "iban")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	currency, err := getOptionalTextField(raw, "currency")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if len(currency) != 3 {
		return domain.TransactionRecord{}, invalid(domain.InvalidField, "currency", "%q is not an ISO 4217 code", currency)
	}

	var items []domain.LineItem
	if key, rawItems, ok := lookup(raw, "line_items"); ok {
		items, err = coerceLineItems(key, rawItems)
		if err != nil {
			return domain.TransactionRecord{}, err
		}
		if err := n.reconcile(amount, items); err != nil {
			return domain.TransactionRecord{}, err
		}
	}
	if len(items) == 0 {
		items = nil
	}

	return domain.TransactionRecord{
		ID:         n.newID(),
		InvoiceID:  invoiceID,
		VendorName: vendor,
		IBAN:       iban,
		Amount:     amount,
		Currency:   currency,
		Date:       date,
		Department: department,
		Period:     n.granularity.PeriodOf(date),
		LineItems:  items,
	}, nil
}

// reconcile checks that line items add up to the stated total. An empty
// list is treated as absent.
func (n *Normalizer) reconcile(amount decimal.Decimal, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Amount)
	}
	if diff := sum.Sub(amount).Abs(); diff.GreaterThan(n.tolerance) {
		return invalid(domain.LineItemMismatch, "line_items",
			"line items sum to %s but the stated total is %s (tolerance %s)",
			sum.StringFixed(2), amount.StringFixed(2), n.tolerance.String())
	}
	return nil
}
