// Package rules holds the compliance rules and the engine that folds their
// outcomes into a verdict.
package rules

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/shopspring/decimal"
)

// Rule is one compliance check. Evaluate must be pure: it sees the record
// and the ledger view taken for this evaluation and nothing else.
type Rule interface {
	Name() string
	Evaluate(rec domain.TransactionRecord, view domain.BudgetView) domain.RuleOutcome
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// BudgetLimitRule flags a record whose department would spend past its
// ceiling for the period. The ceiling is Limit when set, otherwise the
// ledger allocation. Department and Period, when set, restrict the rule.
type BudgetLimitRule struct {
	RuleName   string
	Department string
	Period     string
	Limit      *decimal.Decimal
}

func (r *BudgetLimitRule) Name() string { return nameOr(r.RuleName, "BudgetLimitRule") }

func (r *BudgetLimitRule) Evaluate(rec domain.TransactionRecord, view domain.BudgetView) domain.RuleOutcome {
	if r.Department != "" && normalizeKey(r.Department) != normalizeKey(rec.Department) {
		return domain.Pass(r.Name())
	}
	if r.Period != "" && r.Period != rec.Period {
		return domain.Pass(r.Name())
	}

	var ceiling decimal.Decimal
	switch {
	case r.Limit != nil:
		ceiling = *r.Limit
	case view.Configured:
		ceiling = view.Allocation.Allocated
	default:
		// No allocation: the ledger commit reports the gap.
		return domain.Pass(r.Name())
	}

	projected := view.Allocation.Consumed.Add(rec.Amount)
	if projected.GreaterThan(ceiling) {
		return domain.Flag(r.Name(), fmt.Sprintf("exceeds remaining budget by %s", projected.Sub(ceiling).String()))
	}
	return domain.Pass(r.Name())
}

// AuthorizedVendorRule rejects vendors missing from the allow-list.
type AuthorizedVendorRule struct {
	RuleName string
	vendors  map[string]struct{}
}

// NewAuthorizedVendorRule builds the rule from vendor names, compared
// case-insensitively.
func NewAuthorizedVendorRule(name string, vendors []string) *AuthorizedVendorRule {
	r := &AuthorizedVendorRule{RuleName: name, vendors: make(map[string]struct{}, len(vendors))}
	for _, v := range vendors {
		r.vendors[normalizeKey(v)] = struct{}{}
	}
	return r
}

func (r *AuthorizedVendorRule) Name() string { return nameOr(r.RuleName, "AuthorizedVendorRule") }

func (r *AuthorizedVendorRule) Evaluate(rec domain.TransactionRecord, _ domain.BudgetView) domain.RuleOutcome {
	if _, ok := r.vendors[normalizeKey(rec.VendorName)]; ok {
		return domain.Pass(r.Name())
	}
	return domain.Reject(r.Name(), fmt.Sprintf("vendor %q is not authorized", rec.VendorName))
}

// AmountThresholdRule flags records above Threshold for manual review.
type AmountThresholdRule struct {
	RuleName  string
	Threshold decimal.Decimal
}

func (r *AmountThresholdRule) Name() string { return nameOr(r.RuleName, "AmountThresholdRule") }

func (r *AmountThresholdRule) Evaluate(rec domain.TransactionRecord, _ domain.BudgetView) domain.RuleOutcome {
	if rec.Amount.GreaterThan(r.Threshold) {
		return domain.Flag(r.Name(), fmt.Sprintf("amount %s exceeds review threshold %s", rec.Amount.StringFixed(2), r.Threshold.StringFixed(2)))
	}
	return domain.Pass(r.Name())
}

// VendorLimitRule flags records that push a vendor's cumulative committed
// spend past Limit. With Vendor empty it applies to every vendor.
type VendorLimitRule struct {
	RuleName string
	Vendor   string
	Limit    decimal.Decimal
}

func (r *VendorLimitRule) Name() string { return nameOr(r.RuleName, "VendorLimitRule") }

func (r *VendorLimitRule) Evaluate(rec domain.TransactionRecord, view domain.BudgetView) domain.RuleOutcome {
	if r.Vendor != "" && normalizeKey(r.Vendor) != normalizeKey(rec.VendorName) {
		return domain.Pass(r.Name())
	}
	projected := view.VendorSpend.Add(rec.Amount)
	if projected.GreaterThan(r.Limit) {
		return domain.Flag(r.Name(), fmt.Sprintf("vendor spend %s would exceed limit %s", projected.StringFixed(2), r.Limit.StringFixed(2)))
	}
	return domain.Pass(r.Name())
}

// AuthorizedIBANRule rejects payments routed to an unregistered account.
type AuthorizedIBANRule struct {
	RuleName string
	ibans    map[string]struct{}
}

// NewAuthorizedIBANRule builds the rule; IBANs compare without spaces and
// case-insensitively.
func NewAuthorizedIBANRule(name string, ibans []string) *AuthorizedIBANRule {
	r := &AuthorizedIBANRule{RuleName: name, ibans: make(map[string]struct{}, len(ibans))}
	for _, iban := range ibans {
		r.ibans[NormalizeIBAN(iban)] = struct{}{}
	}
	return r
}

// NormalizeIBAN strips spaces and upper-cases an account number.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

func (r *AuthorizedIBANRule) Name() string { return nameOr(r.RuleName, "AuthorizedIBANRule") }

func (r *AuthorizedIBANRule) Evaluate(rec domain.TransactionRecord, _ domain.BudgetView) domain.RuleOutcome {
	iban := NormalizeIBAN(rec.IBAN)
	if iban == "" || iban == "UNKNOWN" {
		return domain.Reject(r.Name(), "invoice does not state a payment account")
	}
	if _, ok := r.ibans[iban]; !ok {
		return domain.Reject(r.Name(), fmt.Sprintf("IBAN %s is not a registered vendor account", iban))
	}
	return domain.Pass(r.Name())
}

// RiskLevel is a vendor's rating in the vendor master data.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// VendorRiskRule rejects high-risk vendors and flags vendors without a rating.
type VendorRiskRule struct {
	RuleName string
	levels   map[string]RiskLevel
}

// NewVendorRiskRule builds the rule from vendor name to risk level.
func NewVendorRiskRule(name string, levels map[string]RiskLevel) *VendorRiskRule {
	r := &VendorRiskRule{RuleName: name, levels: make(map[string]RiskLevel, len(levels))}
	for vendor, level := range levels {
		r.levels[normalizeKey(vendor)] = level
	}
	return r
}

func (r *VendorRiskRule) Name() string { return nameOr(r.RuleName, "VendorRiskRule") }

func (r *VendorRiskRule) Evaluate(rec domain.TransactionRecord, _ domain.BudgetView) domain.RuleOutcome {
	level, ok := r.levels[normalizeKey(rec.VendorName)]
	switch {
	case !ok:
		return domain.Flag(r.Name(), fmt.Sprintf("vendor %q has no risk rating", rec.VendorName))
	case level == RiskHigh:
		return domain.Reject(r.Name(), fmt.Sprintf("vendor %q is rated high risk", rec.VendorName))
	}
	return domain.Pass(r.Name())
}

// Contract is a vendor agreement valid between Start and End inclusive.
type Contract struct {
	Vendor string
	Start  civil.Date
	End    civil.Date
	Active bool
}

func (c Contract) covers(d civil.Date) bool {
	return c.Active && !d.Before(c.Start) && !d.After(c.End)
}

// ContractCoverageRule rejects invoices dated outside every active
// contract with the vendor.
type ContractCoverageRule struct {
	RuleName  string
	contracts map[string][]Contract
}

// NewContractCoverageRule indexes contracts by vendor.
func NewContractCoverageRule(name string, contracts []Contract) *ContractCoverageRule {
	r := &ContractCoverageRule{RuleName: name, contracts: make(map[string][]Contract)}
	for _, c := range contracts {
		k := normalizeKey(c.Vendor)
		r.contracts[k] = append(r.contracts[k], c)
	}
	return r
}

func (r *ContractCoverageRule) Name() string { return nameOr(r.RuleName, "ContractCoverageRule") }

func (r *ContractCoverageRule) Evaluate(rec domain.TransactionRecord, _ domain.BudgetView) domain.RuleOutcome {
	for _, c := range r.contracts[normalizeKey(rec.VendorName)] {
		if c.covers(rec.Date) {
			return domain.Pass(r.Name())
		}
	}
	return domain.Reject(r.Name(), fmt.Sprintf("no active contract with %q covers %s", rec.VendorName, rec.Date))
}
