package rules

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func record(vendor, amount, department string) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:         "rec-1",
		VendorName: vendor,
		IBAN:       "DE89 3704 0044 0532 0130 00",
		Amount:     dec(amount),
		Currency:   "EUR",
		Date:       civil.Date{Year: 2024, Month: 5, Day: 14},
		Department: department,
		Period:     "2024-05",
	}
}

func allocationView(allocated, consumed string) domain.BudgetView {
	a, c := dec(allocated), dec(consumed)
	return domain.BudgetView{
		Configured: true,
		Allocation: domain.BudgetSnapshot{Allocated: a, Consumed: c, Remaining: a.Sub(c)},
	}
}

func TestBudgetLimitRule(t *testing.T) {
	limit := dec("1000")
	tests := []struct {
		name       string
		rule       *BudgetLimitRule
		amount     string
		department string
		view       domain.BudgetView
		wantKind   domain.OutcomeKind
		wantReason string
	}{
		{
			name:       "exceeds allocation",
			rule:       &BudgetLimitRule{},
			amount:     "700",
			department: "Marketing",
			view:       allocationView("10000", "9500"),
			wantKind:   domain.OutcomeFlag,
			wantReason: "exceeds remaining budget by 200",
		},
		{
			name:       "exactly fills allocation",
			rule:       &BudgetLimitRule{},
			amount:     "500",
			department: "Marketing",
			view:       allocationView("10000", "9500"),
			wantKind:   domain.OutcomePass,
		},
		{
			name:       "other department ignored",
			rule:       &BudgetLimitRule{Department: "Legal"},
			amount:     "700",
			department: "Marketing",
			view:       allocationView("10000", "9500"),
			wantKind:   domain.OutcomePass,
		},
		{
			name:       "other period ignored",
			rule:       &BudgetLimitRule{Period: "2024-06"},
			amount:     "700",
			department: "Marketing",
			view:       allocationView("10000", "9500"),
			wantKind:   domain.OutcomePass,
		},
		{
			name:       "explicit limit below allocation",
			rule:       &BudgetLimitRule{Limit: &limit},
			amount:     "300",
			department: "Marketing",
			view:       allocationView("10000", "800"),
			wantKind:   domain.OutcomeFlag,
			wantReason: "exceeds remaining budget by 100",
		},
		{
			name:       "unconfigured allocation passes",
			rule:       &BudgetLimitRule{},
			amount:     "700",
			department: "Marketing",
			view:       domain.BudgetView{},
			wantKind:   domain.OutcomePass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Evaluate(record("Acme Supplies", tt.amount, tt.department), tt.view)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, "BudgetLimitRule", got.Rule)
		})
	}
}

func TestAuthorizedVendorRule(t *testing.T) {
	r := NewAuthorizedVendorRule("", []string{"Acme Supplies", "Globex"})

	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("acme supplies ", "50", "HR"), domain.BudgetView{}).Kind)

	got := r.Evaluate(record("Acme Corp", "50", "HR"), domain.BudgetView{})
	assert.Equal(t, domain.OutcomeReject, got.Kind)
	assert.Equal(t, "AuthorizedVendorRule", got.Rule)
	assert.Contains(t, got.Reason, "Acme Corp")
}

func TestAmountThresholdRule(t *testing.T) {
	r := &AmountThresholdRule{Threshold: dec("5000")}
	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("Globex", "5000", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomeFlag, r.Evaluate(record("Globex", "5000.01", "HR"), domain.BudgetView{}).Kind)
}

func TestVendorLimitRule(t *testing.T) {
	r := &VendorLimitRule{Vendor: "Globex", Limit: dec("1000")}
	view := domain.BudgetView{VendorSpend: dec("900")}

	assert.Equal(t, domain.OutcomeFlag, r.Evaluate(record("GLOBEX", "150", "HR"), view).Kind)
	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("Globex", "100", "HR"), view).Kind)
	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("Initech", "5000", "HR"), view).Kind)
}

func TestAuthorizedIBANRule(t *testing.T) {
	r := NewAuthorizedIBANRule("", []string{"DE89370400440532013000"})

	rec := record("Globex", "10", "HR")
	assert.Equal(t, domain.OutcomePass, r.Evaluate(rec, domain.BudgetView{}).Kind)

	rec.IBAN = "UNKNOWN"
	assert.Equal(t, domain.OutcomeReject, r.Evaluate(rec, domain.BudgetView{}).Kind)

	rec.IBAN = "GB29NWBK60161331926819"
	assert.Equal(t, domain.OutcomeReject, r.Evaluate(rec, domain.BudgetView{}).Kind)
}

func TestVendorRiskRule(t *testing.T) {
	r := NewVendorRiskRule("", map[string]RiskLevel{"Globex": RiskHigh, "Initech": RiskLow})

	assert.Equal(t, domain.OutcomeReject, r.Evaluate(record("globex", "10", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("Initech", "10", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomeFlag, r.Evaluate(record("Umbrella", "10", "HR"), domain.BudgetView{}).Kind)
}

func TestContractCoverageRule(t *testing.T) {
	r := NewContractCoverageRule("", []Contract{
		{Vendor: "Globex", Start: civil.Date{Year: 2024, Month: 1, Day: 1}, End: civil.Date{Year: 2024, Month: 12, Day: 31}, Active: true},
		{Vendor: "Initech", Start: civil.Date{Year: 2024, Month: 1, Day: 1}, End: civil.Date{Year: 2024, Month: 12, Day: 31}, Active: false},
		{Vendor: "Umbrella", Start: civil.Date{Year: 2023, Month: 1, Day: 1}, End: civil.Date{Year: 2023, Month: 12, Day: 31}, Active: true},
	})

	assert.Equal(t, domain.OutcomePass, r.Evaluate(record("Globex", "10", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomeReject, r.Evaluate(record("Initech", "10", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomeReject, r.Evaluate(record("Umbrella", "10", "HR"), domain.BudgetView{}).Kind)
	assert.Equal(t, domain.OutcomeReject, r.Evaluate(record("Nobody", "10", "HR"), domain.BudgetView{}).Kind)
}

// countingLedger records how often the engine reads the ledger.
type countingLedger struct {
	view  domain.BudgetView
	reads int
}

func (c *countingLedger) View(department, period, vendor string) domain.BudgetView {
	c.reads++
	return c.view
}

// recordingRule captures the view it was handed.
type recordingRule struct {
	name    string
	outcome domain.OutcomeKind
	seen    []domain.BudgetView
}

func (r *recordingRule) Name() string { return r.name }

func (r *recordingRule) Evaluate(rec domain.TransactionRecord, view domain.BudgetView) domain.RuleOutcome {
	r.seen = append(r.seen, view)
	return domain.RuleOutcome{Rule: r.name, Kind: r.outcome, Reason: string(r.outcome)}
}

func TestEngine_RunsAllRulesAgainstOneView(t *testing.T) {
	ledger := &countingLedger{view: allocationView("100", "10")}
	first := &recordingRule{name: "first", outcome: domain.OutcomeReject}
	second := &recordingRule{name: "second", outcome: domain.OutcomeFlag}
	third := &recordingRule{name: "third", outcome: domain.OutcomePass}

	e := NewEngine(ledger, []Rule{first, second, third}, testLogger())
	v := e.Evaluate(record("Globex", "10", "HR"))

	assert.Equal(t, 1, ledger.reads)
	assert.Equal(t, domain.VerdictRejected, v.Kind)
	require.Len(t, v.Outcomes, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{v.Outcomes[0].Rule, v.Outcomes[1].Rule, v.Outcomes[2].Rule})
	assert.Len(t, first.seen, 1)
	assert.Len(t, third.seen, 1)
}

func TestEngine_RejectDominates(t *testing.T) {
	kinds := []domain.OutcomeKind{domain.OutcomePass, domain.OutcomeFlag, domain.OutcomeReject}
	// Every ordering of three rules that contains a reject must reject.
	for _, a := range kinds {
		for _, b := range kinds {
			for _, c := range kinds {
				rules := []Rule{
					&recordingRule{name: "a", outcome: a},
					&recordingRule{name: "b", outcome: b},
					&recordingRule{name: "c", outcome: c},
				}
				v := NewEngine(&countingLedger{}, rules, testLogger()).Evaluate(record("Globex", "1", "HR"))

				want := domain.VerdictAccepted
				for _, k := range []domain.OutcomeKind{a, b, c} {
					if k == domain.OutcomeFlag && want == domain.VerdictAccepted {
						want = domain.VerdictFlagged
					}
					if k == domain.OutcomeReject {
						want = domain.VerdictRejected
					}
				}
				assert.Equal(t, want, v.Kind, "outcomes %s/%s/%s", a, b, c)
			}
		}
	}
}

func TestEngine_VerdictScenarios(t *testing.T) {
	engineWith := func(view domain.BudgetView) *Engine {
		return NewEngine(&countingLedger{view: view}, []Rule{
			&BudgetLimitRule{},
			NewAuthorizedVendorRule("", []string{"Acme Supplies"}),
			&AmountThresholdRule{Threshold: dec("5000")},
		}, testLogger())
	}

	t.Run("over budget is flagged", func(t *testing.T) {
		v := engineWith(allocationView("10000", "9500")).Evaluate(record("Acme Supplies", "700", "Marketing"))
		assert.Equal(t, domain.VerdictFlagged, v.Kind)
		assert.Equal(t, []string{"BudgetLimitRule: exceeds remaining budget by 200"}, v.Reasons)
	})

	t.Run("unauthorized vendor is rejected", func(t *testing.T) {
		v := engineWith(allocationView("10000", "0")).Evaluate(record("Acme Corp", "50", "Marketing"))
		assert.Equal(t, domain.VerdictRejected, v.Kind)
		require.Len(t, v.Reasons, 1)
		assert.Contains(t, v.Reasons[0], "AuthorizedVendorRule")
	})

	t.Run("well-formed record is accepted", func(t *testing.T) {
		v := engineWith(allocationView("5000", "0")).Evaluate(record("Acme Supplies", "300", "Marketing"))
		assert.Equal(t, domain.VerdictAccepted, v.Kind)
		assert.Empty(t, v.Reasons)
	})
}

func TestEngine_Reload(t *testing.T) {
	e := NewEngine(&countingLedger{}, []Rule{&recordingRule{name: "old", outcome: domain.OutcomeReject}}, testLogger())
	assert.Equal(t, domain.VerdictRejected, e.Evaluate(record("Globex", "1", "HR")).Kind)

	e.Reload([]Rule{&recordingRule{name: "new", outcome: domain.OutcomePass}})
	assert.Equal(t, []string{"new"}, e.Rules())
	assert.Equal(t, domain.VerdictAccepted, e.Evaluate(record("Globex", "1", "HR")).Kind)
}
