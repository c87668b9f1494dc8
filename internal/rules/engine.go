package rules

import (
	"sync/atomic"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/rs/zerolog"
)

// LedgerReader is the read side of the budget ledger the engine needs.
type LedgerReader interface {
	View(department, period, vendor string) domain.BudgetView
}

// Engine evaluates records against an ordered rule list.
type Engine struct {
	ledger LedgerReader
	rules  atomic.Pointer[[]Rule]
	log    zerolog.Logger
}

// NewEngine creates an engine over the given rules.
func NewEngine(ledger LedgerReader, rules []Rule, log zerolog.Logger) *Engine {
	e := &Engine{ledger: ledger, log: log}
	e.Reload(rules)
	return e
}

// Evaluate runs every rule, in order, against one ledger view read up
// front. It never stops early and never touches the ledger.
func (e *Engine) Evaluate(rec domain.TransactionRecord) domain.Verdict {
	rules := *e.rules.Load()
	view := e.ledger.View(rec.Department, rec.Period, rec.VendorName)

	outcomes := make([]domain.RuleOutcome, 0, len(rules))
	for _, r := range rules {
		outcomes = append(outcomes, r.Evaluate(rec, view))
	}

	v := domain.NewVerdict(outcomes)
	e.log.Debug().
		Str("record_id", rec.ID).
		Str("verdict", string(v.Kind)).
		Int("rules", len(rules)).
		Strs("reasons", v.Reasons).
		Msg("Record evaluated")
	return v
}

// Reload replaces the rule list. Evaluations already running keep the list
// they started with.
func (e *Engine) Reload(rules []Rule) {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	e.rules.Store(&cp)
	e.log.Info().Int("rules", len(cp)).Msg("Rule set loaded")
}

// Rules returns the names of the active rules in evaluation order.
func (e *Engine) Rules() []string {
	rules := *e.rules.Load()
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name()
	}
	return names
}
