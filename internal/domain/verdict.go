package domain

import (
	"fmt"
	"strings"
)

// OutcomeKind is the result of a single rule evaluation.
type OutcomeKind string

const (
	OutcomePass   OutcomeKind = "pass"
	OutcomeFlag   OutcomeKind = "flag"
	OutcomeReject OutcomeKind = "reject"
)

// severity orders outcomes so that reject dominates flag dominates pass.
func (k OutcomeKind) severity() int {
	switch k {
	case OutcomeReject:
		return 2
	case OutcomeFlag:
		return 1
	default:
		return 0
	}
}

// RuleOutcome is what one rule said about one record.
type RuleOutcome struct {
	Rule   string      `json:"rule"`
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Pass builds a passing outcome for the named rule.
func Pass(rule string) RuleOutcome {
	return RuleOutcome{Rule: rule, Kind: OutcomePass}
}

// Flag builds an outcome that requests manual review.
func Flag(rule, reason string) RuleOutcome {
	return RuleOutcome{Rule: rule, Kind: OutcomeFlag, Reason: reason}
}

// Reject builds a rejecting outcome.
func Reject(rule, reason string) RuleOutcome {
	return RuleOutcome{Rule: rule, Kind: OutcomeReject, Reason: reason}
}

// VerdictKind is the aggregate decision for a record.
type VerdictKind string

const (
	VerdictAccepted VerdictKind = "accepted"
	VerdictFlagged  VerdictKind = "flagged"
	VerdictRejected VerdictKind = "rejected"
)

// Risk scores reported alongside each verdict kind.
const (
	RiskScoreAccepted = 0
	RiskScoreFlagged  = 50
	RiskScoreRejected = 100
)

// ParseVerdictKind accepts the lower-case names used on the wire,
// case-insensitively.
func ParseVerdictKind(s string) (VerdictKind, error) {
	switch VerdictKind(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictAccepted:
		return VerdictAccepted, nil
	case VerdictFlagged:
		return VerdictFlagged, nil
	case VerdictRejected:
		return VerdictRejected, nil
	}
	return "", fmt.Errorf("unknown verdict kind %q", s)
}

// Verdict aggregates every rule outcome for one record.
type Verdict struct {
	Kind      VerdictKind   `json:"kind"`
	Outcomes  []RuleOutcome `json:"outcomes"`
	Reasons   []string      `json:"reasons,omitempty"`
	RiskScore int           `json:"risk_score"`
}

// NewVerdict folds the outcomes, in evaluation order, into a verdict.
// Every non-passing outcome contributes a reason prefixed with its rule name.
func NewVerdict(outcomes []RuleOutcome) Verdict {
	worst := OutcomePass
	var reasons []string
	for _, o := range outcomes {
		if o.Kind.severity() > worst.severity() {
			worst = o.Kind
		}
		if o.Kind != OutcomePass {
			reasons = append(reasons, o.Rule+": "+o.Reason)
		}
	}

	v := Verdict{Outcomes: outcomes, Reasons: reasons}
	switch worst {
	case OutcomeReject:
		v.Kind, v.RiskScore = VerdictRejected, RiskScoreRejected
	case OutcomeFlag:
		v.Kind, v.RiskScore = VerdictFlagged, RiskScoreFlagged
	default:
		v.Kind, v.RiskScore = VerdictAccepted, RiskScoreAccepted
	}
	return v
}

// Accepted reports whether the verdict allows a ledger commit.
func (v Verdict) Accepted() bool {
	return v.Kind == VerdictAccepted
}
