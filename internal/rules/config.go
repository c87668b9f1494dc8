package rules

import (
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount is a decimal that decodes from either a YAML number or string
// without passing through float64.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(n *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q", n.Line, n.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Decimal.String(), nil
}

// ContractDefinition is the YAML form of a Contract. Dates are YYYY-MM-DD.
type ContractDefinition struct {
	Vendor string `yaml:"vendor"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Active *bool  `yaml:"active,omitempty"`
}

// Definition is one rule entry of the configuration. Type selects the rule
// kind; the remaining fields are that kind's parameters.
type Definition struct {
	Type       string               `yaml:"type"`
	Name       string               `yaml:"name,omitempty"`
	Department string               `yaml:"department,omitempty"`
	Period     string               `yaml:"period,omitempty"`
	Limit      *Amount              `yaml:"limit,omitempty"`
	Threshold  *Amount              `yaml:"threshold,omitempty"`
	Vendor     string               `yaml:"vendor,omitempty"`
	Vendors    []string             `yaml:"vendors,omitempty"`
	IBANs      []string             `yaml:"ibans,omitempty"`
	RiskLevels map[string]string    `yaml:"risk_levels,omitempty"`
	Contracts  []ContractDefinition `yaml:"contracts,omitempty"`
}

// DefinitionError reports a rule definition that cannot be compiled.
type DefinitionError struct {
	Index int
	Type  string
	Msg   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("rule %d (%s): %s", e.Index+1, e.Type, e.Msg)
}

// canonicalType folds "BudgetLimitRule", "budget_limit" and
// "budget_limit_rule" onto one key.
func canonicalType(t string) string {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(t), "_", ""))
	return strings.TrimSuffix(s, "rule")
}

// Compile turns definitions into rules, preserving order. Any unknown type
// or missing parameter fails the whole set.
func Compile(defs []Definition) ([]Rule, error) {
	out := make([]Rule, 0, len(defs))
	for i, d := range defs {
		r, err := compileOne(d)
		if err != nil {
			return nil, &DefinitionError{Index: i, Type: d.Type, Msg: err.Error()}
		}
		out = append(out, r)
	}
	return out, nil
}

func compileOne(d Definition) (Rule, error) {
	switch canonicalType(d.Type) {
	case "budgetlimit":
		r := &BudgetLimitRule{RuleName: d.Name, Department: d.Department, Period: d.Period}
		if d.Limit != nil {
			if d.Limit.IsNegative() {
				return nil, fmt.Errorf("limit must not be negative")
			}
			limit := d.Limit.Decimal
			r.Limit = &limit
		}
		return r, nil

	case "authorizedvendor":
		if len(d.Vendors) == 0 {
			return nil, fmt.Errorf("vendors list is required")
		}
		return NewAuthorizedVendorRule(d.Name, d.Vendors), nil

	case "amountthreshold":
		if d.Threshold == nil {
			return nil, fmt.Errorf("threshold is required")
		}
		return &AmountThresholdRule{RuleName: d.Name, Threshold: d.Threshold.Decimal}, nil

	case "vendorlimit":
		if d.Limit == nil {
			return nil, fmt.Errorf("limit is required")
		}
		return &VendorLimitRule{RuleName: d.Name, Vendor: d.Vendor, Limit: d.Limit.Decimal}, nil

	case "authorizediban":
		if len(d.IBANs) == 0 {
			return nil, fmt.Errorf("ibans list is required")
		}
		return NewAuthorizedIBANRule(d.Name, d.IBANs), nil

	case "vendorrisk":
		levels := make(map[string]RiskLevel, len(d.RiskLevels))
		for vendor, raw := range d.RiskLevels {
			level := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
			switch level {
			case RiskLow, RiskMedium, RiskHigh:
			default:
				return nil, fmt.Errorf("vendor %q: unknown risk level %q", vendor, raw)
			}
			levels[vendor] = level
		}
		return NewVendorRiskRule(d.Name, levels), nil

	case "contractcoverage":
		contracts := make([]Contract, 0, len(d.Contracts))
		for _, cd := range d.Contracts {
			start, err := civil.ParseDate(cd.Start)
			if err != nil {
				return nil, fmt.Errorf("contract %q: invalid start %q", cd.Vendor, cd.Start)
			}
			end, err := civil.ParseDate(cd.End)
			if err != nil {
				return nil, fmt.Errorf("contract %q: invalid end %q", cd.Vendor, cd.End)
			}
			if end.Before(start) {
				return nil, fmt.Errorf("contract %q: end before start", cd.Vendor)
			}
			active := cd.Active == nil || *cd.Active
			contracts = append(contracts, Contract{Vendor: cd.Vendor, Start: start, End: end, Active: active})
		}
		return NewContractCoverageRule(d.Name, contracts), nil
	}
	return nil, fmt.Errorf("unknown rule type")
}

// ParseDefinitions decodes a YAML rule list. Both a bare list and a
// document with a top-level "rules" key are accepted.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var wrapped struct {
		Rules []Definition `yaml:"rules"`
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var defs []Definition
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
		return defs, nil
	}
	if err := root.Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return wrapped.Rules, nil
}

// ReadDefinitions reads a rule file without compiling it.
func ReadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseDefinitions(data)
}

// LoadFile reads and compiles a rule file.
func LoadFile(path string) ([]Rule, error) {
	defs, err := ReadDefinitions(path)
	if err != nil {
		return nil, err
	}
	return Compile(defs)
}
