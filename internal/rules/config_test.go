package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
rules:
  - type: BudgetLimitRule
    department: Marketing
  - type: authorized_vendor
    vendors: ["Acme Supplies", "Globex"]
  - type: AmountThresholdRule
    threshold: 5000
  - type: VendorLimitRule
    vendor: Globex
    limit: "25000.50"
  - type: AuthorizedIBANRule
    ibans: ["DE89 3704 0044 0532 0130 00"]
  - type: VendorRiskRule
    risk_levels:
      Globex: High
      Acme Supplies: low
  - type: ContractCoverageRule
    name: contracts
    contracts:
      - vendor: Acme Supplies
        start: "2024-01-01"
        end: "2024-12-31"
`

func TestParseAndCompile(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, defs, 7)
	assert.Equal(t, "5000", defs[2].Threshold.String())
	assert.Equal(t, "25000.5", defs[3].Limit.String())

	compiled, err := Compile(defs)
	require.NoError(t, err)
	require.Len(t, compiled, 7)

	names := make([]string, len(compiled))
	for i, r := range compiled {
		names[i] = r.Name()
	}
	assert.Equal(t, []string{
		"BudgetLimitRule", "AuthorizedVendorRule", "AmountThresholdRule",
		"VendorLimitRule", "AuthorizedIBANRule", "VendorRiskRule", "contracts",
	}, names)

	v := compiled[6].Evaluate(record("Acme Supplies", "1", "HR"), domain.BudgetView{})
	assert.Equal(t, domain.OutcomePass, v.Kind)
}

func TestParseDefinitions_BareList(t *testing.T) {
	defs, err := ParseDefinitions([]byte("- type: AmountThresholdRule\n  threshold: 10\n"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"unknown type", Definition{Type: "MoonPhaseRule"}},
		{"vendor list missing", Definition{Type: "AuthorizedVendorRule"}},
		{"threshold missing", Definition{Type: "AmountThresholdRule"}},
		{"vendor limit missing", Definition{Type: "VendorLimitRule"}},
		{"iban list missing", Definition{Type: "AuthorizedIBANRule"}},
		{"bad risk level", Definition{Type: "VendorRiskRule", RiskLevels: map[string]string{"Globex": "extreme"}}},
		{"bad contract date", Definition{Type: "ContractCoverageRule", Contracts: []ContractDefinition{{Vendor: "x", Start: "yesterday", End: "2024-01-01"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Definition{{Type: "AmountThresholdRule", Threshold: &Amount{}}, tt.def})
			var defErr *DefinitionError
			require.ErrorAs(t, err, &defErr)
			assert.Equal(t, 1, defErr.Index)
		})
	}
}

func TestParseDefinitions_InvalidAmount(t *testing.T) {
	_, err := ParseDefinitions([]byte("- type: AmountThresholdRule\n  threshold: lots\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	compiled, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, compiled, 7)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
