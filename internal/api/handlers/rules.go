package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/invoice-verifier/internal/api/middleware"
	"github.com/dvloznov/invoice-verifier/internal/rules"
	"github.com/rs/zerolog"
)

// RuleSet is the live rule list of the engine.
type RuleSet interface {
	Rules() []string
	Reload(rules []rules.Rule)
}

// RuleLoader reads the configured rule definitions again.
type RuleLoader func() ([]rules.Rule, error)

// RulesHandler lists and reloads rules.
type RulesHandler struct {
	engine RuleSet
	load   RuleLoader
	log    zerolog.Logger
}

// NewRulesHandler creates a new rules handler. load may be nil, in which
// case a reload must carry the definitions in its body.
func NewRulesHandler(engine RuleSet, load RuleLoader, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{engine: engine, load: load, log: log}
}

// ListRules handles GET /api/rules
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	names := h.engine.Rules()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": names,
		"count": len(names),
	})
}

// Reload handles POST /api/rules/reload. A YAML body replaces the rule set
// with its definitions; an empty body re-reads the configured rules.
func (h *RulesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var compiled []rules.Rule
	if len(bytes.TrimSpace(body)) > 0 {
		var defs []rules.Definition
		defs, err = rules.ParseDefinitions(body)
		if err == nil {
			compiled, err = rules.Compile(defs)
		}
	} else if h.load != nil {
		compiled, err = h.load()
	} else {
		middleware.WriteError(w, http.StatusBadRequest, "rule definitions are required")
		return
	}

	if err != nil {
		var defErr *rules.DefinitionError
		status := http.StatusInternalServerError
		if errors.As(err, &defErr) || len(body) > 0 {
			status = http.StatusBadRequest
		}
		h.log.Warn().Err(err).Msg("Rule reload rejected")
		middleware.WriteError(w, status, err.Error())
		return
	}

	h.engine.Reload(compiled)
	names := h.engine.Rules()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": names,
		"count": len(names),
	})
}
