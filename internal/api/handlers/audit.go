package handlers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/invoice-verifier/internal/api/middleware"
	"github.com/dvloznov/invoice-verifier/internal/audit"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/rs/zerolog"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEntry, error]
	Verify(ctx context.Context) (int, error)
	Summarize(ctx context.Context, filter domain.AuditFilter) (domain.AuditSummary, error)
}

// DepartmentResolver maps a department name or alias to its canonical name.
type DepartmentResolver interface {
	Resolve(department string) (string, bool)
}

// AuditHandler serves the audit trail.
type AuditHandler struct {
	audit       AuditReader
	departments DepartmentResolver
	log         zerolog.Logger
}

// NewAuditHandler creates a new audit handler. departments may be nil, in
// which case department filters match exactly.
func NewAuditHandler(audit AuditReader, departments DepartmentResolver, log zerolog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, departments: departments, log: log}
}

// Query handles GET /api/audit?department=&from=&to=&verdict=
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query(), h.departments)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := []domain.AuditEntry{}
	for e, err := range h.audit.Query(r.Context(), filter) {
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to query audit log")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to query audit log")
			return
		}
		entries = append(entries, e)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// Summary handles GET /api/summary with the same filters as Query.
func (h *AuditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query(), h.departments)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.audit.Summarize(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to summarize audit log")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to summarize audit log")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// Verify handles GET /api/audit/verify. A broken chain is reported with 409.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	n, err := h.audit.Verify(r.Context())
	var chainErr *audit.ChainError
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"valid":   true,
			"entries": n,
		})
	case errors.As(err, &chainErr):
		h.log.Error().Err(err).Msg("Audit chain verification failed")
		middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"valid":   false,
			"entries": n,
			"seq":     chainErr.Seq,
			"error":   chainErr.Reason,
		})
	default:
		h.log.Error().Err(err).Msg("Failed to read audit log")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read audit log")
	}
}

// parseAuditFilter reads the shared filter parameters. A known department
// is rewritten to its canonical name so that "marketing" or an alias finds
// the entries recorded under "Marketing".
func parseAuditFilter(q url.Values, departments DepartmentResolver) (domain.AuditFilter, error) {
	filter := domain.AuditFilter{Department: q.Get("department")}
	if filter.Department != "" && departments != nil {
		if canonical, ok := departments.Resolve(filter.Department); ok {
			filter.Department = canonical
		}
	}

	for _, p := range []struct {
		name string
		dst  **civil.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return filter, fmt.Errorf("invalid %s date %q, want YYYY-MM-DD", p.name, s)
		}
		*p.dst = &d
	}

	if v := q.Get("verdict"); v != "" {
		kind, err := domain.ParseVerdictKind(v)
		if err != nil {
			return filter, err
		}
		filter.Verdict = kind
	}
	return filter, nil
}
