// Package api assembles the HTTP surface of the verifier.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/api/handlers"
	"github.com/dvloznov/invoice-verifier/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Documents *handlers.DocumentsHandler
	Jobs      *handlers.JobsHandler
	Audit     *handlers.AuditHandler
	Budgets   *handlers.BudgetsHandler
	Rules     *handlers.RulesHandler
	Activity  *handlers.ActivityHandler
}

// NewRouter registers every endpoint on a new mux.
func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	// Documents endpoints
	mux.HandleFunc("/api/documents", only(http.MethodPost, h.Documents.Submit))
	mux.HandleFunc("/api/documents/gcs", only(http.MethodPost, h.Documents.EnqueueFromGCS))
	mux.HandleFunc("/api/documents/upload", only(http.MethodPost, h.Documents.Upload))

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", only(http.MethodGet, h.Jobs.ListJobs))
	mux.HandleFunc("/api/jobs/", only(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	}))

	// Audit endpoints
	mux.HandleFunc("/api/audit", only(http.MethodGet, h.Audit.Query))
	mux.HandleFunc("/api/audit/verify", only(http.MethodGet, h.Audit.Verify))
	mux.HandleFunc("/api/summary", only(http.MethodGet, h.Audit.Summary))

	// Budget endpoints
	mux.HandleFunc("/api/budgets", only(http.MethodGet, h.Budgets.ListBudgets))
	mux.HandleFunc("/api/budgets/", only(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/budgets/"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Path must be /api/budgets/{department}/{period}")
			return
		}
		h.Budgets.GetBudget(w, r, parts[0], parts[1])
	}))

	// Rules endpoints
	mux.HandleFunc("/api/rules", only(http.MethodGet, h.Rules.ListRules))
	mux.HandleFunc("/api/rules/reload", only(http.MethodPost, h.Rules.Reload))

	// Live activity
	mux.HandleFunc("/api/activity", only(http.MethodGet, h.Activity.Stream))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}

// NewHandler wraps the router in the standard middleware chain.
func NewHandler(h Handlers, log zerolog.Logger, apiKey string) http.Handler {
	return middleware.Chain(NewRouter(h),
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.APIKey(apiKey),
	)
}

func only(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fn(w, r)
	}
}
