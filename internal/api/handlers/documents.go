package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/api/middleware"
	"github.com/dvloznov/invoice-verifier/internal/gcsuploader"
	"github.com/dvloznov/invoice-verifier/internal/jobs"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxUploadBytes bounds uploaded document bodies.
	MaxUploadBytes = 20 << 20
	// MaxSubmitBytes bounds JSON request bodies.
	MaxSubmitBytes = 1 << 20
)

// Processor runs one submission through verification.
type Processor interface {
	Process(ctx context.Context, sub pipeline.Submission) (*pipeline.PipelineState, error)
}

// Uploader stores document bodies and returns their gs:// URI.
type Uploader interface {
	UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)
}

// DocumentsHandler handles document submission endpoints.
type DocumentsHandler struct {
	processor Processor
	publisher jobs.Publisher
	uploader  Uploader
	bucket    string
	log       zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler. uploader may be nil,
// which disables uploads.
func NewDocumentsHandler(processor Processor, publisher jobs.Publisher, uploader Uploader, bucket string, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		processor: processor,
		publisher: publisher,
		uploader:  uploader,
		bucket:    bucket,
		log:       log,
	}
}

// Submit handles POST /api/documents. The body is a submission with inline
// raw fields. With ?async=true the document is queued and 202 is returned.
func (h *DocumentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub pipeline.Submission
	if !decodeBody(w, r, &sub) {
		return
	}
	if len(sub.Fields) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "fields are required")
		return
	}
	if sub.Source == "" {
		sub.Source = "api"
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, &jobs.VerificationJob{Submission: sub})
		return
	}

	state, err := h.processor.Process(r.Context(), sub)
	if err != nil {
		h.log.Warn().Err(err).Str("document_id", state.DocumentID).Msg("Document verification failed")
	}
	middleware.WriteJSON(w, statusForState(state), state)
}

// EnqueueFromGCS handles POST /api/documents/gcs
func (h *DocumentsHandler) EnqueueFromGCS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		GCSURI     string `json:"gcs_uri"`
	}

	if !decodeBody(w, r, &req) {
		return
	}
	if req.GCSURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "gcs_uri is required")
		return
	}
	if _, _, err := gcsuploader.ParseGCSURI(req.GCSURI); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.enqueue(w, r, &jobs.VerificationJob{
		Submission: pipeline.Submission{DocumentID: req.DocumentID, Source: req.GCSURI},
		SourceURI:  req.GCSURI,
	})
}

// Upload handles POST /api/documents/upload?filename=invoice.pdf
// The body is stored in the configured bucket and queued for verification.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Uploads are not configured")
		return
	}

	filename := filepath.Base(r.URL.Query().Get("filename"))
	if filename == "" || filename == "." || filename == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".json":
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Only .pdf and .json documents are accepted")
		return
	}

	var body bytes.Buffer
	n, err := io.Copy(&body, io.LimitReader(r.Body, MaxUploadBytes+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if n > MaxUploadBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Document is too large")
		return
	}
	if n == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty document")
		return
	}

	documentID := uuid.NewString()
	object := fmt.Sprintf("uploads/%s/%s-%s", time.Now().UTC().Format("2006/01/02"), documentID, filename)
	gcsURI, err := h.uploader.UploadBytes(r.Context(), h.bucket, object, gcsuploader.ContentTypeFor(filename), body.Bytes())
	if err != nil {
		h.log.Error().Err(err).Str("object", object).Msg("Failed to upload document")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to upload document")
		return
	}

	h.log.Info().
		Str("document_id", documentID).
		Str("gcs_uri", gcsURI).
		Int64("bytes", n).
		Msg("Document uploaded")

	h.enqueue(w, r, &jobs.VerificationJob{
		Submission: pipeline.Submission{DocumentID: documentID, Source: gcsURI},
		SourceURI:  gcsURI,
	})
}

func (h *DocumentsHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.VerificationJob) {
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue verification job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue verification job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("document_id", job.Submission.DocumentID).
		Msg("Verification job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.JobID,
		"document_id": job.Submission.DocumentID,
		"status":      string(jobs.JobStatusPending),
	})
}

// decodeBody reads a size-limited JSON body into v, keeping numbers exact.
// It writes the error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxSubmitBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
			return false
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusForState maps a terminal pipeline state to an HTTP status.
func statusForState(state *pipeline.PipelineState) int {
	if state.Failure == nil {
		return http.StatusOK
	}
	switch state.Failure.Kind {
	case pipeline.FailureNormalization:
		return http.StatusUnprocessableEntity
	case pipeline.FailureAllocationNotFound:
		return http.StatusConflict
	case pipeline.FailureInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}
