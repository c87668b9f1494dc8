// Package extract turns invoice documents into raw fields for the
// verification pipeline.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// contentGenerator is the part of genai.Models the extractor uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor reads invoice PDFs with Gemini.
type GeminiExtractor struct {
	models      contentGenerator
	model       string
	departments []string
	log         zerolog.Logger
}

// Options configures the Gemini client.
type Options struct {
	// Project and Location select Vertex AI; when empty the client is
	// configured from the GOOGLE_* environment variables.
	Project  string
	Location string
	Model    string
	// Departments are offered to the model as the allowed values.
	Departments []string
}

// NewGeminiExtractor creates a Gemini client.
func NewGeminiExtractor(ctx context.Context, opts Options, log zerolog.Logger) (*GeminiExtractor, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if opts.Project != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = opts.Project
		cfg.Location = opts.Location
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return newGeminiExtractor(client.Models, opts, log), nil
}

func newGeminiExtractor(models contentGenerator, opts Options, log zerolog.Logger) *GeminiExtractor {
	model := opts.Model
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{models: models, model: model, departments: opts.Departments, log: log}
}

// Extract sends the PDF to Gemini and returns the invoice fields it found.
// The result still has to pass normalization.
func (e *GeminiExtractor) Extract(ctx context.Context, pdf []byte) (domain.RawFields, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("extract: empty document")
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildInvoicePrompt(e.departments)},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdf,
					},
				},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("extract: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("extract: empty response from model")
	}

	fields, err := pipeline.DecodeRawFields([]byte(cleanModelJSON(rawText)))
	if err != nil {
		return nil, fmt.Errorf("extract: %w\nraw response: %s", err, rawText)
	}

	e.log.Debug().
		Str("model", e.model).
		Int("fields", len(fields)).
		Msg("Invoice fields extracted")
	return fields, nil
}

func buildInvoicePrompt(departments []string) string {
	var b strings.Builder
	b.WriteString("You are an accounts-payable assistant reading a vendor invoice PDF.\n\n" +
		"Task:\n" +
		"- Extract the invoice header and its line items.\n" +
		"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
		"- Output a single JSON object.\n\n" +
		"The object must have these fields:\n" +
		"- \"vendor_name\": string, the legal name of the issuer\n" +
		"- \"invoice_id\": string or null, the invoice number\n" +
		"- \"iban\": string or null, the payee IBAN without spaces\n" +
		"- \"amount\": number, the gross total to pay\n" +
		"- \"currency\": string, ISO 4217 code (e.g. \"EUR\")\n" +
		"- \"date\": string, the invoice date in ISO format \"YYYY-MM-DD\"\n" +
		"- \"department\": string or null, the ordering department\n" +
		"- \"line_items\": array of {\"description\": string, \"amount\": number}\n\n")

	if len(departments) > 0 {
		b.WriteString("Use ONLY one of the following departments, or null if none is named:\n")
		for _, d := range departments {
			b.WriteString("  - " + d + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Rules:\n" +
		"- Amounts are plain numbers with a dot as decimal separator and no currency symbol.\n" +
		"- Line item amounts must add up to \"amount\"; include taxes as their own line item.\n" +
		"- If a value cannot be determined, set it to null. Never guess an IBAN.\n\n" +
		"Return ONLY valid raw JSON.\n" +
		"Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"{\" and end with \"}\".\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding prose from a model
// response, keeping the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
