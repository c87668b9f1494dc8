package extract

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
)

// Fetcher downloads a document by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// PDFExtractor turns a PDF into raw fields.
type PDFExtractor interface {
	Extract(ctx context.Context, pdf []byte) (domain.RawFields, error)
}

// Source resolves document URIs to raw fields. JSON objects are decoded
// directly; PDFs go through the extractor.
type Source struct {
	fetcher   Fetcher
	extractor PDFExtractor
}

// NewSource creates a source. extractor may be nil, in which case PDFs
// are refused.
func NewSource(fetcher Fetcher, extractor PDFExtractor) *Source {
	return &Source{fetcher: fetcher, extractor: extractor}
}

// FetchRawFields downloads uri and returns its fields.
func (s *Source) FetchRawFields(ctx context.Context, uri string) (domain.RawFields, error) {
	data, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	return s.Decode(ctx, path.Base(uri), data)
}

// Decode interprets data by the extension of name.
func (s *Source) Decode(ctx context.Context, name string, data []byte) (domain.RawFields, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		if s.extractor == nil {
			return nil, fmt.Errorf("%s: PDF extraction is not configured", name)
		}
		return s.extractor.Extract(ctx, data)
	case ".json", "":
		return pipeline.DecodeRawFields(data)
	default:
		return nil, fmt.Errorf("%s: unsupported document type", name)
	}
}
