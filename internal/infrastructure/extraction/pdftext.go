package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// PDFTextExtractor is the zero-cost local fallback used when no OCR service
// is configured. It pulls the embedded text layer out of a PDF; scanned
// documents without a text layer come back empty and fail mapping with a
// clear note instead of silently producing garbage.
type PDFTextExtractor struct {
	storage ports.ObjectStorage
}

func NewPDFTextExtractor(storage ports.ObjectStorage) *PDFTextExtractor {
	return &PDFTextExtractor{storage: storage}
}

type pdfTextPayload struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
	LineItems []any  `json:"line_items"`
}

func (e *PDFTextExtractor) Extract(ctx context.Context, storagePath string) (domain.ExtractionResult, error) {
	obj, err := e.storage.Open(ctx, storagePath)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open stored document: %w", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("read stored document: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("parse pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("extract pdf text: %w", err)
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("read pdf text: %w", err)
	}

	payload := pdfTextPayload{
		Text:      string(text),
		PageCount: reader.NumPage(),
		LineItems: []any{},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("marshal extraction payload: %w", err)
	}

	return domain.ExtractionResult{
		Data:      data,
		Method:    "pdf_text",
		TotalCost: decimal.Zero,
	}, nil
}
