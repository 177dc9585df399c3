package xlsx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

const sheetName = "Ledger"

// Exporter renders exportable documents as an XLSX workbook, one row per
// document, for import into the downstream accounting system.
type Exporter struct{}

func New() *Exporter {
	return &Exporter{}
}

var headers = []string{
	"Document ID", "Filename", "Vendor", "GL Accounts", "Mapping Confidence", "Extraction Cost",
}

func (e *Exporter) Write(_ context.Context, w io.Writer, docs []domain.Document) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("remove default sheet: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, doc := range docs {
		vendor, accounts, err := summarizeMapping(doc.Mapping)
		if err != nil {
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		values := []any{
			doc.ID,
			doc.Filename,
			vendor,
			strings.Join(accounts, "; "),
			doc.MappingConfidence,
			doc.ExtractionCost.String(),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("write cell: %w", err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// summarizeMapping pulls the vendor and the per-line-item GL codes out of the
// stored mapping document, ordered by line item index.
func summarizeMapping(raw json.RawMessage) (string, []string, error) {
	if len(raw) == 0 {
		return "", nil, nil
	}
	var mapping domain.MappingResult
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return "", nil, fmt.Errorf("unmarshal mapping: %w", err)
	}

	vendor := mapping.Fields["vendor_name"].Value

	type indexed struct {
		index int
		code  string
	}
	var items []indexed
	for name, field := range mapping.Fields {
		var idx int
		if _, err := fmt.Sscanf(name, "line_item_%d_gl_account", &idx); err == nil {
			items = append(items, indexed{index: idx, code: field.Value})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })

	accounts := make([]string, 0, len(items))
	for _, item := range items {
		accounts = append(accounts, item.code)
	}
	return vendor, accounts, nil
}
