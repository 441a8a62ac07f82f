// Package sheets handles the CSV round-trips operators use to manage the
// catalog: bulk cost overrides in, proposal and experiment reports out.
package sheets

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// CostOverride is one row of a cost-override import sheet.
type CostOverride struct {
	SKU  string
	Cost float64
}

// ReadCostOverrides parses a cost-override sheet. The expected format is a
// header row followed by "sku,cost" records; extra columns are ignored.
// Rows with a missing SKU or a non-positive cost are rejected with a
// row-numbered error so operators can fix the sheet.
func ReadCostOverrides(r io.Reader) ([]CostOverride, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("sheets: read header: %w", err)
	}
	skuIdx, costIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "sku":
			skuIdx = i
		case "cost":
			costIdx = i
		}
	}
	if skuIdx < 0 || costIdx < 0 {
		return nil, fmt.Errorf("sheets: header %v missing sku or cost column", header)
	}

	var overrides []CostOverride
	for rowNum := 2; ; rowNum++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sheets: row %d: %w", rowNum, err)
		}
		if len(record) <= skuIdx || len(record) <= costIdx {
			return nil, fmt.Errorf("sheets: row %d: too few columns", rowNum)
		}

		sku := strings.TrimSpace(record[skuIdx])
		if sku == "" {
			return nil, fmt.Errorf("sheets: row %d: empty sku", rowNum)
		}
		cost, err := strconv.ParseFloat(strings.TrimSpace(record[costIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("sheets: row %d: parse cost %q: %w", rowNum, record[costIdx], err)
		}
		if cost <= 0 {
			return nil, fmt.Errorf("sheets: row %d: cost %.4f must be > 0", rowNum, cost)
		}

		overrides = append(overrides, CostOverride{SKU: sku, Cost: cost})
	}
	return overrides, nil
}

// WriteProposals writes a proposal report sheet: one row per proposal with
// the price, floor, margin, score, and decision. String cells are escaped
// against formula injection.
func WriteProposals(w io.Writer, proposals []domain.PriceProposal) error {
	cw := csv.NewWriter(w)

	header := []string{
		"product_id", "price", "floor", "margin", "score",
		"decision", "clamped", "low_confidence", "competitors", "generated_at",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("sheets: write proposal header: %w", err)
	}

	for _, p := range proposals {
		row := []string{
			EscapeCell(p.ProductID),
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			strconv.FormatFloat(p.Floor, 'f', 4, 64),
			strconv.FormatFloat(p.Margin, 'f', 4, 64),
			strconv.FormatFloat(p.Score, 'f', 2, 64),
			string(p.Decision),
			strconv.FormatBool(p.Clamped),
			strconv.FormatBool(p.LowConfidence),
			strconv.Itoa(p.CompetitorCount),
			p.GeneratedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("sheets: write proposal row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("sheets: flush proposals: %w", err)
	}
	return nil
}

// WriteExperiments writes an experiment status sheet: one row per variant so
// conversion counters are visible without unpacking JSON.
func WriteExperiments(w io.Writer, experiments []domain.Experiment) error {
	cw := csv.NewWriter(w)

	header := []string{
		"experiment_id", "product_id", "status", "variant_id", "price",
		"weight", "impressions", "conversions", "conversion_rate", "winner",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("sheets: write experiment header: %w", err)
	}

	for _, e := range experiments {
		for _, v := range e.Variants {
			row := []string{
				EscapeCell(e.ID),
				EscapeCell(e.ProductID),
				string(e.Status),
				EscapeCell(v.ID),
				strconv.FormatFloat(v.Price, 'f', 2, 64),
				strconv.FormatFloat(v.Weight, 'f', 4, 64),
				strconv.FormatInt(v.Impressions, 10),
				strconv.FormatInt(v.Conversions, 10),
				strconv.FormatFloat(v.ConversionRate(), 'f', 4, 64),
				strconv.FormatBool(e.WinnerID == v.ID && e.WinnerID != ""),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("sheets: write experiment row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("sheets: flush experiments: %w", err)
	}
	return nil
}
