package classify

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/verte-labs/refillery/internal/model"
)

// ExportReport writes the price stats and kept/dropped rows to an xlsx
// workbook for analyst review.
func ExportReport(path string, stats []model.PriceStats, rows []ReportRow) error {
	file := xlsx.NewFile()

	statsSheet, err := file.AddSheet("price_stats")
	if err != nil {
		return eris.Wrap(err, "classify: add stats sheet")
	}
	header := statsSheet.AddRow()
	for _, h := range []string{"site", "category", "n", "p25", "p50", "p75", "p90", "currency"} {
		header.AddCell().Value = h
	}
	for _, s := range stats {
		row := statsSheet.AddRow()
		row.AddCell().Value = string(s.Site)
		row.AddCell().Value = s.Category
		row.AddCell().SetInt(s.N)
		row.AddCell().SetFloat(s.P25)
		row.AddCell().SetFloat(s.P50)
		row.AddCell().SetFloat(s.P75)
		row.AddCell().SetFloat(s.P90)
		row.AddCell().Value = s.Currency
	}

	reportSheet, err := file.AddSheet("kept_dropped")
	if err != nil {
		return eris.Wrap(err, "classify: add report sheet")
	}
	header = reportSheet.AddRow()
	for _, h := range []string{"status", "product_id", "brand", "name", "price", "currency", "brand_tier", "category", "reason"} {
		header.AddCell().Value = h
	}
	for _, r := range rows {
		row := reportSheet.AddRow()
		row.AddCell().Value = r.Status
		row.AddCell().Value = r.ProductID
		row.AddCell().Value = r.Brand
		row.AddCell().Value = r.Name
		row.AddCell().Value = fmt.Sprintf("%.2f", r.Price)
		row.AddCell().Value = r.Currency
		row.AddCell().Value = r.BrandTier
		row.AddCell().Value = r.Category
		row.AddCell().Value = r.Reason
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "classify: save report %s", path)
	}
	return nil
}
