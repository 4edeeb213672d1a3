// Package report renders sales reports as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BookSales is one row of the book sales sheet.
type BookSales struct {
	BookID    string
	Title     string
	Author    string
	Category  string
	Price     decimal.Decimal
	InStock   int
	UnitsSold int
	Revenue   decimal.Decimal
}

var bookSalesHeaders = []string{
	"Book ID", "Title", "Author", "Category", "Price", "In Stock", "Units Sold", "Revenue",
}

// WriteBookSales writes a workbook with a "Book Sales" sheet and a totals row.
func WriteBookSales(w io.Writer, rows []BookSales, generatedAt time.Time) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Book Sales")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range bookSalesHeaders {
		header.AddCell().SetString(h)
	}

	units := 0
	revenue := decimal.Zero
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.BookID)
		row.AddCell().SetString(r.Title)
		row.AddCell().SetString(r.Author)
		row.AddCell().SetString(r.Category)
		row.AddCell().SetFloatWithFormat(r.Price.InexactFloat64(), "0.00")
		row.AddCell().SetInt(r.InStock)
		row.AddCell().SetInt(r.UnitsSold)
		row.AddCell().SetFloatWithFormat(r.Revenue.InexactFloat64(), "0.00")
		units += r.UnitsSold
		revenue = revenue.Add(r.Revenue)
	}

	totals := sheet.AddRow()
	totals.AddCell().SetString("Total")
	for i := 0; i < 5; i++ {
		totals.AddCell()
	}
	totals.AddCell().SetInt(units)
	totals.AddCell().SetFloatWithFormat(revenue.InexactFloat64(), "0.00")

	sheet.AddRow()
	footer := sheet.AddRow()
	footer.AddCell().SetString("Generated at")
	footer.AddCell().SetString(generatedAt.UTC().Format(time.RFC3339))

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
