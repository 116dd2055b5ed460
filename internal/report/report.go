package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/contactkeval/option-iv/internal/engine"
)

const (
	JSONFile = "iv.json"
	CSVFile  = "iv.csv"
)

// csvRow is one flattened engine row. Numbers are pre-rendered so every
// column carries the same fixed precision.
type csvRow struct {
	Underlying string `csv:"underlying"`
	Type       string `csv:"type"`
	Strike     string `csv:"strike"`
	Expiry     string `csv:"expiry"`
	Years      string `csv:"years"`
	Spot       string `csv:"spot"`
	Price      string `csv:"price"`
	IV         string `csv:"iv"`
	Method     string `csv:"method"`
	Iterations int    `csv:"iterations"`
	Error      string `csv:"error"`
}

func WriteJSON(res *engine.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, JSONFile), b, 0644)
}

func WriteCSV(rows []engine.Row, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, CSVFile))
	if err != nil {
		return err
	}
	defer f.Close()

	out := make([]*csvRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, flatten(r))
	}
	if err := gocsv.MarshalFile(&out, f); err != nil {
		return fmt.Errorf("write %s: %w", CSVFile, err)
	}
	return nil
}

// WriteTable renders rows and the run summary as a terminal table.
func WriteTable(w io.Writer, res *engine.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Underlying", "Type", "Strike", "Expiry", "Spot", "Price", "IV", "Method", "Note"})
	table.SetAutoWrapText(false)
	for _, r := range res.Rows {
		row := flatten(r)
		table.Append([]string{row.Underlying, row.Type, row.Strike, row.Expiry, row.Spot, row.Price, row.IV, row.Method, row.Error})
	}
	table.Render()

	s := res.Summary
	fmt.Fprintf(w, "run %s: %d quotes, %d solved, %d unsolved, %d errored\n",
		res.RunID, s.Total, s.Solved, s.Unsolved, s.Errored)
	if s.Solved > 0 {
		fmt.Fprintf(w, "iv mean %s median %s min %s max %s\n",
			Fixed(s.MeanIV), Fixed(s.MedianIV), Fixed(s.MinIV), Fixed(s.MaxIV))
	}
}

// Fixed renders v with four decimal places.
func Fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

func flatten(r engine.Row) *csvRow {
	row := &csvRow{
		Underlying: r.Quote.Underlying,
		Type:       r.Quote.Type,
		Strike:     decimal.NewFromFloat(r.Quote.Strike).String(),
		Expiry:     r.Quote.Expiry,
		Years:      Fixed(r.Years),
		Spot:       Fixed(r.Quote.Spot),
		Price:      Fixed(r.Quote.Price),
		Method:     string(r.Solution.Method),
		Iterations: r.Solution.Iterations,
		Error:      r.Err,
	}
	if r.Solution.Found {
		row.IV = Fixed(r.Solution.Volatility)
	}
	if r.Err == "" && !r.Solution.Found {
		row.Error = "no solution"
	}
	return row
}
