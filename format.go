package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/quantfolio/advisor-go/internal/api"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// progressf prints an intermediate progress line to stderr. Progress lines
// are chatter, not results: they are suppressed when quiet, and when stderr
// is not a terminal unless verbose explicitly asks for them.
func progressf(format string, args ...any) {
	if flagQuiet {
		return
	}

	if !flagVerbose && !isatty.IsTerminal(os.Stderr.Fd()) {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// printJSON writes v as indented JSON, for --json output.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	// Compute column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header.
	printRow(w, headers, widths)

	// Print rows.
	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// Metric keys rendered with a percent sign.
var percentMetrics = map[string]bool{
	"expected_annual_return": true,
	"annual_volatility":      true,
	"max_drawdown":           true,
}

// renderOptimizationResult writes a human-readable summary of a completed
// optimization: the allocation table, portfolio metrics, and the generated
// analysis report when one is present.
func renderOptimizationResult(w io.Writer, r *api.OptimizationResult) {
	fmt.Fprintf(w, "Optimization %s (%s)\n", r.JobID, r.Status)

	if len(r.OptimalPortfolio) > 0 {
		fmt.Fprintf(w, "\nOptimal portfolio for %s %s:\n\n",
			formatAmount(r.InitialAmount), r.Currency)

		rows := make([][]string, 0, len(r.OptimalPortfolio))
		for _, a := range r.OptimalPortfolio {
			rows = append(rows, []string{
				a.Ticker,
				fmt.Sprintf("%.1f%%", a.Weight*100),
				formatAmount(a.Amount),
				fmt.Sprintf("%.2f", a.Shares),
				formatAmount(a.Price),
			})
		}

		printTable(w, []string{"TICKER", "WEIGHT", "AMOUNT", "SHARES", "PRICE"}, rows)
	}

	if len(r.Metrics) > 0 {
		fmt.Fprintf(w, "\nMetrics:\n")

		// Stable ordering for output.
		keys := make([]string, 0, len(r.Metrics))
		for k := range r.Metrics {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			if percentMetrics[k] {
				fmt.Fprintf(w, "  %-26s %.2f%%\n", k, r.Metrics[k]*100)
			} else {
				fmt.Fprintf(w, "  %-26s %.4f\n", k, r.Metrics[k])
			}
		}
	}

	if r.LLMReport != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(r.LLMReport))
	}
}

// formatAmount renders a monetary amount with two decimals.
func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
