package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
)

// RatesImportMode enumerates supported execution strategies.
type RatesImportMode string

const (
	// RatesImportModeDry previews parsed rates without writing.
	RatesImportModeDry RatesImportMode = "dry"
	// RatesImportModeApply persists rates after confirmation.
	RatesImportModeApply RatesImportMode = "apply"
)

// RatesImportOptions configures the import command.
type RatesImportOptions struct {
	Mode         RatesImportMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// RatesImportSummary captures the structured outcome.
type RatesImportSummary struct {
	Mode    RatesImportMode  `json:"mode"`
	Rows    []RatesImportRow `json:"rows"`
	Applied int              `json:"applied"`
}

// RatesImportRow is one parsed CSV row.
type RatesImportRow struct {
	Currency    string `json:"currency"`
	EffectiveOn string `json:"effective_on"`
	Rate        string `json:"rate"`
}

// ImportCommand loads currency,effective_on,rate rows from CSV and upserts them.
func (c *RatesCLI) ImportCommand(ctx context.Context, opts RatesImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	mode := RatesImportMode(strings.ToLower(string(opts.Mode)))
	if mode == "" {
		mode = RatesImportModeDry
	}
	if mode != RatesImportModeDry && mode != RatesImportModeApply {
		fmt.Fprintf(opts.Stderr, "rates import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	parsed, err := loadRates(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rates import: %v\n", err)
		return 1
	}
	summary := RatesImportSummary{Mode: mode, Rows: make([]RatesImportRow, len(parsed))}
	for i, r := range parsed {
		summary.Rows[i] = RatesImportRow{Currency: r.Currency, EffectiveOn: r.EffectiveOn.Format(time.DateOnly), Rate: r.Rate.String()}
	}
	if mode == RatesImportModeApply && len(parsed) > 0 {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultConfirm(fmt.Sprintf("Import %d exchange rate(s)?", len(parsed)))
		}
		ok, err := confirm(opts.Stdin, opts.Stdout)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "rates import: confirmation failed: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "rates import: cancelled by user")
			return 1
		}
		for _, r := range parsed {
			if err := c.store.Set(ctx, r); err != nil {
				fmt.Fprintf(opts.Stderr, "rates import: apply %s %s: %v\n", r.Currency, r.EffectiveOn.Format(time.DateOnly), err)
				return 1
			}
			summary.Applied++
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "rates import: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "Exchange rate import (%s): %d row(s), %d applied\n", summary.Mode, len(summary.Rows), summary.Applied)
	for _, row := range summary.Rows {
		fmt.Fprintf(opts.Stdout, " - %s %s %s\n", row.Currency, row.EffectiveOn, row.Rate)
	}
	return 0
}

func loadRates(opts RatesImportOptions) ([]rates.Rate, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--source is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	index := map[string]int{"currency": -1, "effective_on": -1, "rate": -1}
	for i, col := range records[0] {
		key := strings.ToLower(strings.TrimSpace(col))
		if key == "date" {
			key = "effective_on"
		}
		if _, ok := index[key]; ok {
			index[key] = i
		}
	}
	for col, i := range index {
		if i < 0 {
			return nil, fmt.Errorf("missing required column %q (need currency, effective_on, rate)", col)
		}
	}
	byKey := make(map[string]rates.Rate)
	for n, record := range records[1:] {
		line := n + 2
		if len(record) <= index["currency"] || len(record) <= index["effective_on"] || len(record) <= index["rate"] {
			return nil, fmt.Errorf("line %d: invalid record length", line)
		}
		currency := strings.ToUpper(strings.TrimSpace(record[index["currency"]]))
		if len(currency) != 3 {
			return nil, fmt.Errorf("line %d: invalid currency %q", line, currency)
		}
		on, err := time.Parse(time.DateOnly, strings.TrimSpace(record[index["effective_on"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, record[index["effective_on"]])
		}
		value, err := decimal.NewFromString(strings.TrimSpace(record[index["rate"]]))
		if err != nil || !value.IsPositive() {
			return nil, fmt.Errorf("line %d: rate must be a positive number", line)
		}
		byKey[currency+on.Format(time.DateOnly)] = rates.Rate{Currency: currency, EffectiveOn: on, Rate: value}
	}
	out := make([]rates.Rate, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency == out[j].Currency {
			return out[i].EffectiveOn.Before(out[j].EffectiveOn)
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}
