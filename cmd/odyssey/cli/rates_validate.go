package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RatesValidateOptions defines available flags for the rates validate command.
type RatesValidateOptions struct {
	Currencies []string
	From       string
	To         string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RatesValidateSummary describes the JSON response for rates validate.
type RatesValidateSummary struct {
	OK   bool       `json:"ok"`
	From string     `json:"from"`
	To   string     `json:"to"`
	Gaps []RatesGap `json:"gaps"`
}

// RatesGap is a run of days with no usable rate for a currency.
type RatesGap struct {
	Currency string `json:"currency"`
	From     string `json:"from"`
	To       string `json:"to"`
	Days     int    `json:"days"`
}

// ValidateCommand reports days a foreign-cost posting would fail for lack of a rate.
// It exits 10 when gaps exist.
func (c *RatesCLI) ValidateCommand(ctx context.Context, opts RatesValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.Currencies) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "rates validate: --currency is required")
		return 1
	}
	from, to, err := parseRange(opts.From, opts.To)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates validate: %v\n", err)
		return 1
	}
	summary := RatesValidateSummary{From: from.Format(time.DateOnly), To: to.Format(time.DateOnly), Gaps: []RatesGap{}}
	for _, raw := range opts.Currencies {
		currency := strings.ToUpper(strings.TrimSpace(raw))
		if currency == "" {
			continue
		}
		gaps, err := c.gaps(ctx, currency, from, to)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates validate: %s: %v\n", currency, err)
			return 1
		}
		summary.Gaps = append(summary.Gaps, gaps...)
	}
	summary.OK = len(summary.Gaps) == 0
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderValidateHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func (c *RatesCLI) gaps(ctx context.Context, currency string, from, to time.Time) ([]RatesGap, error) {
	var out []RatesGap
	var open *RatesGap
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		_, err := c.store.Rate(ctx, currency, day)
		if err != nil {
			if !errors.Is(err, shared.ErrValidation) {
				return nil, err
			}
			if open == nil {
				open = &RatesGap{Currency: currency, From: day.Format(time.DateOnly)}
			}
			open.To = day.Format(time.DateOnly)
			open.Days++
			continue
		}
		if open != nil {
			out = append(out, *open)
			open = nil
		}
	}
	if open != nil {
		out = append(out, *open)
	}
	return out, nil
}

func renderValidateHuman(out io.Writer, summary RatesValidateSummary) {
	_, _ = fmt.Fprintf(out, "Exchange rate coverage %s to %s\n", summary.From, summary.To)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All requested currencies have a rate on every day.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
	for _, gap := range summary.Gaps {
		_, _ = fmt.Fprintf(out, " - %s missing %s to %s (%d day(s))\n", gap.Currency, gap.From, gap.To, gap.Days)
	}
}
