package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
)

// RateStore reads and writes exchange rates.
type RateStore interface {
	Rate(ctx context.Context, currency string, on time.Time) (decimal.Decimal, error)
	Set(ctx context.Context, rate rates.Rate) error
}

// RatesCLI offers operational helpers for the exchange rates foreign-cost postings use.
type RatesCLI struct {
	store RateStore
}

// NewRatesCLI constructs a new helper instance.
func NewRatesCLI(store RateStore) (*RatesCLI, error) {
	if store == nil {
		return nil, errors.New("rates cli: store required")
	}
	return &RatesCLI{store: store}, nil
}

const maxRangeDays = 366

func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(from))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q (expected YYYY-MM-DD)", from)
	}
	end, err := time.Parse(time.DateOnly, strings.TrimSpace(to))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q (expected YYYY-MM-DD)", to)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("--from must not be later than --to")
	}
	if end.Sub(start) > maxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("range exceeds %d days", maxRangeDays)
	}
	return start, end, nil
}

func defaultConfirm(prompt string) func(io.Reader, io.Writer) (bool, error) {
	return func(r io.Reader, w io.Writer) (bool, error) {
		fmt.Fprintf(w, "%s Type YES to confirm: ", prompt)
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
	}
}
