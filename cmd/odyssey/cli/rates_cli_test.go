package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memstore"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newRatesCLI(t *testing.T) (*RatesCLI, *rates.Service) {
	t.Helper()
	svc := rates.NewService(memstore.New().Rates())
	cli, err := NewRatesCLI(svc)
	require.NoError(t, err)
	return cli, svc
}

func TestRatesValidateReportsGaps(t *testing.T) {
	cli, svc := newRatesCLI(t)
	require.NoError(t, svc.Set(context.Background(), rates.Rate{
		Currency: "USD", EffectiveOn: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Rate: dec("15000"),
	}))

	var stdout, stderr bytes.Buffer
	code := cli.ValidateCommand(context.Background(), RatesValidateOptions{
		Currencies: []string{"usd"},
		From:       "2025-03-01",
		To:         "2025-03-05",
		JSONOutput: true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.Equal(t, 10, code, stderr.String())

	var summary RatesValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, []RatesGap{{Currency: "USD", From: "2025-03-01", To: "2025-03-02", Days: 2}}, summary.Gaps)
}

func TestRatesValidateArguments(t *testing.T) {
	cli, _ := newRatesCLI(t)
	var stderr bytes.Buffer
	code := cli.ValidateCommand(context.Background(), RatesValidateOptions{From: "2025-03-01", To: "2025-03-02", Stderr: &stderr, Stdout: io.Discard})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--currency is required")

	stderr.Reset()
	code = cli.ValidateCommand(context.Background(), RatesValidateOptions{Currencies: []string{"USD"}, From: "2025-03-05", To: "2025-03-01", Stderr: &stderr, Stdout: io.Discard})
	require.Equal(t, 1, code)
}

func TestRatesImportApply(t *testing.T) {
	cli, svc := newRatesCLI(t)
	source := "currency,effective_on,rate\n# comment\nusd,2025-03-01,15000\nUSD,2025-03-01,15100\nEUR,2025-03-02,16500.5\n"

	var stdout, stderr bytes.Buffer
	code := cli.ImportCommand(context.Background(), RatesImportOptions{Mode: RatesImportModeDry, SourceReader: strings.NewReader(source), Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code, stderr.String())
	_, err := svc.Rate(context.Background(), "USD", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	stdout.Reset()
	code = cli.ImportCommand(context.Background(), RatesImportOptions{
		Mode:         RatesImportModeApply,
		SourceReader: strings.NewReader(source),
		JSONOutput:   true,
		Stdout:       &stdout,
		Stderr:       &stderr,
		Confirm:      func(io.Reader, io.Writer) (bool, error) { return true, nil },
	})
	require.Equal(t, 0, code, stderr.String())
	var summary RatesImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, 2, summary.Applied)
	require.Equal(t, "EUR", summary.Rows[0].Currency)

	rate, err := svc.Rate(context.Background(), "USD", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, rate.Equal(dec("15100")))
}

func TestRatesImportRejectsBadRows(t *testing.T) {
	cli, _ := newRatesCLI(t)
	var stderr bytes.Buffer
	code := cli.ImportCommand(context.Background(), RatesImportOptions{SourceReader: strings.NewReader("currency,effective_on,rate\nUSD,2025-03-01,0\n"), Stdout: io.Discard, Stderr: &stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "line 2")

	stderr.Reset()
	code = cli.ImportCommand(context.Background(), RatesImportOptions{SourceReader: strings.NewReader("currency,rate\nUSD,1\n"), Stdout: io.Discard, Stderr: &stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "effective_on")
}

func TestRatesImportCancelled(t *testing.T) {
	cli, _ := newRatesCLI(t)
	var stderr bytes.Buffer
	code := cli.ImportCommand(context.Background(), RatesImportOptions{
		Mode:         RatesImportModeApply,
		SourceReader: strings.NewReader("currency,effective_on,rate\nUSD,2025-03-01,15000\n"),
		Stdin:        strings.NewReader("no\n"),
		Stdout:       io.Discard,
		Stderr:       &stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "cancelled")
}
