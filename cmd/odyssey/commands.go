package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const usage = `usage:
  odyssey                                   run the HTTP API
  odyssey jobs trigger <task> [--retention 72h]
  odyssey jobs stats
  odyssey jobs failed [--limit 10]
  odyssey rates validate --currency USD --from 2025-01-01 --to 2025-01-31 [--json]
  odyssey rates import --source rates.csv [--mode dry|apply] [--json]
`

// runCommand executes an operator subcommand and returns the process exit code.
func runCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "jobs":
		return runJobs(ctx, cfg, args[1], args[2:], stdout, stderr)
	case "rates":
		return runRates(ctx, cfg, args[1], args[2:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, sub string, args []string, stdout, stderr io.Writer) int {
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	switch sub {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		retention := fs.Duration("retention", cfg.IdempotencyRetention, "idempotency key retention")
		if len(args) == 0 {
			fmt.Fprint(stderr, usage)
			return 2
		}
		name := args[0]
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, name, *retention)
		if err != nil {
			fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s as %s\n", name, info.ID)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d processed_today=%d failed_today=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
		return 0
	case "failed":
		fs := flag.NewFlagSet("jobs failed", flag.ContinueOnError)
		fs.SetOutput(stderr)
		limit := fs.Int("limit", 10, "number of archived tasks")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		tasks, err := jobsCLI.ListFailed(ctx, *limit)
		if err != nil {
			fmt.Fprintf(stderr, "jobs failed: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			fmt.Fprintf(stdout, "%s %s retried=%d failed_at=%s err=%s\n",
				task.ID, task.Type, task.Retried, task.LastFailedAt.Format(time.RFC3339), task.LastErr)
		}
		return 0
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func runRates(ctx context.Context, cfg *app.Config, sub string, args []string, stdout, stderr io.Writer) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("odyssey-ledger-cli"), db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		fmt.Fprintf(stderr, "rates: %v\n", err)
		return 1
	}
	defer pool.Close()
	ratesCLI, err := cli.NewRatesCLI(rates.NewService(rates.NewRepository(pool)))
	if err != nil {
		fmt.Fprintf(stderr, "rates: %v\n", err)
		return 1
	}

	switch sub {
	case "validate":
		fs := flag.NewFlagSet("rates validate", flag.ContinueOnError)
		fs.SetOutput(stderr)
		currency := fs.String("currency", cfg.ForeignCostCurrency, "comma separated currencies")
		today := time.Now().UTC().Format(time.DateOnly)
		from := fs.String("from", today, "first day (YYYY-MM-DD)")
		to := fs.String("to", today, "last day (YYYY-MM-DD)")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return ratesCLI.ValidateCommand(ctx, cli.RatesValidateOptions{
			Currencies: strings.Split(*currency, ","),
			From:       *from,
			To:         *to,
			JSONOutput: *asJSON,
			Stdout:     stdout,
			Stderr:     stderr,
		})
	case "import":
		fs := flag.NewFlagSet("rates import", flag.ContinueOnError)
		fs.SetOutput(stderr)
		source := fs.String("source", "", "CSV file or - for stdin")
		mode := fs.String("mode", string(cli.RatesImportModeDry), "dry or apply")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return ratesCLI.ImportCommand(ctx, cli.RatesImportOptions{
			Mode:       cli.RatesImportMode(*mode),
			Source:     *source,
			JSONOutput: *asJSON,
			Stdout:     stdout,
			Stderr:     stderr,
		})
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}
