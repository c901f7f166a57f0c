// Command captable is the operator CLI for cap table queries, snapshots and
// corporate actions. Results are printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"captable-indexer/internal/app"
	"captable-indexer/internal/config"
	"captable-indexer/internal/corporate"
	"captable-indexer/internal/domain"
	"captable-indexer/internal/logging"
	"captable-indexer/internal/reporting"
)

const usage = `usage: captable [-config path] <command> [flags]

commands:
  cap-table      -mint M [-height H] [-format json|csv|md]
  snapshot       create -mint M [-reason R] | get -mint M -height H | list -mint M [-limit N]
  concentration  -mint M
  history        -mint M [-limit N] [-offset N] [-from W] [-to W]
  split          -mint M -ratio N [-by W]
  symbol         -mint M -symbol S [-by W]
  actions        -mint M
`

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (env CAPTABLE_* overrides)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.Log.Level, "captable", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	err = dispatch(ctx, a, flag.Args(), os.Stdout)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("close resources", "error", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// dispatch runs one command and writes its JSON result to out.
func dispatch(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	engine := a.Engine()
	workflow := a.Workflow()

	switch cmd {
	case "cap-table":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		mint := fs.String("mint", "", "Security mint")
		height := fs.Int64("height", -1, "Block height for a historical table (omit for live)")
		format := fs.String("format", "json", "Output format: json, csv or md")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		f, err := reporting.ParseFormat(*format)
		if err != nil {
			return err
		}
		var h *int64
		if *height >= 0 {
			h = height
		}
		table, err := engine.ComputeCapTable(ctx, *mint, h)
		if err != nil {
			return err
		}
		if f == reporting.FormatJSON {
			return writeJSON(out, table)
		}
		report := &reporting.CapTableReport{Table: table}
		// Concentration is only defined over live balances.
		if f == reporting.FormatMarkdown && h == nil {
			if report.Concentration, err = engine.ConcentrationMetrics(ctx, *mint); err != nil {
				return err
			}
		}
		return reporting.Write(out, f, report)

	case "snapshot":
		return snapshot(ctx, a, rest, out)

	case "concentration":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		mint := fs.String("mint", "", "Security mint")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		m, err := engine.ConcentrationMetrics(ctx, *mint)
		if err != nil {
			return err
		}
		return writeJSON(out, m)

	case "history":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		q := domain.TransferQuery{}
		fs.StringVar(&q.Mint, "mint", "", "Security mint")
		fs.IntVar(&q.Limit, "limit", 0, "Page size")
		fs.IntVar(&q.Offset, "offset", 0, "Page offset")
		fs.StringVar(&q.FromWallet, "from", "", "Filter by sender")
		fs.StringVar(&q.ToWallet, "to", "", "Filter by recipient")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		page, err := engine.TransferHistory(ctx, q)
		if err != nil {
			return err
		}
		return writeJSON(out, page)

	case "split":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		p := corporate.SplitParams{}
		fs.StringVar(&p.Mint, "mint", "", "Source security mint")
		fs.Int64Var(&p.Ratio, "ratio", 0, "Split ratio")
		fs.StringVar(&p.ExecutedBy, "by", "", "Executing operator")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		res, err := workflow.ExecuteStockSplit(ctx, p)
		if res != nil {
			if werr := writeJSON(out, res); werr != nil {
				return werr
			}
		}
		return err

	case "symbol":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		p := corporate.SymbolChangeParams{}
		fs.StringVar(&p.Mint, "mint", "", "Security mint")
		fs.StringVar(&p.NewSymbol, "symbol", "", "New symbol")
		fs.StringVar(&p.ExecutedBy, "by", "", "Executing operator")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		rec, err := workflow.ChangeSymbol(ctx, p)
		if err != nil {
			return err
		}
		return writeJSON(out, rec)

	case "actions":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		mint := fs.String("mint", "", "Security mint")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		recs, err := workflow.ListActions(ctx, *mint)
		if err != nil {
			return err
		}
		return writeJSON(out, recs)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func snapshot(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: snapshot needs create, get or list", errUsage)
	}
	sub, rest := args[0], args[1:]
	engine := a.Engine()

	fs := flag.NewFlagSet("snapshot "+sub, flag.ContinueOnError)
	mint := fs.String("mint", "", "Security mint")
	reason := fs.String("reason", "manual", "Snapshot reason (create)")
	height := fs.Int64("height", -1, "Block height (get)")
	limit := fs.Int("limit", 0, "Maximum snapshots (list)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	switch sub {
	case "create":
		snap, err := engine.CreateSnapshot(ctx, *mint, *reason)
		if err != nil {
			return err
		}
		return writeJSON(out, snap)
	case "get":
		if *height < 0 {
			return fmt.Errorf("%w: -height is required", errUsage)
		}
		snap, err := engine.GetSnapshot(ctx, *mint, *height)
		if err != nil {
			return err
		}
		return writeJSON(out, snap)
	case "list":
		snaps, err := engine.ListSnapshots(ctx, *mint, *limit)
		if err != nil {
			return err
		}
		return writeJSON(out, snaps)
	default:
		return fmt.Errorf("%w: unknown snapshot command %q", errUsage, sub)
	}
}

var errUsage = errors.New("usage")

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, domain.ErrValidation):
		return 3
	case errors.Is(err, domain.ErrNotFound):
		return 4
	case errors.Is(err, domain.ErrPartialFailure):
		return 5
	default:
		return 1
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
