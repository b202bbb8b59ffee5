// Command kazeguide generates weather commentary for a list of locations:
// a short weather comment and an advice comment each, selected from
// reference tables and checked against the numerical forecast.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kazeguide/pkg/batch"
	"kazeguide/pkg/cache"
	"kazeguide/pkg/comment"
	"kazeguide/pkg/config"
	"kazeguide/pkg/forecast"
	"kazeguide/pkg/llm"
	"kazeguide/pkg/llm/gemini"
	"kazeguide/pkg/location"
	"kazeguide/pkg/logging"
	"kazeguide/pkg/model"
	"kazeguide/pkg/pipeline"
	"kazeguide/pkg/store"
	"kazeguide/pkg/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("kazeguide", flag.ContinueOnError)
	var (
		configPath    = fs.String("config", "./config/config.yaml", "path to the config file")
		locationsFlag = fs.String("locations", "", "comma-separated location names, name:lat:lon triples, or @file")
		dateFlag      = fs.String("date", "", "target date YYYY-MM-DD (default tomorrow, JST)")
		providerFlag  = fs.String("provider", "", "LLM provider override (gemini, mock)")
		deterministic = fs.Bool("deterministic", false, "emit results in input order")
		prefetch      = fs.Bool("prefetch", false, "warm the forecast cache before the worker pool starts")
		historyFlag   = fs.Int("history", 0, "print the last N history entries and exit")
		versionFlag   = fs.Bool("version", false, "print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *versionFlag {
		fmt.Println("kazeguide", version.String())
		return nil
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanup, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer cleanup()
	slog.Info("kazeguide starting", "version", version.String())

	if *historyFlag > 0 {
		return printHistory(cfg.DB.Path, *historyFlag)
	}

	specs, err := locationSpecs(*locationsFlag)
	if err != nil {
		return err
	}
	targetDate, err := targetDate(*dateFlag)
	if err != nil {
		return err
	}
	if *providerFlag != "" {
		cfg.LLM.Provider = *providerFlag
	}
	if *deterministic {
		cfg.Batch.Deterministic = true
	}
	if *prefetch {
		cfg.Batch.PreFetch = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := cache.NewManager(cfg.Cache.MemoryLimitMB, time.Duration(cfg.Cache.MonitorInterval))
	mgr.Start(ctx)
	defer mgr.Close()

	locs, err := location.LoadCatalogue(cfg.Locations.Catalogue)
	if err != nil {
		return fmt.Errorf("failed to load location catalogue: %w", err)
	}
	idx := location.NewIndex(locs)

	fc := forecast.New(cfg.Forecast, mgr)
	repo := comment.NewRepository(cfg.Comments, mgr)

	selector, err := buildSelector(cfg.LLM)
	if err != nil {
		return err
	}

	exec := pipeline.NewExecutor(cfg.Pipeline, fc, repo, selector)
	exec.SetUnified(cfg.LLM.Unified)
	orch := batch.New(cfg.Batch, idx, exec, fc, cfg.LLM.Provider)

	fmt.Printf("Generating comments for %d locations (target %s)\n",
		len(specs), targetDate.Format("2006-01-02"))
	progress := func(completed, total int, name string) {
		fmt.Printf("  [%d/%d] %s\n", completed, total, name)
	}

	res := orch.Run(ctx, specs, targetDate, progress)
	printSummary(res)

	if db, err := store.Open(cfg.DB.Path); err != nil {
		slog.Warn("History: database unavailable, skipping persistence", "error", err)
	} else {
		if err := db.AppendBatch(res, targetDate); err != nil {
			slog.Warn("History: failed to persist batch", "error", err)
		}
		db.Close()
	}

	mgr.PersistSnapshot(cfg.Cache.SnapshotPath)

	// Per-location failures are data in the result, not a process error.
	if res.FailedCount > 0 {
		slog.Warn("Run finished with failures", "failed", res.FailedCount, "total", res.TotalCount)
	}
	return nil
}

// locationSpecs expands the -locations flag. Triples use colons on the
// command line (名古屋:35.18:136.91) so the commas can separate entries.
// "@path" reads one spec per line from path; blank lines and lines
// starting with # are skipped.
func locationSpecs(flagValue string) ([]string, error) {
	flagValue = strings.TrimSpace(flagValue)
	if flagValue == "" {
		return []string{"東京", "大阪", "名古屋", "札幌", "福岡"}, nil
	}

	entries := strings.Split(flagValue, ",")
	if rest, ok := strings.CutPrefix(flagValue, "@"); ok {
		data, err := os.ReadFile(rest)
		if err != nil {
			return nil, fmt.Errorf("failed to read locations file: %w", err)
		}
		entries = strings.Split(string(data), "\n")
	}

	var specs []string
	for _, raw := range entries {
		s := strings.TrimSpace(raw)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		specs = append(specs, strings.ReplaceAll(s, ":", ","))
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no usable entries in -locations %q", flagValue)
	}
	return specs, nil
}

// targetDate parses -date, defaulting to tomorrow in JST.
func targetDate(flagValue string) (time.Time, error) {
	if flagValue == "" {
		now := time.Now().In(model.JST)
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, model.JST), nil
	}
	t, err := time.ParseInLocation("2006-01-02", flagValue, model.JST)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad -date %q: %w", flagValue, err)
	}
	return t, nil
}

func buildSelector(cfg config.LLMConfig) (llm.Selector, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return &llm.Mock{}, nil
	case "gemini":
		return gemini.NewClient(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func printSummary(res *model.BatchResult) {
	fmt.Printf("\nRun %s: %d ok, %d failed, %d total (%.1fs)\n",
		res.RunID, res.SuccessCount, res.FailedCount, res.TotalCount,
		float64(res.ProcessingTimeMS)/1000.0)
	for _, lr := range res.Results {
		if lr.Success {
			fmt.Printf("  ✓ %s: %s / %s\n", lr.Location, lr.Comment, lr.AdviceComment)
		} else {
			fmt.Printf("  ✗ %s: %s (%s)\n", lr.Location, lr.ErrorMessage, lr.ErrorKind)
		}
	}
}

func printHistory(dbPath string, limit int) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	entries, err := db.RecentHistory(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history yet.")
		return nil
	}
	for _, e := range entries {
		status := "✓"
		detail := e.Comment
		if !e.Success {
			status = "✗"
			detail = e.ErrorMessage + " (" + e.ErrorKind + ")"
		}
		fmt.Printf("%s %s  %s  %s  %s\n",
			status, e.CreatedAt.Format("2006-01-02 15:04"), e.TargetDate, e.Location, detail)
	}
	return nil
}
