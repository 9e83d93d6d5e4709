package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/dpushkaran/Pyrrhus/internal/config"
	"github.com/dpushkaran/Pyrrhus/internal/errs"
	"github.com/dpushkaran/Pyrrhus/internal/evaluator"
	"github.com/dpushkaran/Pyrrhus/internal/logging"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/otelinit"
	"github.com/dpushkaran/Pyrrhus/internal/run"
	"github.com/dpushkaran/Pyrrhus/internal/scheduler"
	"github.com/dpushkaran/Pyrrhus/internal/trace"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	service := "pyrrhus"
	logging.Init(service)

	var (
		budget      = flag.Float64("budget", 0, "dollar budget for this task (overrides BUDGET_DOLLARS)")
		batch       = flag.Bool("batch", false, "sweep multiple budgets over the same task")
		budgetsCSV  = flag.String("budgets", "", "comma-separated budgets for --batch")
		concurrency = flag.Int("concurrency", 2, "max concurrent runs in --batch mode")
		dynamic     = flag.Bool("dynamic", false, "use the dynamic ROI executor instead of the static allocator")
		noEval      = flag.Bool("no-eval", false, "disable judge scoring of the deliverable")
		configPath  = flag.String("config", "", "path to a TOML config file")
		tracePath   = flag.String("trace", "", "path to a JSONL trace file (empty disables trace persistence)")
	)
	flag.Parse()

	task := strings.Join(flag.Args(), " ")
	if task == "" {
		fmt.Fprintln(os.Stderr, "usage: pyrrhus [flags] <task description>")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error(errs.ErrConfiguration.Error(), "error", err)
		return 1
	}
	if *budget > 0 {
		cfg.BudgetDollars = *budget
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)
	defer func() {
		otelinit.Flush(context.Background(), shutdownTrace)
		_ = shutdownMetrics(context.Background())
	}()
	tracer := otel.Tracer("pyrrhus/cmd")
	ctx, span := tracer.Start(ctx, "cmd.run")
	defer span.End()

	client := modelclient.NewHTTPClient(cfg.ModelEndpoint, os.Getenv(cfg.APIKeyEnvVar))
	var judge *evaluator.Evaluator
	if !*noEval {
		judge = evaluator.New(client, cfg.DefaultJudgeModel, cfg.TierCatalog)
	}

	var store trace.Store
	if *tracePath != "" {
		w, err := trace.NewJSONLWriter(*tracePath)
		if err != nil {
			slog.Warn("trace store unavailable, continuing without persistence", "error", err)
		} else {
			store = w
			defer w.Close()
		}
	}

	var bus *nats.Conn
	if url := os.Getenv("NATS_URL"); url != "" {
		if nc, err := nats.Connect(url); err == nil {
			bus = nc
			defer nc.Close()
		} else {
			slog.Warn("event bus connection failed, continuing without it", "error", err)
		}
	}

	engine := &run.Engine{
		Client:   client,
		Evaluator: judge,
		Config:   cfg,
		Store:    store,
		EventBus: bus,
		NoEval:   *noEval,
	}

	mode := run.ModeStatic
	if *dynamic {
		mode = run.ModeDynamic
	}

	if *batch {
		budgets, err := parseBudgets(*budgetsCSV)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		meter := otel.Meter(service)
		sched := scheduler.NewBatchScheduler(engine, meter)
		results := sched.Sweep(ctx, task, budgets, mode, *concurrency, 2*time.Second)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		failed := false
		for _, r := range results {
			if r.Err != nil {
				failed = true
				slog.Error("batch: run failed", "budget", r.Budget, "error", r.Err)
				continue
			}
			_ = enc.Encode(r.Outcome.Report)
		}
		if failed {
			return 1
		}
		return 0
	}

	outcome, err := engine.Execute(ctx, task, cfg.BudgetDollars, mode)
	if err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(outcome.Report)
	return 0
}

func parseBudgets(csv string) ([]float64, error) {
	fields := strings.Split(csv, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("cmd: invalid budget %q: %w", f, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cmd: --batch requires --budgets a,b,c,...")
	}
	return out, nil
}
