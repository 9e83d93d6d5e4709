// Command pyrrhus-server exposes the scheduling core over HTTP, the
// collaborator surface named in the external-interfaces contract: POST
// /api/run, POST /api/batch, GET /api/traces, and an SSE comparison stream.
// Grounded on the teacher's net/http mux pattern in services/orchestrator
// and services/audit-trail.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dpushkaran/Pyrrhus/internal/config"
	"github.com/dpushkaran/Pyrrhus/internal/evaluator"
	"github.com/dpushkaran/Pyrrhus/internal/logging"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/otelinit"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/run"
	"github.com/dpushkaran/Pyrrhus/internal/scheduler"
	"github.com/dpushkaran/Pyrrhus/internal/textmetrics"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
	"github.com/dpushkaran/Pyrrhus/internal/trace"
)

type server struct {
	engine *run.Engine
	sched  *scheduler.BatchScheduler
	store  trace.Store

	runCounter   metric.Int64Counter
	runErrors    metric.Int64Counter
	streamOpened metric.Int64Counter
}

func main() {
	service := "pyrrhus-server"
	logging.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)

	cfg, err := config.Load(os.Getenv("PYRRHUS_CONFIG_PATH"))
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	client := modelclient.NewHTTPClient(cfg.ModelEndpoint, os.Getenv(cfg.APIKeyEnvVar))
	judge := evaluator.New(client, cfg.DefaultJudgeModel, cfg.TierCatalog)

	var store trace.Store
	if dbPath := os.Getenv("PYRRHUS_TRACE_DB"); dbPath != "" {
		bs, err := trace.NewBoltStore(dbPath, otel.Meter(service))
		if err != nil {
			slog.Warn("trace store unavailable", "error", err)
		} else {
			store = bs
			defer bs.Close()
		}
	}

	engine := &run.Engine{Client: client, Evaluator: judge, Config: cfg, Store: store}
	meter := otel.Meter(service)
	sched := scheduler.NewBatchScheduler(engine, meter)
	sched.Start()
	defer sched.Stop()

	runCounter, _ := meter.Int64Counter("pyrrhus_server_runs_total")
	runErrors, _ := meter.Int64Counter("pyrrhus_server_run_errors_total")
	streamOpened, _ := meter.Int64Counter("pyrrhus_server_streams_opened_total")

	srv := &server{
		engine:       engine,
		sched:        sched,
		store:        store,
		runCounter:   runCounter,
		runErrors:    runErrors,
		streamOpened: streamOpened,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/run", srv.handleRun)
	mux.HandleFunc("/api/batch", srv.handleBatch)
	mux.HandleFunc("/api/traces", srv.handleTraces)
	mux.HandleFunc("/api/compare/stream", srv.handleCompareStream)

	httpSrv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started", "addr", httpSrv.Addr)
	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}

type runRequest struct {
	Task   string  `json:"task"`
	Budget float64 `json:"budget"`
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" || req.Budget <= 0 {
		http.Error(w, "task and budget are required", http.StatusBadRequest)
		return
	}
	outcome, err := s.engine.Execute(r.Context(), req.Task, req.Budget, run.ModeStatic)
	if err != nil {
		s.runErrors.Add(r.Context(), 1)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.runCounter.Add(r.Context(), 1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":      outcome.RunID,
		"deliverable": outcome.Deliverable,
		"graph":       outcome.Graph,
		"report":      outcome.Report,
	})
}

type batchRequest struct {
	Task        string    `json:"task"`
	Budgets     []float64 `json:"budgets"`
	Concurrency int       `json:"concurrency"`
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" || len(req.Budgets) == 0 {
		http.Error(w, "task and budgets are required", http.StatusBadRequest)
		return
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	results := s.sched.Sweep(r.Context(), req.Task, req.Budgets, run.ModeStatic, concurrency, 2*time.Second)
	summaries := make([]map[string]any, 0, len(results))
	for _, res := range results {
		summary := map[string]any{"budget": res.Budget}
		if res.Err != nil {
			summary["error"] = res.Err.Error()
		} else {
			summary["run_id"] = res.Outcome.RunID
			summary["report"] = res.Outcome.Report
		}
		summaries = append(summaries, summary)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaries)
}

func (s *server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "trace store not configured", http.StatusServiceUnavailable)
		return
	}
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		fmt.Sscanf(v, "%d", &offset)
	}
	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

// compareEvent is one item on the shared channel the pyrrhus and baseline
// sides of handleCompareStream feed concurrently; sideDone marks the side's
// goroutine finishing rather than carrying an SSE event of its own.
type compareEvent struct {
	event    string
	data     any
	sideDone string
	outcome  *run.Outcome
}

// handleCompareStream runs the static executor's deliverable alongside a
// baseline call (uncapped, unless mode=capped, which caps it at the Fast
// tier's default max tokens) on two goroutines racing against a shared event
// channel, interleaving named SSE events as each side produces them — plan,
// pyrrhus_chunk, pyrrhus_subtask_done, baseline_chunk, baseline_done,
// quality, text_metrics, done, error.
func (s *server) handleCompareStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	task := q.Get("task")
	mode := q.Get("mode")
	var budget float64
	fmt.Sscanf(q.Get("budget"), "%f", &budget)
	if task == "" || budget <= 0 {
		http.Error(w, "task and budget are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	s.streamOpened.Add(r.Context(), 1, metric.WithAttributes(attribute.String("mode", mode)))

	emit := func(event string, data any) {
		payload, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	ctx := r.Context()
	planner := plan.NewPlanner(s.engine.Client, s.engine.Config.DefaultPlannerModel)
	planResult, err := planner.Plan(ctx, task)
	if err != nil {
		emit("error", map[string]string{"message": err.Error()})
		return
	}
	emit("plan", planResult.Graph)

	events := make(chan compareEvent, 16)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		outcome, err := s.engine.Execute(ctx, task, budget, run.ModeStatic)
		if err != nil {
			events <- compareEvent{event: "error", data: map[string]string{"message": "pyrrhus: " + err.Error()}}
			events <- compareEvent{sideDone: "pyrrhus"}
			return
		}
		for _, sr := range outcome.Report.Results {
			events <- compareEvent{event: "pyrrhus_subtask_done", data: sr}
		}
		events <- compareEvent{event: "pyrrhus_chunk", data: map[string]string{"text": outcome.Deliverable}}
		events <- compareEvent{sideDone: "pyrrhus", outcome: &outcome}
	}()

	go func() {
		defer wg.Done()
		baselineMaxTokens := 0
		if mode == "capped" {
			baselineMaxTokens = s.engine.Config.TierCatalog.Spec(tier.Fast).DefaultMaxTokens
		}
		baseline, err := s.engine.Client.Generate(ctx, s.engine.Config.DefaultJudgeModel, task, modelclient.Options{MaxOutputTokens: baselineMaxTokens, Temperature: 0.7})
		if err != nil {
			events <- compareEvent{event: "error", data: map[string]string{"message": "baseline: " + err.Error()}}
		} else {
			events <- compareEvent{event: "baseline_chunk", data: map[string]string{"text": baseline.Text}}
			events <- compareEvent{event: "baseline_done", data: map[string]int{"tokens": baseline.PromptTokens + baseline.CompletionTokens}}
		}
		events <- compareEvent{sideDone: "baseline"}
	}()

	go func() {
		wg.Wait()
		close(events)
	}()

	var outcome *run.Outcome
	doneSides := make(map[string]bool, 2)
	for len(doneSides) < 2 {
		select {
		case ev, ok := <-events:
			if !ok {
				doneSides["pyrrhus"], doneSides["baseline"] = true, true
				break
			}
			if ev.sideDone != "" {
				doneSides[ev.sideDone] = true
				if ev.outcome != nil {
					outcome = ev.outcome
				}
				continue
			}
			emit(ev.event, ev.data)
		case <-time.After(120 * time.Second):
			emit("error", map[string]string{"message": "timeout waiting for results"})
			return
		}
	}

	if outcome == nil {
		emit("done", map[string]string{})
		return
	}
	if s.engine.Evaluator != nil {
		qs, err := s.engine.Evaluator.EvaluateDeliverable(ctx, task, outcome.Deliverable)
		if err == nil {
			emit("quality", qs)
		}
	}
	emit("text_metrics", textmetrics.Analyze(outcome.Deliverable))
	emit("done", map[string]string{"run_id": outcome.RunID})
}
