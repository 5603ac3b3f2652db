package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/executor"
	"github.com/wesleyorama2/volley/internal/history"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/output"
)

// executorHelp lists the executor types with a line on each.
func executorHelp() string {
	var sb strings.Builder
	sb.WriteString("Executors:\n")
	for _, t := range executor.Supported() {
		fmt.Fprintf(&sb, "  %-22s %s\n", t, executor.Describe(t))
	}
	return sb.String()
}

func executorNames() string {
	names := make([]string, 0, len(executor.Supported()))
	for _, t := range executor.Supported() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

type runOptions struct {
	configPath string
	quick      quickFlags

	jsonOut    bool
	outputPath string
	quiet      bool
	noColor    bool
	interval   time.Duration

	metricsAddr string

	noHistory   bool
	historyPath string
}

func newRunCommand(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or a single scenario built
from flags.

Config file mode:
  volley run -c test.yaml

Quick mode:
  volley run --url http://localhost:8080/health --executor ramping-vus \
    --stages "30s:10,2m:10,30s:0"

Arrival rate mode:
  volley run --url http://localhost:8080/health --executor constant-arrival-rate \
    --rate 100 --duration 5m --pre-allocated-vus 20 --max-vus 200

The exit status is 99 when a threshold fails.

` + executorHelp(),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "test configuration file (YAML or JSON)")
	f.StringVar(&opts.quick.url, "url", "", "target URL (quick mode)")
	f.StringVarP(&opts.quick.method, "method", "X", "GET", "HTTP method (quick mode)")
	f.StringVar(&opts.quick.executor, "executor", "", "executor type (quick mode): "+executorNames())
	f.IntVar(&opts.quick.vus, "vus", 0, "virtual users")
	f.Int64Var(&opts.quick.iterations, "iterations", 0, "iterations per VU (per-vu-iterations)")
	f.StringVar(&opts.quick.duration, "duration", "", "test duration, e.g. 30s")
	f.StringVar(&opts.quick.stages, "stages", "", `ramping stages, e.g. "30s:10,1m:10,30s:0"`)
	f.Float64Var(&opts.quick.rate, "rate", 0, "iterations per time unit (constant-arrival-rate)")
	f.Float64Var(&opts.quick.startRate, "start-rate", 0, "initial rate (ramping-arrival-rate)")
	f.StringVar(&opts.quick.timeUnit, "time-unit", "", "period the rate refers to (default 1s)")
	f.IntVar(&opts.quick.preAllocatedVUs, "pre-allocated-vus", 0, "workers started up front (arrival-rate)")
	f.IntVar(&opts.quick.maxVUs, "max-vus", 0, "worker pool cap (arrival-rate)")
	f.StringArrayVarP(&opts.quick.headers, "header", "H", nil, "request header 'Name: value' (repeatable)")
	f.StringArrayVar(&opts.quick.thresholds, "threshold", nil, "threshold 'metric:expression', e.g. http_req_duration:p(95)<500")

	f.BoolVar(&opts.jsonOut, "json", false, "print the result as JSON instead of the summary")
	f.StringVarP(&opts.outputPath, "output", "o", "", "also write the JSON result to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the verdict")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colors")
	f.DurationVar(&opts.interval, "interval", time.Second, "live progress refresh interval")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.BoolVar(&opts.noHistory, "no-history", false, "do not record the run in the history store")
	f.StringVar(&opts.historyPath, "history-db", "", "history store path (default ~/.volley/history.db)")

	cmd.MarkFlagsMutuallyExclusive("config", "url")
	return cmd
}

func (a *app) loadConfig(opts *runOptions) (*config.TestConfig, error) {
	switch {
	case opts.configPath != "":
		return config.LoadConfig(opts.configPath)
	case opts.quick.url != "":
		return buildQuickConfig(opts.quick)
	}
	return nil, fmt.Errorf("either --config or --url is required")
}

func (a *app) run(parent context.Context, opts *runOptions) error {
	cfg, err := a.loadConfig(opts)
	if err != nil {
		return withCode(ExitConfig, err)
	}

	collector := metrics.NewCollector()
	eng, err := engine.New(cfg, engine.WithLogger(a.logger), engine.WithCollector(collector))
	if err != nil {
		return withCode(ExitConfig, err)
	}

	if opts.metricsAddr != "" {
		srv, err := startMetricsServer(opts.metricsAddr, collector, a.logger)
		if err != nil {
			return withCode(ExitError, fmt.Errorf("metrics server: %w", err))
		}
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var console *output.Console
	if !opts.jsonOut {
		console = output.NewConsole(output.Config{Writer: a.out, Quiet: opts.quiet, NoColor: opts.noColor})
		name := cfg.Name
		if name == "" {
			name = "volley"
		}
		console.PrintHeader(name, eng.ID().String(), eng.Scenarios())
	}

	result, runErr := a.execute(ctx, eng, console, opts.interval)
	if result == nil {
		return withCode(ExitError, runErr)
	}
	if runErr != nil {
		a.logger.Error("run finished with error", zap.Error(runErr))
	}

	if opts.jsonOut {
		if err := writeJSON(a.out, result); err != nil {
			return withCode(ExitError, err)
		}
	} else {
		console.PrintSummary(result)
	}

	if opts.outputPath != "" {
		if err := writeJSONFile(opts.outputPath, result); err != nil {
			return withCode(ExitError, err)
		}
	}

	if !opts.noHistory {
		a.record(opts, result)
	}

	switch {
	case runErr != nil:
		return withCode(ExitError, runErr)
	case !result.Passed():
		return withCode(ExitThresholdFailed, nil)
	}
	return nil
}

// execute runs the engine while refreshing the live display.
func (a *app) execute(ctx context.Context, eng *engine.Engine, console *output.Console, interval time.Duration) (*engine.Result, error) {
	type outcome struct {
		res *engine.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := eng.Run(ctx)
		done <- outcome{res, err}
	}()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	maxVUs := eng.MaxVUs()
	for {
		select {
		case o := <-done:
			return o.res, o.err
		case <-ticker.C:
			if console != nil {
				console.Update(output.StatsFrom(eng.Snapshot(), eng.Progress(), maxVUs))
			}
		}
	}
}

func (a *app) record(opts *runOptions, result *engine.Result) {
	path := opts.historyPath
	if path == "" {
		p, err := history.DefaultPath()
		if err != nil {
			a.logger.Warn("history disabled", zap.Error(err))
			return
		}
		path = p
	}

	store, err := history.Open(path)
	if err != nil {
		a.logger.Warn("failed to open history", zap.String("path", path), zap.Error(err))
		return
	}
	defer store.Close()

	configPath := opts.configPath
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}
	if _, err := store.Save(configPath, result); err != nil {
		a.logger.Warn("failed to record run", zap.Error(err))
		return
	}
	a.logger.Info("run recorded", zap.String("id", result.ID), zap.String("path", path))
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func writeJSONFile(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	return writeJSON(f, v)
}
