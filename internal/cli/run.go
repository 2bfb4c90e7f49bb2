package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest/config"
	"github.com/wesleyorama2/ldload/internal/loadtest/engine"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
	"github.com/wesleyorama2/ldload/internal/loadtest/output"
	"github.com/wesleyorama2/ldload/internal/loadtest/report"
)

// ErrThresholdsFailed is returned by run when at least one threshold failed.
var ErrThresholdsFailed = errors.New("thresholds failed")

type runOptions struct {
	configFile string

	url         string
	method      string
	body        string
	headers     []string
	rate        float64
	timeUnit    string
	duration    string
	iterations  int64
	preAllocVUs int
	maxVUs      int
	overload    string
	statuses    []int

	vars        []string
	sequential  bool
	jsonPath    string
	csvPath     string
	metricsAddr string
	quiet       bool
	interval    time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or a single phase described by flags.

Config file mode:
  ldload run --config route-swap.yaml

Quick mode (one constant-arrival-rate phase):
  ldload run --url http://localhost:1026/version --rate 100 --duration 1m \
    --pre-allocated-vus 10 --max-vus 50 --status 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	f.StringVar(&opts.url, "url", "", "Target URL for quick mode")
	f.StringVarP(&opts.method, "method", "X", "GET", "HTTP method for quick mode")
	f.StringVarP(&opts.body, "body", "d", "", "Request body template for quick mode")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "Request header 'Name: value' for quick mode (repeatable)")
	f.Float64Var(&opts.rate, "rate", 0, "Iterations per time unit for quick mode")
	f.StringVar(&opts.timeUnit, "time-unit", "1s", "Period the rate refers to")
	f.StringVar(&opts.duration, "duration", "30s", "How long to dispatch iterations in quick mode")
	f.Int64Var(&opts.iterations, "iterations", 0, "Run a fixed number of iterations instead of a rate")
	f.IntVar(&opts.preAllocVUs, "pre-allocated-vus", 1, "Virtual users created up front")
	f.IntVar(&opts.maxVUs, "max-vus", 0, "Upper bound on virtual users (default pre-allocated-vus)")
	f.StringVar(&opts.overload, "overload", "drop", "What to do when every virtual user is busy: drop or wait")
	f.IntSliceVar(&opts.statuses, "status", nil, "Accepted status codes, e.g. 201,409")

	f.StringArrayVar(&opts.vars, "var", nil, "Template variable key=value (repeatable)")
	f.BoolVar(&opts.sequential, "sequential", false, "Run phases one after another in declaration order")
	f.StringVar(&opts.jsonPath, "json", "", "Write the run result as JSON to this file")
	f.StringVar(&opts.csvPath, "csv", "", "Write one CSV row per iteration to this file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print PASSED or FAILED")
	f.DurationVar(&opts.interval, "interval", time.Second, "Progress update interval")

	return cmd
}

// loadConfig reads the config file or builds one from the quick mode flags,
// then applies --var and --sequential.
func (o *runOptions) loadConfig() (*config.TestConfig, error) {
	var (
		cfg *config.TestConfig
		err error
	)
	switch {
	case o.configFile != "":
		cfg, err = config.LoadConfig(o.configFile)
	case o.url != "":
		cfg, err = o.quickConfig()
	default:
		return nil, errors.New("either --config or --url is required")
	}
	if err != nil {
		return nil, err
	}

	vars, err := parseVars(o.vars)
	if err != nil {
		return nil, err
	}
	cfg.Variables = config.MergeVariables(cfg.Variables, vars)

	if o.sequential {
		if cfg.Options == nil {
			cfg.Options = &config.ExecutionOptions{}
		}
		cfg.Options.Sequential = true
	}
	return cfg, nil
}

// quickConfig builds a single phase config from flags.
func (o *runOptions) quickConfig() (*config.TestConfig, error) {
	headers := make(map[string]string, len(o.headers))
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	req := &config.RequestConfig{
		Method:  o.method,
		URL:     o.url,
		Body:    o.body,
		Headers: headers,
	}
	if len(o.statuses) > 0 {
		codes := make([]string, len(o.statuses))
		for i, code := range o.statuses {
			codes[i] = strconv.Itoa(code)
		}
		req.Checks = []config.CheckConfig{{Type: "status", Condition: "in", Value: strings.Join(codes, ",")}}
	}

	sc := &config.ScenarioConfig{
		Name:    "default",
		Request: req,
	}
	if o.iterations > 0 {
		sc.Executor = "fixed-iterations"
		sc.Iterations = o.iterations
	} else {
		sc.Executor = "constant-arrival-rate"
		sc.Rate = o.rate
		sc.TimeUnit = o.timeUnit
		sc.Duration = o.duration
		sc.PreAllocatedVUs = o.preAllocVUs
		sc.MaxVUs = o.maxVUs
		sc.Overload = o.overload
	}

	return &config.TestConfig{
		Name:      "quick " + o.method + " " + o.url,
		Scenarios: config.Scenarios{sc},
	}, nil
}

// parseVars parses key=value pairs.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q (want key=value)", p)
		}
		vars[key] = value
	}
	return vars, nil
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	var sinks []metrics.SampleSink

	var csvSink *report.CSVSink
	if opts.csvPath != "" {
		csvSink, err = report.CreateCSVSink(opts.csvPath)
		if err != nil {
			return err
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
	}

	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			return err
		}
		sinks = append(sinks, collector)

		shutdown, err := serveMetrics(opts.metricsAddr, reg, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	eng, err := engine.NewEngine(cfg, engine.WithLogger(log), engine.WithSampleSink(sinks...))
	if err != nil {
		return err
	}
	defer eng.Close()

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName: cfg.Name,
		Writer:   cmd.OutOrStdout(),
		Quiet:    opts.quiet,
	})
	console.PrintHeader(cfg.Scenarios.Names())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result *engine.RunResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-ticker.C:
			stats := output.StatsFromEngine(eng)
			if console.IsTTY() {
				console.Update(stats)
			} else if !opts.quiet {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	if runErr != nil {
		return runErr
	}

	console.PrintSummary(result)

	if csvSink != nil {
		if err := csvSink.Close(); err != nil {
			return fmt.Errorf("failed to write CSV samples: %w", err)
		}
	}
	if opts.jsonPath != "" {
		if err := report.WriteJSON(result, opts.jsonPath); err != nil {
			return err
		}
	}

	if !result.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// serveMetrics exposes reg on addr and returns a function that stops the
// server.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
