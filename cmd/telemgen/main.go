package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/signalsfoundry/telemetry-generator/core"
	"github.com/signalsfoundry/telemetry-generator/internal/config"
	"github.com/signalsfoundry/telemetry-generator/internal/logging"
	"github.com/signalsfoundry/telemetry-generator/internal/observability"
	"github.com/signalsfoundry/telemetry-generator/internal/sink"
	"github.com/signalsfoundry/telemetry-generator/kb"
	"github.com/signalsfoundry/telemetry-generator/timectrl"
)

func main() {
	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(log).RunContext(ctx, os.Args); err != nil {
		log.Error(ctx, "telemgen failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func newApp(log logging.Logger) *cli.App {
	return &cli.App{
		Name:  "telemgen",
		Usage: "generate synthetic CoT and STANAG 4586 telemetry for simulated entities",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a scenario and deliver telemetry to its sink",
				ArgsUsage: "SCENARIO",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "scenario file; the first argument is used when unset",
						EnvVars: []string{"TELEMGEN_CONFIG"},
					},
					&cli.StringFlag{
						Name:    "metrics-addr",
						Usage:   "HTTP address for Prometheus /metrics; empty disables",
						EnvVars: []string{"TELEMGEN_METRICS_ADDR"},
					},
					&cli.DurationFlag{
						Name:  "duration",
						Usage: "override the scenario duration",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "override the number of refill workers",
					},
				},
				Action: func(c *cli.Context) error {
					path := scenarioPath(c)
					sc, err := config.Load(path)
					if err != nil {
						return err
					}
					if c.IsSet("duration") {
						sc.Duration = c.Duration("duration")
					}
					if c.IsSet("workers") {
						sc.Workers = c.Int("workers")
					}
					return runCommand(c.Context, sc, path, c.String("metrics-addr"), log)
				},
			},
			{
				Name:      "validate",
				Usage:     "check a scenario and build its entities without emitting",
				ArgsUsage: "SCENARIO",
				Action: func(c *cli.Context) error {
					sc, err := config.Load(scenarioPath(c))
					if err != nil {
						return err
					}
					entities, start, err := sc.BuildEntities(time.Now())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "ok: %d entities, start %s, sink %s\n",
						len(entities), start.Format(time.RFC3339), sc.Sink.Kind)
					return nil
				},
			},
			{
				Name:      "decode",
				Usage:     "decode captured CoT or STANAG 4586 output",
				ArgsUsage: "[FILE]",
				Action: func(c *cli.Context) error {
					var in io.Reader = os.Stdin
					if path := c.Args().First(); path != "" && path != "-" {
						f, err := os.Open(path)
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
					}
					data, err := io.ReadAll(in)
					if err != nil {
						return err
					}
					return decodeCapture(c.App.Writer, data)
				},
			},
		},
	}
}

func scenarioPath(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	if p := c.Args().First(); p != "" {
		return p
	}
	return "scenario.yaml"
}

// runCommand wires logging, tracing, metrics and the sink around one run. The
// run_id is attached here once; the orchestrator reuses it.
func runCommand(ctx context.Context, sc *config.Scenario, scenario, metricsAddr string, log logging.Logger) error {
	ctx, log = logging.WithRunLogger(ctx, log)

	tracing, err := observability.TracingConfigFromEnv()
	if err != nil {
		return err
	}
	shutdown, err := observability.InitTracing(ctx, tracing, observability.RunInfo{
		RunID:    logging.RunIDFromContext(ctx),
		Scenario: filepath.Base(scenario),
		Mode:     sc.ClockMode().String(),
		Sink:     string(sc.Sink.Kind),
		Entities: len(sc.Entities),
	}, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewCollector(reg)
	if err != nil {
		return err
	}
	sinkMetrics, err := observability.NewSinkCollector(reg)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out, err := sink.Open(ctx, sc.Sink)
	if err != nil {
		return err
	}
	s := sink.Instrument(out, sc.Sink.Kind, sinkMetrics, log)
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Warn(ctx, "sink close failed", logging.Err(cerr))
		}
	}()

	sum, err := runScenario(ctx, sc, s, collector, log, time.Now())
	log.Info(ctx, "scenario finished",
		logging.Any("emitted", sum.Emitted),
		logging.Any("dropped", sum.Dropped),
		logging.String("elapsed", sum.Elapsed.String()),
	)
	return err
}

type runSummary struct {
	Entities int
	Emitted  uint64
	Dropped  uint64
	Elapsed  time.Duration
}

// runScenario builds the scenario's entities and drives them into s. A
// cancelled ctx ends the run cleanly.
func runScenario(ctx context.Context, sc *config.Scenario, s core.Sink, metrics core.MetricsRecorder, log logging.Logger, now time.Time) (runSummary, error) {
	entities, start, err := sc.BuildEntities(now)
	if err != nil {
		return runSummary{}, err
	}
	policy, err := sc.ErrorPolicy()
	if err != nil {
		return runSummary{}, err
	}

	clock := timectrl.NewTimeController(start, sc.ClockMode())
	clock.Scale = sc.Scale

	orch := core.NewOrchestrator(s,
		core.WithWorkers(sc.Workers),
		core.WithLogger(log),
		core.WithMetrics(metrics),
		core.WithClock(clock),
		core.WithErrorPolicy(policy),
	)
	unsubscribe := orch.Registry().Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventSampleEmitted {
			return
		}
		log.Debug(ctx, "registry event",
			logging.String("event", ev.Type.String()),
			logging.String("entity", string(ev.Entity.Identity.ID)),
			logging.String("schema", ev.Entity.Schema),
			logging.Any("emitted", ev.Entity.Emitted),
		)
	})
	defer unsubscribe()

	for _, e := range entities {
		if err := orch.Add(e); err != nil {
			return runSummary{}, err
		}
	}

	log.Info(ctx, "scenario starting",
		logging.Int("entities", len(entities)),
		logging.String("mode", sc.ClockMode().String()),
		logging.String("start", start.Format(time.RFC3339)),
		logging.String("sink", string(sc.Sink.Kind)),
	)

	began := time.Now()
	err = orch.Run(ctx)
	sum := runSummary{
		Entities: len(entities),
		Emitted:  orch.Emitted(),
		Dropped:  orch.Dropped(),
		Elapsed:  time.Since(began),
	}
	if errors.Is(err, context.Canceled) {
		log.Info(ctx, "scenario interrupted")
		return sum, nil
	}
	return sum, err
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
