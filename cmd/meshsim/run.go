package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/mesh-simulator/internal/cli"
	"github.com/signalsfoundry/mesh-simulator/internal/config"
	"github.com/signalsfoundry/mesh-simulator/internal/controlapi"
	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/observability"
	"github.com/signalsfoundry/mesh-simulator/internal/pcap"
	"github.com/signalsfoundry/mesh-simulator/internal/replay"
	"github.com/signalsfoundry/mesh-simulator/internal/scenario"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/internal/web"
)

const shutdownTimeout = 5 * time.Second

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "", "Path to a YAML config file")
	f.String("speed", "", `Initial simulation speed factor or "max"`)
	f.Uint64("seed", 0, "Random seed")
	f.Bool("autogo", false, "Advance simulated time continuously")
	f.Int("radio-range", 0, "Default radio range of new nodes")
	f.String("grpc-addr", "", `gRPC control address ("" keeps the config value, "off" disables)`)
	f.String("web-addr", "", `Web status address ("" keeps the config value, "off" disables)`)
	f.String("pcap", "", "Write ping frames to this pcap file")
	f.String("replay-db", "", "Record visualization events to this SQLite file")
	f.String("scenario", "", "Load the initial node layout from this YAML or JSON file")
	f.Bool("no-cli", false, "Do not read commands from stdin")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.String("log-format", "", "Log format: text, json, console, zap")
}

// loadConfig layers defaults, the config file, MESHSIM_* variables and
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			if v == "off" {
				v = ""
			}
			*dst = v
		}
	}
	str("grpc-addr", &cfg.Control.GRPCAddr)
	str("web-addr", &cfg.Control.WebAddr)
	str("pcap", &cfg.Capture.PCAP)
	str("replay-db", &cfg.Capture.ReplayDB)
	str("scenario", &cfg.Scenario)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)

	if f.Changed("speed") {
		v, _ := f.GetString("speed")
		if cfg.Simulation.Speed, err = config.ParseSpeed(v); err != nil {
			return nil, fmt.Errorf("invalid --speed %q: %w", v, err)
		}
	}
	if f.Changed("seed") {
		cfg.Simulation.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("autogo") {
		cfg.Simulation.AutoGo, _ = f.GetBool("autogo")
	}
	if f.Changed("radio-range") {
		cfg.Radio.DefaultRange, _ = f.GetInt("radio-range")
	}
	if f.Changed("no-cli") {
		noCLI, _ := f.GetBool("no-cli")
		cfg.Control.CLI = !noCLI
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runSimulator(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	return a.run(ctx, in)
}

// app owns every long-lived piece of a simulator process.
type app struct {
	cfg *config.Config
	log logging.Logger
	out io.Writer

	engine   *sim.Engine
	control  *observability.ControlCollector
	runner   *cli.Runner
	web      *web.Server
	grpc     *grpc.Server
	grpcLis  net.Listener
	trace    *pcap.Trace
	store    *replay.Store
	recorder *replay.Recorder

	shutdownTracing func(context.Context) error

	// ready is closed once every listener is up.
	ready chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (_ *app, err error) {
	log := logging.New(cfg.LoggingConfig())
	a := &app{cfg: cfg, log: log, out: out, ready: make(chan struct{})}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if a.shutdownTracing, err = observability.InitTracing(ctx, cfg.Tracing, log); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	if a.control, err = observability.NewControlCollector(reg); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("init scheduler metrics: %w", err)
	}

	visualizers := []visualize.Visualizer{visualize.NewLogVisualizer(log.With(logging.String("component", "visualize")))}
	opts := []sim.Option{
		sim.WithLogger(log.With(logging.String("component", "sim"))),
		sim.WithMetricsRecorder(a.control),
		sim.WithSchedulerMetrics(schedMetrics),
	}

	if path := cfg.Capture.PCAP; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create pcap: %w", err)
		}
		a.trace = pcap.NewTrace(f)
		opts = append(opts, sim.WithFrameCapture(a.trace))
		log.Info(ctx, "capturing frames", logging.String("path", path))
	}

	if path := cfg.Capture.ReplayDB; path != "" {
		if a.store, err = replay.Open(ctx, path); err != nil {
			return nil, fmt.Errorf("open replay db: %w", err)
		}
		a.recorder, err = replay.NewRecorder(ctx, a.store, cfg.Simulation.StartTime, cfg.Simulation.Seed, cfg.Capture.ReplayLabel)
		if err != nil {
			return nil, fmt.Errorf("start replay session: %w", err)
		}
		visualizers = append(visualizers, a.recorder)
		log.Info(ctx, "recording replay session",
			logging.String("path", path),
			logging.String("session_id", a.recorder.SessionID()))
	}
	opts = append(opts, sim.WithVisualizer(visualize.NewMulti(visualizers...)))

	if a.engine, err = sim.New(cfg.SimConfig(), opts...); err != nil {
		return nil, err
	}

	var webURL func() (string, error)
	if cfg.Control.WebAddr != "" {
		a.web = web.NewServer(a.engine, a.control.Handler(), log.With(logging.String("component", "web")))
		webURL = func() (string, error) {
			if err := a.web.Start(cfg.Control.WebAddr); err != nil {
				return "", err
			}
			return a.web.URL()
		}
	}

	runnerOpts := []cli.Option{
		cli.WithLogger(log.With(logging.String("component", "cli"))),
		cli.WithCommandMetrics(a.control),
	}
	if webURL != nil {
		runnerOpts = append(runnerOpts, cli.WithWebURL(webURL))
	}
	a.runner = cli.NewRunner(a.engine, runnerOpts...)

	if cfg.Control.GRPCAddr != "" {
		var svcOpts []controlapi.ServiceOption
		if webURL != nil {
			svcOpts = append(svcOpts, controlapi.WithWebURL(webURL))
		}
		svc := controlapi.NewService(a.engine, log.With(logging.String("component", "controlapi")), svcOpts...)
		a.grpc = controlapi.NewServer(svc, log, a.control)
	}

	if cfg.Scenario != "" {
		sc, err := scenario.LoadFile(cfg.Scenario)
		if err != nil {
			return nil, err
		}
		if _, err := sc.Apply(ctx, a.engine, log); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// run serves until ctx is done, the CLI exits or a server fails, then
// shuts everything down.
func (a *app) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close(context.Background())

	if a.web != nil {
		if err := a.web.Start(a.cfg.Control.WebAddr); err != nil {
			return err
		}
	}
	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.Control.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen for gRPC on %s: %w", a.cfg.Control.GRPCAddr, err)
		}
		a.grpcLis = lis
		a.log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.grpc != nil {
		g.Go(func() error {
			if err := a.grpc.Serve(a.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Simulation.AutoGo {
		g.Go(func() error {
			return a.engine.AutoGo(gctx, a.cfg.Simulation.AutoGoStep)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info(context.Background(), "shutting down simulator")
		// Stopping the engine first releases any Go call an RPC is blocked in.
		a.engine.Stop()
		if a.grpc != nil {
			a.grpc.GracefulStop()
		}
		if a.web != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.web.Shutdown(shutdownCtx)
		}
		return nil
	})
	close(a.ready)

	// The CLI stays outside the group: a blocked stdin read must not hold
	// up shutdown.
	if a.cfg.Control.CLI {
		go func() {
			if err := a.runner.Serve(gctx, in, a.out, a.cfg.Control.Prompt); err != nil {
				a.log.Warn(gctx, "reading commands failed", logging.Err(err))
			}
			cancel()
		}()
	}

	return g.Wait()
}

// close releases the recordings, the tracer and the logger. It is safe to
// call on a partially built app.
func (a *app) close(ctx context.Context) {
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.trace != nil {
		if err := a.trace.Close(); err != nil {
			a.log.Warn(ctx, "closing pcap failed", logging.Err(err))
		} else if dropped := a.trace.Dropped(); dropped > 0 {
			a.log.Warn(ctx, "pcap dropped frames", logging.Int("dropped", int(dropped)))
		}
		a.trace = nil
	}
	if a.recorder != nil {
		if err := a.recorder.Flush(ctx); err != nil {
			a.log.Warn(ctx, "flushing replay events failed", logging.Err(err))
		}
		a.recorder = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn(ctx, "closing replay db failed", logging.Err(err))
		}
		a.store = nil
	}
	if a.shutdownTracing != nil {
		observability.ShutdownWithTimeout(ctx, a.shutdownTracing, a.log)
		a.shutdownTracing = nil
	}
	_ = logging.Sync(a.log)
}
