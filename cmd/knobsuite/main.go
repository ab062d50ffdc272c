package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/clock"
	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/metrics"
	"github.com/san-kum/knobsuite/internal/sim"
	"github.com/san-kum/knobsuite/internal/storage"
	"github.com/san-kum/knobsuite/internal/suite"
	"github.com/san-kum/knobsuite/internal/tui"
)

var (
	dataDir     string
	configFile  string
	preset      string
	backend     string
	modeName    string
	channels    int
	logLevel    string
	logDev      bool
	metricsAddr string
	seed        int64
	kp          float64
	ki          float64
	kd          float64
)

// env is what every command that touches knobs needs, built once in the
// root's PersistentPreRunE.
var env struct {
	cfg   *config.Config
	log   logr.Logger
	rec   *metrics.Recorder
	store *storage.Store
	mode  suite.Mode

	sync func()
	srv  *http.Server
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		teardown()
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, tui.Error("error: ")+err.Error())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "knobsuite",
		Short:             "closed-loop positioning for servo driven knobs",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { teardown() },
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".knobsuite", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "start from a named preset instead of the defaults")
	pf.StringVar(&backend, "backend", "sim", "knob backend: sim or i2c")
	pf.StringVar(&modeName, "mode", config.DefaultMode, "scheduling mode: sequential or interleaved")
	pf.IntVar(&channels, "channels", config.DefaultChannels, "number of knobs")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.BoolVar(&logDev, "log-dev", false, "human readable logs")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.Int64Var(&seed, "seed", 1, "random seed for the simulator and demo mode")
	pf.Float64Var(&kp, "kp", 0, "proportional gain")
	pf.Float64Var(&ki, "ki", 0, "integral gain")
	pf.Float64Var(&kd, "kd", 0, "derivative gain")

	rootCmd.AddCommand(
		runCmd(), simCmd(), stopCmd(), liveCmd(),
		experimentCmd(), demoCmd(), planCmd(), tuneCmd(),
		listCmd(), plotCmd(), analyzeCmd(), exportCmd(), presetsCmd(),
	)
	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	log, sync, err := newLogger(logLevel, logDev)
	if err != nil {
		return err
	}
	env.log = log
	env.sync = sync

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	env.cfg = cfg

	mode, err := suite.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	env.mode = mode
	env.store = storage.New(dataDir)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		env.rec = metrics.NewRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		env.srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := env.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.log.Error(err, "metrics server stopped", "addr", metricsAddr)
			}
		}()
		env.log.Info("serving metrics", "addr", metricsAddr)
	}
	return nil
}

func teardown() {
	if env.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = env.srv.Shutdown(ctx)
		cancel()
		env.srv = nil
	}
	if env.sync != nil {
		env.sync()
		env.sync = nil
	}
}

func newLogger(level string, dev bool) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	z, err := zc.Build()
	if err != nil {
		return logr.Discard(), nil, err
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}

// loadConfig layers the preset, the config file and finally any flag the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fault.Configf("unknown preset %q (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = modeName
	}
	if flags.Changed("channels") {
		cfg.Channels = channels
	}
	if flags.Changed("seed") {
		cfg.Experiment.Seed = seed
		cfg.Sim.Seed = seed
	}
	if flags.Changed("kp") {
		cfg.Knob.Gains.Kp = kp
	}
	if flags.Changed("ki") {
		cfg.Knob.Gains.Ki = ki
	}
	if flags.Changed("kd") {
		cfg.Knob.Gains.Kd = kd
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rig is an open backend, with a suite once build has run.
type rig struct {
	name  string
	drv   bus.Driver
	clk   clock.Clock
	bench *sim.Bench
	close func() error
	suite *suite.Suite
}

func openRig(name string) (*rig, error) {
	r := &rig{name: name, close: func() error { return nil }}
	switch name {
	case "sim":
		b, err := sim.NewBench(env.cfg.BenchConfig())
		if err != nil {
			return nil, err
		}
		r.drv, r.clk, r.bench = b, b, b
	case "i2c":
		d, err := bus.OpenI2C(env.cfg.Bus)
		if err != nil {
			return nil, err
		}
		r.drv, r.clk, r.close = d, clock.Wall{}, d.Close
	default:
		return nil, fault.Configf("unknown backend %q (want sim or i2c)", name)
	}
	return r, nil
}

func (r *rig) build(opts ...suite.Option) error {
	base := []suite.Option{
		suite.WithLogger(env.log.WithName("suite")),
		suite.WithMetrics(env.rec),
	}
	s, err := suite.Build(env.cfg, r.drv, r.clk, append(base, opts...)...)
	if err != nil {
		return err
	}
	r.suite = s
	env.log.V(1).Info("backend ready", "backend", r.name, "channels", s.Len(), "mode", env.mode.String())
	return nil
}

// shutdown parks every servo even when the command's context was
// cancelled, then releases the backend.
func (r *rig) shutdown() {
	if r.suite != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.suite.StopAll(ctx); err != nil {
			env.log.Error(err, "failed to stop servos")
		}
	}
	if err := r.close(); err != nil {
		env.log.Error(err, "failed to close backend")
	}
}

// openSuite opens backend name and builds a suite on it.
func openSuite(name string, opts ...suite.Option) (*rig, error) {
	r, err := openRig(name)
	if err != nil {
		return nil, err
	}
	if err := r.build(opts...); err != nil {
		r.shutdown()
		return nil, err
	}
	return r, nil
}
