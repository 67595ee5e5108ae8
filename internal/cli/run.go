package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tablesync/internal/controller"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/translate"
)

// shutdownTimeout bounds controller and metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// Switch is the switch connection the run command drives. *p4rt.Client
// implements it.
type Switch interface {
	controller.Switch
	Close() error
}

// pipelineInstaller is implemented by switches that can install a pipeline.
type pipelineInstaller interface {
	SetPipeline(ctx context.Context, info *p4_config_v1.P4Info, deviceConfig []byte, cookie uint64) error
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	Target       string
	DeviceID     uint64
	ElectionID   uint64
	P4Info       string
	DeviceConfig string
	Cookie       uint64
	DB           string

	Resync             bool
	DeleteOnRetraction bool
	Facts              []string

	Digest     bool
	DigestName string
	Bind       []string // digest=Relation

	MetricsAddr string

	// Dial connects to the switch. Defaults to p4rt.Dial.
	Dial func(target string, opts ...p4rt.Option) (Switch, error)

	// ready, if set, is called once the controller is serving.
	ready func()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(rootOpts, &RunOptions{})
}

func newRunCommand(rootOpts *RootOptions, opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Keep a switch's tables in sync with a rule program",
		Long: `Connect to a P4Runtime switch, become its primary controller, and keep
its tables in sync with the program's output relations.

Program state lives in --db and survives restarts. --resync pushes the
stored state to the switch on start, for a switch that restarted empty.
--facts files are applied in order before serving. With --digest, learn
digests from the switch become input facts.

Example:
  tablesync run l2.cue --target localhost:9559 --db ./tablesync.db \
    --p4info l2.p4info.txt --digest --bind learn_t=Learned`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(rootOpts, opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Target, "target", "localhost:9559", "P4Runtime server address")
	f.Uint64Var(&opts.DeviceID, "device-id", 0, "P4Runtime device id")
	f.Uint64Var(&opts.ElectionID, "election-id", p4rt.DefaultElectionID, "election id (low 64 bits)")
	f.StringVar(&opts.P4Info, "p4info", "", "install this P4Info before serving")
	f.StringVar(&opts.DeviceConfig, "device-config", "", "target-specific device config installed with --p4info")
	f.Uint64Var(&opts.Cookie, "cookie", 0, "pipeline cookie installed with --p4info")
	f.StringVar(&opts.DB, "db", "", "path to SQLite database (required)")
	f.BoolVar(&opts.Resync, "resync", false, "write the stored state to the switch on start")
	f.BoolVar(&opts.DeleteOnRetraction, "delete-on-retraction", false, "write retractions as DELETE")
	f.StringSliceVar(&opts.Facts, "facts", nil, "fact files to apply on start, in order")
	f.BoolVar(&opts.Digest, "digest", false, "subscribe to learn digests")
	f.StringVar(&opts.DigestName, "digest-name", "", "digest to subscribe to (default: the default digest id)")
	f.StringSliceVar(&opts.Bind, "bind", nil, "map a digest to an input relation, as digest=Relation")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runController(rootOpts *RootOptions, opts *RunOptions, programPath string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	logger := newLogger(rootOpts, formatter.ErrWriter)
	slog.SetDefault(logger)

	bindings, err := parseBindings(opts.Bind)
	if err != nil {
		return formatter.fail(ErrCodeGeneric, "invalid --bind", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("loading program", "path", programPath)
	spec, err := loadSpec(programPath)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to load program", err)
	}

	dial := opts.Dial
	if dial == nil {
		dial = func(target string, o ...p4rt.Option) (Switch, error) { return p4rt.Dial(target, o...) }
	}
	sw, err := dial(opts.Target,
		p4rt.WithDeviceID(opts.DeviceID),
		p4rt.WithElectionID(opts.ElectionID),
		p4rt.WithLogger(logger),
	)
	if err != nil {
		return formatter.fail(ErrCodeSwitch, "failed to connect", err)
	}
	defer sw.Close()

	if err := sw.MasterArbitration(ctx); err != nil {
		return formatter.fail(ErrCodeSwitch, "failed to become primary", err)
	}
	if opts.P4Info != "" {
		if err := installPipeline(ctx, sw, opts); err != nil {
			return formatter.fail(errorCode(err), "failed to install pipeline", err)
		}
	}

	eng, err := openEngine(ctx, spec, opts.DB, logger)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open engine", err)
	}
	if opts.Resync {
		if err := resync(ctx, eng, sw, opts.DeleteOnRetraction, logger); err != nil {
			stopEngine(eng, logger)
			return formatter.fail(ErrCodeSwitch, "failed to resync", err)
		}
	}

	ctrl := controller.New(eng, sw, controller.Options{
		Logger:             logger,
		DeleteOnRetraction: opts.DeleteOnRetraction,
		DigestName:         opts.DigestName,
		DigestBindings:     bindings,
	})
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := ctrl.Stop(stopCtx); err != nil {
			logger.Error("error stopping controller", "error", err)
		}
	}()

	for _, path := range opts.Facts {
		batch, err := loadFacts(path, eng)
		if err != nil {
			return formatter.fail(errorCode(err), "failed to load facts", err)
		}
		if err := ctrl.SubmitUpdates(ctx, batch); err != nil {
			_ = formatter.Failure(string(engine.CodeOf(err)), err.Error(), nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("fact file %s rejected", path), err)
		}
		logger.Info("facts applied", "path", path, "updates", len(batch), "seq", eng.Seq())
	}

	if opts.Digest {
		if err := ctrl.StartDigestStream(ctx); err != nil {
			return formatter.fail(ErrCodeSwitch, "failed to start digest stream", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, opts.MetricsAddr, logger) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ctrl.Done():
			return errors.New("controller stopped")
		}
	})

	logger.Info("controller serving", "target", opts.Target, "db", opts.DB, "digest", opts.Digest)
	fmt.Fprintln(formatter.Writer, "Controller running. Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready()
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "controller error", err)
	}
	if active, err := ctrl.DigestState(); !active && err != nil {
		logger.Warn("digest stream had failed", "error", err)
	}
	logger.Info("controller stopped gracefully")
	return nil
}

// stopEngine releases an engine the controller never took over.
func stopEngine(eng interface{ Stop() error }, logger *slog.Logger) {
	if err := eng.Stop(); err != nil {
		logger.Error("error stopping engine", "error", err)
	}
}

// parseBindings parses digest=Relation pairs.
func parseBindings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	bindings := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, rel, ok := strings.Cut(p, "=")
		if !ok || name == "" || rel == "" {
			return nil, fmt.Errorf("%q is not digest=Relation", p)
		}
		bindings[name] = rel
	}
	return bindings, nil
}

func installPipeline(ctx context.Context, sw Switch, opts *RunOptions) error {
	installer, ok := sw.(pipelineInstaller)
	if !ok {
		return errors.New("switch does not support pipeline installation")
	}
	info, _, err := loadPipeline(opts.P4Info)
	if err != nil {
		return err
	}
	var deviceConfig []byte
	if opts.DeviceConfig != "" {
		deviceConfig, err = os.ReadFile(opts.DeviceConfig)
		if err != nil {
			return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading device config: %v", err)}
		}
	}
	return installer.SetPipeline(ctx, info, deviceConfig, opts.Cookie)
}

// resync writes the stored output state to the switch as inserts.
func resync(ctx context.Context, eng *engine.Program, sw Switch, deleteOnRetraction bool, logger *slog.Logger) error {
	snapshot, err := eng.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snapshot.Len() == 0 {
		logger.Info("resync: stored state is empty")
		return nil
	}
	pl, err := sw.Pipeline(ctx)
	if err != nil {
		return err
	}
	tr := translate.New(translate.Options{Logger: logger, DeleteOnRetraction: deleteOnRetraction})
	writes, gaps := tr.Translate(snapshot, pl.Tables)
	if err := sw.Write(ctx, pl, writes); err != nil {
		return err
	}
	logger.Info("resync complete", "writes", len(writes), "gaps", len(gaps))
	return nil
}

// serveMetrics serves the default Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
