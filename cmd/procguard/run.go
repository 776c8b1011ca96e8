package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/procguard/config"
	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/events"
	"github.com/vinayprograms/procguard/liveness"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/platform"
	"github.com/vinayprograms/procguard/shutdown"
	"github.com/vinayprograms/procguard/telemetry"
)

// exitSignaled is returned when procguard outlives its own tree
// termination, which only happens when the root could not be signalled.
const exitSignaled = 130

const flushTimeout = 2 * time.Second

func newRunCmd(ctx *cliContext) *cobra.Command {
	var watchParent bool

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command under supervision",
		Long: `Run a command as a supervised child.

On SIGINT or SIGTERM the child's task is cancelled and the whole process
tree, procguard included, is terminated. With --watch-parent procguard
exits as soon as its own parent goes away.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchParent {
				ctx.cfg.Liveness.Enabled = true
			}
			r := &runner{
				cfg:    ctx.cfg,
				logger: ctx.logger,
				caps:   platform.Current(),
			}
			return r.run(cmd.Context(), args)
		},
	}

	cmd.Flags().BoolVar(&watchParent, "watch-parent", false, "Exit when the parent process goes away")
	return cmd
}

// runner wires one supervised child run.
type runner struct {
	cfg    *config.Config
	logger *logging.Logger
	caps   platform.Capabilities

	// exit replaces os.Exit for the liveness monitor.
	exit func(int)
}

func (r *runner) run(ctx context.Context, argv []string) error {
	tracer, shutdownTracing := r.setupTracing(ctx)
	defer shutdownTracing()

	publisher := r.setupPublisher()
	defer publisher.Close()

	// Best effort: without a job object, descendants may outlive a hard kill.
	if err := r.caps.RegisterCascadingKill(r.logger); err != nil {
		r.logger.Debug("cascading kill unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sup := shutdown.New(
		shutdown.WithLogger(r.logger),
		shutdown.WithTracer(tracer),
		shutdown.WithPublisher(publisher),
	)
	if err := sup.HandleSignals(r.caps); err != nil {
		return err
	}
	defer r.caps.Release()

	if r.cfg.Liveness.Enabled {
		mon, err := r.startMonitor(ctx, sup, publisher)
		if err != nil {
			return err
		}
		defer mon.Stop()
	}

	child := &childProcess{argv: argv, tracer: tracer, logger: r.logger}
	task := sup.Tasks().Go("child:"+argv[0], child.run)

	select {
	case <-task.Done():
		// The child exited on its own; the tree is not torn down.
		code := child.exitCode()
		if err := task.Err(); err != nil && code < 0 {
			return err
		}
		switch {
		case code == 0:
			return nil
		case code < 0:
			// Killed by a signal outside procguard.
			return &exitError{code: 1}
		}
		return &exitError{code: code}

	case <-sup.Done():
		<-sup.Terminated()
		sup.Wait()
		// Still alive: the root was not ours to kill.
		return &exitError{code: exitSignaled}
	}
}

func (r *runner) setupTracing(ctx context.Context) (*telemetry.Tracer, func()) {
	if !r.cfg.Telemetry.Enabled {
		return telemetry.GetTracer(), func() {}
	}

	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    r.cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       r.cfg.Telemetry.Endpoint,
		Protocol:       r.cfg.Telemetry.Protocol,
		Insecure:       r.cfg.Telemetry.Insecure,
	})
	if err != nil {
		r.logger.Warn("tracing disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return telemetry.GetTracer(), func() {}
	}

	return provider.Tracer(), func() {
		sctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			r.logger.Debug("tracer shutdown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (r *runner) setupPublisher() events.Publisher {
	if r.cfg.Events.Backend != config.BackendNATS {
		return events.Noop{}
	}

	p, err := events.NewNATSPublisher(r.cfg.Events.NATS)
	if err != nil {
		r.logger.Warn("lifecycle events disabled", map[string]interface{}{
			"url":   r.cfg.Events.NATS.URL,
			"error": err.Error(),
		})
		return events.Noop{}
	}
	return p
}

func (r *runner) startMonitor(ctx context.Context, sup *shutdown.Supervisor, publisher events.Publisher) (*liveness.Monitor, error) {
	opts := []liveness.Option{
		liveness.WithLogger(r.logger),
		liveness.WithShutdown(sup.Done()),
		liveness.WithOnParentLost(func(loss liveness.Loss) {
			pctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()

			e := events.New(events.TypeParentLost).WithError(loss.Err).WithExitCode(loss.ExitCode)
			e.Supervisor = sup.ID()
			e.Target = loss.Parent
			if err := publisher.Publish(pctx, e); err != nil {
				return
			}
			if f, ok := publisher.(interface{ Flush(context.Context) error }); ok {
				_ = f.Flush(pctx)
			}
		}),
	}
	if r.exit != nil {
		opts = append(opts, liveness.WithExit(r.exit))
	}

	mon, err := liveness.New(r.cfg.Liveness.Config, opts...)
	if err != nil {
		return nil, err
	}
	if err := mon.Start(ctx); err != nil {
		return nil, err
	}
	return mon, nil
}

// childProcess runs the supervised command as a task.
type childProcess struct {
	argv   []string
	tracer *telemetry.Tracer
	logger *logging.Logger

	cmd *exec.Cmd
}

func (c *childProcess) run(ctx context.Context) error {
	ctx, span := c.tracer.StartSpan(ctx, "procguard.child")
	defer span.End()

	carrier := telemetry.EnvCarrier{}
	telemetry.InjectContext(ctx, carrier)

	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), carrier.Environ()...)
	c.cmd = cmd

	if err := cmd.Start(); err != nil {
		return pgerrors.Wrap(err, "starting "+c.argv[0])
	}
	c.logger.Info("child started", map[string]interface{}{
		"pid":     cmd.Process.Pid,
		"command": c.argv[0],
	})

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		c.logger.Info("child exited", map[string]interface{}{
			"pid":  cmd.Process.Pid,
			"code": cmd.ProcessState.ExitCode(),
		})
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is reported through exitCode.
			return nil
		}
		return err
	case <-ctx.Done():
		// The child belongs to the tree the gate terminates.
		return ctx.Err()
	}
}

// exitCode returns the child's exit code, or -1 if it has not exited.
func (c *childProcess) exitCode() int {
	if c.cmd == nil || c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}
