// Package driver implements the Lifecycle Driver from spec §4.F: parse →
// load → attach required/optional hooks → run the collector → export →
// detach → exit, mapping failures onto the exit codes in spec §6.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jedi132000/tcplatprobe/internal/collector"
	"github.com/jedi132000/tcplatprobe/internal/config"
	"github.com/jedi132000/tcplatprobe/internal/exporter"
	"github.com/jedi132000/tcplatprobe/internal/flowschema"
	"github.com/jedi132000/tcplatprobe/internal/loader"
)

// Exit codes from spec §6.
const (
	ExitOK                    = 0
	ExitGenericError          = 1
	ExitLoadOrAttachFailure   = 2
	ExitPermissionFailure     = 3
	ExitCancelled             = 130
)

// ExitError carries the process exit code a hard failure maps to.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func fail(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// Run executes one full probe invocation and returns an *ExitError whose
// Code matches spec §6, or nil on ExitOK. A run ended by a cancellation
// signal still writes its output and then returns Code ExitCancelled.
func Run(cfg config.Config, logger *zap.Logger, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fail(ExitGenericError, "invalid configuration: %w", err)
	}

	sigCtx, stopSignal := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignal()

	runCtx := sigCtx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(sigCtx, cfg.Duration)
		defer cancel()
	}

	ld, err := loader.Load(cfg.BPFObjectPath, logger)
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, os.ErrPermission) {
			return fail(ExitPermissionFailure, "load kernel object: %w", err)
		}
		return fail(ExitLoadOrAttachFailure, "load kernel object: %w", err)
	}
	defer func() {
		if err := ld.Close(); err != nil {
			logger.Warn("error releasing kernel resources", zap.Error(err))
		}
	}()

	if err := ld.SetRollupMode(cfg.Rollup); err != nil {
		return fail(ExitLoadOrAttachFailure, "configure rollup mode: %w", err)
	}

	for _, hook := range loader.RequiredHooks() {
		result, err := ld.Attach(hook)
		if err != nil {
			if errors.Is(err, syscall.EPERM) || errors.Is(err, os.ErrPermission) {
				return fail(ExitPermissionFailure, "attach required hook %q: %w", hook.ProgramName, err)
			}
			return fail(ExitLoadOrAttachFailure, "attach required hook %q: %w", hook.ProgramName, err)
		}
		logger.Info("required hook attached", zap.String("program", hook.ProgramName), zap.String("result", result.String()))
	}
	for _, hook := range loader.OptionalHooks() {
		result, _ := ld.Attach(hook)
		logger.Info("optional hook attach attempted", zap.String("program", hook.ProgramName), zap.String("result", result.String()))
	}
	if cfg.Interface != "" {
		result, mode, err := ld.AttachXDP(cfg.Interface)
		if err != nil {
			logger.Warn("xdp attach error, continuing without NIC-level hook", zap.Error(err))
		}
		logger.Info("xdp hook attach attempted", zap.String("result", result.String()), zap.String("mode", mode.String()))
	}

	var snapshot exporter.Snapshot
	start := time.Now()

	if cfg.Rollup {
		snapshot, err = runRollup(runCtx, ld, start)
	} else {
		snapshot, err = runStreaming(runCtx, ld, cfg, logger, start)
	}
	if err != nil {
		return fail(ExitGenericError, "collector run failed: %w", err)
	}

	if err := exporter.Write(snapshot, cfg.Format, cfg.OutputPath, stdout); err != nil {
		return fail(ExitGenericError, "export: %w", err)
	}

	if sigCtx.Err() != nil {
		return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("terminated by cancellation signal")}
	}
	return nil
}

func runStreaming(ctx context.Context, ld *loader.Loader, cfg config.Config, logger *zap.Logger, start time.Time) (exporter.Snapshot, error) {
	reader, err := loader.NewPerfRawReader(ld)
	if err != nil {
		return exporter.Snapshot{}, fmt.Errorf("open event reader: %w", err)
	}
	defer reader.Close()

	var reportInterval time.Duration
	if cfg.Verbose {
		reportInterval = 10 * time.Second
	}

	c := collector.New(reader, collector.Config{
		SampleRate:     cfg.SampleRate,
		ReportInterval: reportInterval,
	}, logger)

	agg, err := c.Run(ctx)
	if err != nil {
		return exporter.Snapshot{}, err
	}

	var selfStats *flowschema.SelfStats
	if s, err := ld.ReadSelfStats(); err != nil {
		logger.Warn("could not read self_stats map", zap.Error(err))
	} else {
		selfStats = &s
	}

	snap := exporter.NewSnapshot(agg, time.Since(start), selfStats)
	return snap, nil
}

// runRollup waits for the run window to end (ctx done: duration elapsed or
// cancellation), then builds a snapshot directly from the kernel-side
// PerFlowAgg rollup table instead of draining the event ring, per spec
// §4.B/§9's rollup-mode design note: percentiles are unavailable (no fine
// histogram without per-event timestamps) and are reported as zero.
func runRollup(ctx context.Context, ld *loader.Loader, start time.Time) (exporter.Snapshot, error) {
	<-ctx.Done()
	entries, err := ld.ReadPerFlowAgg()
	if err != nil {
		return exporter.Snapshot{}, fmt.Errorf("read per_flow_agg rollup: %w", err)
	}

	agg := collector.NewAggregate()
	for key, rollup := range entries {
		agg.ObserveRollup(key, rollup)
	}

	var selfStats *flowschema.SelfStats
	if s, err := ld.ReadSelfStats(); err == nil {
		selfStats = &s
	}

	return exporter.NewSnapshot(agg, time.Since(start), selfStats), nil
}
