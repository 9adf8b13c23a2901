// Command tcplatprobe is the Lifecycle Driver from spec §4.F: a one-shot
// daemon that loads the kernel probe, drains and aggregates its latency
// events for a bounded window, and exports the result. It is invoked as a
// subprocess by an external control plane, which reads the output file
// after the process exits (spec §6).
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jedi132000/tcplatprobe/internal/config"
	"github.com/jedi132000/tcplatprobe/internal/driver"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	explicit := map[string]bool{}
	var durationSecs int

	cmd := &cobra.Command{
		Use:   "tcplatprobe",
		Short: "Kernel-assisted TCP latency observability probe",
		Long: "tcplatprobe attaches to TCP send/receive kernel hooks, measures " +
			"per-connection round-trip latency below any sidecar or proxy, and " +
			"exports aggregated statistics as JSON, Prometheus text, or InfluxDB " +
			"line protocol.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().IntVar(&durationSecs, "duration", 0, "run duration in seconds (0 = run until cancelled)")
	cmd.Flags().StringVar(&cfg.OutputPath, "output", "", "output file path (default: standard output)")
	cmd.Flags().StringVar((*string)(&cfg.Format), "format", string(config.FormatJSON), "output format: json, prometheus, influx")
	cmd.Flags().Uint32Var(&cfg.SampleRate, "sample-rate", 1, "keep every Nth event (per CPU shard)")
	cmd.Flags().StringVar(&cfg.Interface, "interface", "", "network interface for the optional NIC-level hook")
	cmd.Flags().BoolVar(&cfg.Rollup, "rollup", false, "request kernel-side per-flow aggregation, suppressing per-event ring traffic")
	cmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "enable the periodic progress reporter")
	cmd.Flags().StringVar(&cfg.BPFObjectPath, "bpf-object", "tcplat.o", "path to the compiled kernel object")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cmd.Flags().Visit(func(f *pflag.Flag) { explicit[f.Name] = true })

		cfg.Duration = time.Duration(durationSecs) * time.Second
		if err := cfg.ApplyEnv(explicit); err != nil {
			return &driver.ExitError{Code: driver.ExitGenericError, Err: err}
		}

		logger, err := zap.NewProduction()
		if err != nil {
			return &driver.ExitError{Code: driver.ExitGenericError, Err: fmt.Errorf("build logger: %w", err)}
		}
		defer logger.Sync()

		return driver.Run(cfg, logger, os.Stdout)
	}

	if err := cmd.Execute(); err != nil {
		var exitErr *driver.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return driver.ExitGenericError
	}
	return driver.ExitOK
}
