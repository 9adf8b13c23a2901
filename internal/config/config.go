// Package config holds the flat, explicit configuration for a tcplatprobe
// run. Flags and environment variables are read once in cmd/tcplatprobe and
// assembled into a Config value that is passed down the call graph — no
// global or layered configuration, per the design note in spec §9.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OutputFormat selects the exporter's rendering.
type OutputFormat string

const (
	FormatJSON       OutputFormat = "json"
	FormatPrometheus OutputFormat = "prometheus"
	FormatInflux     OutputFormat = "influx"
)

func (f OutputFormat) valid() bool {
	switch f {
	case FormatJSON, FormatPrometheus, FormatInflux:
		return true
	default:
		return false
	}
}

// Config is the complete invocation surface from spec §6.
type Config struct {
	Duration     time.Duration // 0 means "run until cancelled"
	OutputPath   string        // "" means write to stdout
	Format       OutputFormat
	SampleRate   uint32 // keep every Nth event per CPU; 1 = keep all
	Verbose      bool
	Interface    string // "" disables the XDP hook
	Rollup       bool
	BPFObjectPath string
}

// Default returns the zero-value-safe defaults matching spec §6.
func Default() Config {
	return Config{
		Format:        FormatJSON,
		SampleRate:    1,
		BPFObjectPath: "tcplat.o",
	}
}

// ApplyEnv overlays environment variables onto fields the caller left at
// their flag-parsed default, matching spec §6: "each overrides the
// corresponding flag when the flag is absent." explicit takes the set of
// flags the user actually passed on the command line so env never
// clobbers an explicit flag.
func (c *Config) ApplyEnv(explicit map[string]bool) error {
	if !explicit["duration"] {
		if v := os.Getenv("EBPF_PROBE_DURATION"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("EBPF_PROBE_DURATION: %w", err)
			}
			c.Duration = time.Duration(secs) * time.Second
		}
	}
	if !explicit["output"] {
		if v := os.Getenv("EBPF_PROBE_OUTPUT"); v != "" {
			c.OutputPath = v
		}
	}
	if !explicit["format"] {
		if v := os.Getenv("EBPF_PROBE_FORMAT"); v != "" {
			c.Format = OutputFormat(v)
		}
	}
	if !explicit["sample-rate"] {
		if v := os.Getenv("EBPF_PROBE_SAMPLE_RATE"); v != "" {
			rate, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("EBPF_PROBE_SAMPLE_RATE: %w", err)
			}
			c.SampleRate = uint32(rate)
		}
	}
	if !explicit["interface"] {
		if v := os.Getenv("EBPF_PROBE_INTERFACE"); v != "" {
			c.Interface = v
		}
	}
	return nil
}

// Validate checks the configuration errors spec §7 classifies as
// "Configuration": surfaced before load, exit code 1.
func (c Config) Validate() error {
	if !c.Format.valid() {
		return fmt.Errorf("unknown output format %q: want one of json, prometheus, influx", c.Format)
	}
	if c.SampleRate == 0 {
		return fmt.Errorf("sample rate must be >= 1")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must be >= 0")
	}
	if c.OutputPath != "" {
		f, err := os.OpenFile(c.OutputPath+".tcplatprobe-writecheck", os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("output path %q is not writable: %w", c.OutputPath, err)
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
	}
	return nil
}
