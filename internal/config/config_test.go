package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnvOverridesOnlyAbsentFlags(t *testing.T) {
	t.Setenv("EBPF_PROBE_DURATION", "30")
	t.Setenv("EBPF_PROBE_FORMAT", "prometheus")

	cfg := Default()
	cfg.Format = FormatInflux // explicitly set on the command line

	err := cfg.ApplyEnv(map[string]bool{"format": true})
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Duration, "duration had no explicit flag, env should win")
	require.Equal(t, FormatInflux, cfg.Format, "format was explicit, env must not override it")
}

func TestApplyEnvInvalidSampleRate(t *testing.T) {
	t.Setenv("EBPF_PROBE_SAMPLE_RATE", "not-a-number")
	cfg := Default()
	err := cfg.ApplyEnv(map[string]bool{})
	require.Error(t, err)
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	cfg := Default()
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroSampleRate(t *testing.T) {
	cfg := Default()
	cfg.SampleRate = 0
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWritableOutputPath(t *testing.T) {
	cfg := Default()
	cfg.OutputPath = filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnwritableOutputPath(t *testing.T) {
	cfg := Default()
	cfg.OutputPath = "/nonexistent-dir-for-test/out.json"
	require.Error(t, cfg.Validate())
}
