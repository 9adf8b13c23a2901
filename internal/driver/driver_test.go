package driver

import (
	"bytes"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jedi132000/tcplatprobe/internal/config"
)

// Run talks to a live kernel object through internal/loader, so only the
// paths reachable before loader.Load is called are exercised here; the
// collect/export steps are covered by the unit tests in internal/collector
// and internal/exporter; internal/loader has no unit tests of its own.

func TestRunRejectsInvalidConfigBeforeTouchingTheKernel(t *testing.T) {
	cfg := config.Default()
	cfg.Format = "xml" // invalid, caught by cfg.Validate()

	var out bytes.Buffer
	err := Run(cfg, zap.NewNop(), &out)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitGenericError, exitErr.Code)
	require.Empty(t, out.Bytes(), "no output should be written on a config validation failure")
}

func TestRunMapsMissingObjectToLoadFailure(t *testing.T) {
	cfg := config.Default()
	cfg.BPFObjectPath = "/nonexistent/tcplat.o"

	var out bytes.Buffer
	err := Run(cfg, zap.NewNop(), &out)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	// RemoveMemlock runs before the object is even opened, so an
	// unprivileged test process may fail on capabilities first; either
	// failure mode belongs to the pre-collector load path.
	require.Contains(t, []int{ExitLoadOrAttachFailure, ExitPermissionFailure}, exitErr.Code)
}

func TestExitErrorUnwrapsToUnderlyingCause(t *testing.T) {
	underlying := errors.New("boom")
	err := fail(ExitGenericError, "wrapping: %w", underlying)

	require.ErrorIs(t, err, underlying)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitGenericError, exitErr.Code)
}

func TestFailClassifiesPermissionErrorsDistinctFromGenericLoadFailure(t *testing.T) {
	permErr := fail(ExitPermissionFailure, "load kernel object: %w", os.ErrPermission)
	genericErr := fail(ExitLoadOrAttachFailure, "load kernel object: %w", syscall.ENOENT)

	var permExit, genericExit *ExitError
	require.True(t, errors.As(permErr, &permExit))
	require.True(t, errors.As(genericErr, &genericExit))
	require.NotEqual(t, permExit.Code, genericExit.Code)
}
