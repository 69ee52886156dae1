package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/internal/portguard"
	"github.com/kumasuke/s3harness/internal/probe"
	"github.com/kumasuke/s3harness/internal/proc"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell and signals")
	}
}

// newTestProcess builds a process controller whose port check is a no-op.
func newTestProcess(t *testing.T) (*Process, *RunContext) {
	t.Helper()

	cfg := newTestConfig(t)
	cfg.Log = filepath.Join(t.TempDir(), "server.log")

	run := newTestRun(t, ModeProcess)
	c, err := NewProcess(cfg, run)
	require.NoError(t, err)

	c.log = testLogger()
	c.guard = func(int, bool) (*portguard.Occupant, error) { return nil, nil }
	return c, run
}

func TestProcessStartStop(t *testing.T) {
	requireUnix(t)

	c, run := newTestProcess(t)
	c.spawn = func(string, bool) (*proc.Child, error) {
		return proc.Spawn("sleep 60", false)
	}

	// Ready on the third poll, as a freshly started server behaves.
	var calls atomic.Int32
	c.doProbe = func(probe.Request) (*probe.Response, error) {
		if calls.Add(1) < 3 {
			return nil, &probe.ConnectionLostError{Err: errors.New("connection refused")}
		}
		return &probe.Response{Status: 200}, nil
	}

	require.NoError(t, c.Start(false))
	assert.True(t, c.IsRunning())
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 1, run.Registry.Len())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, run.Registry.Len())

	// Stopping again is a no-op, not an error.
	require.NoError(t, c.Stop())
}

func TestProcessStartServerDies(t *testing.T) {
	requireUnix(t)

	c, run := newTestProcess(t)
	c.spawn = func(string, bool) (*proc.Child, error) {
		return proc.Spawn("sleep 0.2", false)
	}
	c.doProbe = func(probe.Request) (*probe.Response, error) {
		return nil, &probe.ConnectionLostError{Err: errors.New("connection refused")}
	}

	err := c.Start(false)
	require.Error(t, err)

	var notStarted *ServerNotStartedError
	assert.ErrorAs(t, err, &notStarted)
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, c.IsRunning())
	assert.Equal(t, 0, run.Registry.Len())
}

func TestProcessStartNotReadyStatus(t *testing.T) {
	requireUnix(t)

	c, run := newTestProcess(t)
	c.spawn = func(string, bool) (*proc.Child, error) {
		return proc.Spawn("sleep 60", false)
	}
	c.doProbe = func(probe.Request) (*probe.Response, error) {
		return &probe.Response{Status: 503}, nil
	}

	err := c.Start(false)
	require.Error(t, err)

	var runtimeErr *FrameworkRuntimeError
	assert.ErrorAs(t, err, &runtimeErr)
	assert.Contains(t, err.Error(), "status = 503")
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, c.IsRunning())
	assert.Equal(t, 0, run.Registry.Len())
}

func TestProcessStartSpawnFails(t *testing.T) {
	c, run := newTestProcess(t)
	c.spawn = func(string, bool) (*proc.Child, error) {
		return nil, errors.New("no such file or directory")
	}

	err := c.Start(false)
	require.Error(t, err)

	var invocation *CommandInvocationError
	assert.ErrorAs(t, err, &invocation)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, 0, run.Registry.Len())
}

func TestProcessStartPortCheckFails(t *testing.T) {
	c, _ := newTestProcess(t)
	c.guard = func(int, bool) (*portguard.Occupant, error) {
		return &portguard.Occupant{PID: 1}, errors.New("pid 1 survived SIGKILL")
	}

	err := c.Start(false)
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
}

func TestProcessFastStartSkipsReadiness(t *testing.T) {
	requireUnix(t)

	c, _ := newTestProcess(t)
	c.spawn = func(string, bool) (*proc.Child, error) {
		return proc.Spawn("sleep 60", false)
	}
	c.doProbe = func(probe.Request) (*probe.Response, error) {
		t.Fatal("fast start must not probe")
		return nil, nil
	}

	require.NoError(t, c.Start(true))
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Stop())
}

func TestProcessBackgroundPidHandoff(t *testing.T) {
	requireUnix(t)

	daemon, err := proc.Spawn("sleep 60", false)
	require.NoError(t, err)
	defer func() { _ = daemon.Kill() }()

	c, run := newTestProcess(t)
	c.cfg.Background = true
	c.spawn = func(string, bool) (*proc.Child, error) {
		// A daemonizing server: the launcher prints the daemon pid and exits.
		return proc.Spawn(fmt.Sprintf("sh -c 'echo %d'", daemon.Pid()), true)
	}
	c.doProbe = func(probe.Request) (*probe.Response, error) {
		return &probe.Response{Status: 200}, nil
	}

	require.NoError(t, c.Start(false))
	assert.Equal(t, daemon.Pid(), c.getHandle().Pid())
	assert.Equal(t, 1, run.Registry.Len())

	require.NoError(t, c.Stop())
	assert.Equal(t, 0, run.Registry.Len())
}

func TestProcessBackgroundLauncherFails(t *testing.T) {
	requireUnix(t)

	c, run := newTestProcess(t)
	c.cfg.Background = true
	c.spawn = func(string, bool) (*proc.Child, error) {
		return proc.Spawn("sh -c 'exit 3'", true)
	}

	err := c.Start(false)
	require.Error(t, err)

	var invocation *CommandInvocationError
	assert.ErrorAs(t, err, &invocation)
	assert.Equal(t, 0, run.Registry.Len())
}

func TestProcessTruncatesLogOncePerPath(t *testing.T) {
	c, _ := newTestProcess(t)

	require.NoError(t, os.WriteFile(c.cfg.Log, []byte("old run\n"), 0o644))
	c.truncateLog()

	data, err := os.ReadFile(c.cfg.Log)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, os.WriteFile(c.cfg.Log, []byte("this run\n"), 0o644))
	c.truncateLog()

	data, err = os.ReadFile(c.cfg.Log)
	require.NoError(t, err)
	assert.Equal(t, "this run\n", string(data))
}

func TestProcessReadLogTail(t *testing.T) {
	c, _ := newTestProcess(t)

	content := "one\ntwo\nthree\nfour\n"
	require.NoError(t, os.WriteFile(c.cfg.Log, []byte(content), 0o644))

	lines, err := c.ReadLog(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	lines, err = c.ReadLog(0)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
}

func TestProcessRestartUnsupported(t *testing.T) {
	c, _ := newTestProcess(t)

	var unsupported *UnsupportedOperationError
	assert.ErrorAs(t, c.Restart(), &unsupported)
}
