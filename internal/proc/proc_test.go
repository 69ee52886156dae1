package proc_test

import (
	"os"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/internal/proc"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell and signals")
	}
}

func TestSpawnAndWait(t *testing.T) {
	requireUnix(t)

	child, err := proc.Spawn("sleep 0.1", false)
	require.NoError(t, err)

	assert.True(t, child.Alive())
	assert.Equal(t, -1, child.ExitCode())

	require.NoError(t, child.Wait(5*time.Second))
	assert.False(t, child.Alive())
	assert.Equal(t, 0, child.ExitCode())
}

func TestSpawnWaitTimeout(t *testing.T) {
	requireUnix(t)

	child, err := proc.Spawn("sleep 60", false)
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	err = child.Wait(50 * time.Millisecond)
	assert.ErrorIs(t, err, proc.ErrWaitTimeout)
	assert.True(t, child.Alive())
}

func TestSpawnCapturesOutput(t *testing.T) {
	requireUnix(t)

	child, err := proc.Spawn("sh -c 'echo 12345'", true)
	require.NoError(t, err)
	require.NoError(t, child.Wait(5*time.Second))

	assert.Equal(t, "12345\n", child.Stdout())
}

func TestSpawnRejectsBadCommandLine(t *testing.T) {
	_, err := proc.Spawn("server --arg 'unterminated", false)
	require.Error(t, err)

	_, err = proc.Spawn("   ", false)
	require.Error(t, err)
}

func TestSpawnSignal(t *testing.T) {
	requireUnix(t)

	child, err := proc.Spawn("sleep 60", false)
	require.NoError(t, err)

	require.NoError(t, child.Signal(syscall.SIGKILL))
	require.NoError(t, child.Wait(5*time.Second))
	assert.False(t, child.Alive())
	assert.NotEqual(t, 0, child.ExitCode())
}

func TestFindByPidSelf(t *testing.T) {
	h, err := proc.FindByPid(os.Getpid())
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, os.Getpid(), h.Pid())
	assert.True(t, h.Alive())
}

func TestFindByPidExited(t *testing.T) {
	requireUnix(t)

	child, err := proc.Spawn("sleep 0.1", false)
	require.NoError(t, err)
	require.NoError(t, child.Wait(5*time.Second))

	h, err := proc.FindByPid(child.Pid())
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestRunBlocking(t *testing.T) {
	requireUnix(t)

	stdout, _, err := proc.RunBlocking("sh", "-c", "echo out")
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout)

	_, _, err = proc.RunBlocking("sh", "-c", "echo broken >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
