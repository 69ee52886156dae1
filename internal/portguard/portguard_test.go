package portguard_test

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/internal/portguard"
	"github.com/kumasuke/s3harness/internal/proc"
)

func listenerPort(t *testing.T, l net.Listener) int {
	t.Helper()

	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestCheckFreePort(t *testing.T) {
	// Bind and release a port so it is known free.
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := listenerPort(t, l)
	require.NoError(t, l.Close())

	occupant, err := portguard.Check(port, false)
	require.NoError(t, err)
	assert.Nil(t, occupant)
}

func TestCheckReportsOccupant(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("connection table inspection is exercised on linux")
	}

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := listenerPort(t, l)

	occupant, err := portguard.Check(port, false)
	require.NoError(t, err)
	require.NotNil(t, occupant)
	assert.Equal(t, int32(os.Getpid()), occupant.PID)
	assert.Equal(t, uint32(port), occupant.Port)
}

func TestStopPIDMissingProcess(t *testing.T) {
	// Spawn and let a process exit so its pid is known dead.
	child, err := proc.Spawn("sleep 0.1", false)
	require.NoError(t, err)
	require.NoError(t, child.Wait(5*time.Second))

	err = portguard.StopPID(child.Pid())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestStopPIDTerminatesProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs POSIX signals")
	}

	child, err := proc.Spawn("sleep 60", false)
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	require.NoError(t, portguard.StopPID(child.Pid()))
	assert.Eventually(t, func() bool { return !child.Alive() },
		2*time.Second, 20*time.Millisecond)
}
