// Package proc wraps process spawning, lookup and signaling for the harness.
package proc

import (
	"errors"
	"slices"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrWaitTimeout is returned by Handle.Wait when the process is still
// running after the given timeout.
var ErrWaitTimeout = errors.New("proc: wait timed out")

// waitPollInterval bounds how often a pid-based Wait re-checks liveness.
const waitPollInterval = 50 * time.Millisecond

// Handle is the minimal view of a running process the harness needs:
// liveness, signaling and a bounded wait for exit.
type Handle interface {
	Pid() int

	// Alive reports whether the process exists and is not a zombie.
	Alive() bool

	Signal(sig syscall.Signal) error

	// Wait blocks until the process exits or the timeout elapses, in
	// which case it returns ErrWaitTimeout.
	Wait(timeout time.Duration) error
}

// pidHandle tracks a process the harness did not spawn itself (a daemonized
// server or an in-container process), identified only by pid.
type pidHandle struct {
	p *process.Process
}

// FindByPid resolves a live, non-zombie process by pid. Returns nil without
// error when no such process exists.
func FindByPid(pid int) (Handle, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}

	statuses, err := p.Status()
	if err == nil && slices.Contains(statuses, process.Zombie) {
		return nil, nil
	}

	return &pidHandle{p: p}, nil
}

func (h *pidHandle) Pid() int {
	return int(h.p.Pid)
}

func (h *pidHandle) Alive() bool {
	running, err := h.p.IsRunning()
	if err != nil || !running {
		return false
	}
	statuses, err := h.p.Status()
	if err != nil {
		return false
	}
	return !slices.Contains(statuses, process.Zombie)
}

func (h *pidHandle) Signal(sig syscall.Signal) error {
	return h.p.SendSignal(sig)
}

func (h *pidHandle) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for h.Alive() {
		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
		time.Sleep(waitPollInterval)
	}
	return nil
}
