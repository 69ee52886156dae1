package proc

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
)

// Child is a process spawned by the harness itself. The exec.Cmd is reaped
// by a background goroutine so an exited child never lingers as a zombie.
type Child struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Spawn runs the command line as a child process without blocking. The
// command line is split with shell-style lexing. When captureOutput is set,
// stdout and stderr are collected for later inspection (background launchers
// print the daemon pid to stdout).
func Spawn(commandLine string, captureOutput bool) (*Child, error) {
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("proc: split command %q: %w", commandLine, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("proc: empty command")
	}

	c := &Child{
		cmd:  exec.Command(argv[0], argv[1:]...),
		done: make(chan struct{}),
	}
	if captureOutput {
		c.cmd.Stdout = &c.stdout
		c.cmd.Stderr = &c.stderr
	}

	if err := c.cmd.Start(); err != nil {
		return nil, fmt.Errorf("proc: start %q: %w", commandLine, err)
	}

	go func() {
		_ = c.cmd.Wait()
		close(c.done)
	}()

	return c, nil
}

func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

// Alive reports whether the child is still running. A reaped child is never
// a zombie, so exit implies not alive.
func (c *Child) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Child) Signal(sig syscall.Signal) error {
	return c.cmd.Process.Signal(sig)
}

func (c *Child) Wait(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// Kill sends an unconditional SIGKILL.
func (c *Child) Kill() error {
	return c.cmd.Process.Kill()
}

// ExitCode returns the exit code of the child, or -1 if it has not exited.
func (c *Child) ExitCode() int {
	select {
	case <-c.done:
		return c.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// Stdout returns the captured stdout of an exited child.
func (c *Child) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

// Stderr returns the captured stderr of an exited child.
func (c *Child) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr.String()
}
