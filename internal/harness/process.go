package harness

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kumasuke/s3harness/internal/cmdline"
	"github.com/kumasuke/s3harness/internal/config"
	"github.com/kumasuke/s3harness/internal/portguard"
	"github.com/kumasuke/s3harness/internal/proc"
)

// truncatedLogs tracks log paths truncated once per harness process; the
// server appends to its log rather than truncating it.
var truncatedLogs sync.Map

type spawnFunc func(commandLine string, captureOutput bool) (*proc.Child, error)
type guardFunc func(port int, forceStop bool) (*portguard.Occupant, error)
type findFunc func(pid int) (proc.Handle, error)

// Process runs the server under test as a local child process.
type Process struct {
	base

	spawn spawnFunc
	guard guardFunc
	find  findFunc
}

// NewProcess validates the config and builds the local-process controller.
func NewProcess(cfg *config.ServerConfig, run *RunContext) (*Process, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Process{
		base:  newBase(cfg, run, "process"),
		spawn: proc.Spawn,
		guard: portguard.Check,
		find:  proc.FindByPid,
	}, nil
}

// Start launches the server process. The controller registers itself with
// the registry right after the spawn, before readiness is known, so a crash
// during startup still leaves the instance reachable for cleanup.
func (c *Process) Start(fastStart bool) error {
	c.setState(StateStarting)

	c.truncateLog()

	if _, err := c.guard(c.cfg.ListenPort, true); err != nil {
		c.setState(StateFailed)
		return err
	}

	root := c.cfg.EffectiveRoot(c.run.TempDir)
	cmd := cmdline.Build(c.cfg, root, c.cfg.Log, c.run.External())
	c.log.Info().Str("cmd", cmd).Msg("Starting server")

	child, err := c.spawn(cmd, c.cfg.Background)
	if err != nil {
		c.setState(StateFailed)
		return &CommandInvocationError{Cmd: cmd, Err: err}
	}
	c.setHandle(child)
	c.run.Registry.Add(child.Pid(), c)

	if c.cfg.Background {
		if err := c.rebindBackground(cmd, child); err != nil {
			c.run.Registry.Remove(child.Pid())
			c.setHandle(nil)
			c.setState(StateFailed)
			return err
		}
	}

	if !fastStart {
		if err := c.waitReady(c.Stop); err != nil {
			// waitReady already stopped a not-ready server; a dead one
			// still needs deregistering, and Stop is idempotent.
			if stopErr := c.Stop(); stopErr != nil {
				c.log.Warn().Err(stopErr).Msg("Cleaning up after failed start")
			}
			c.setState(StateFailed)
			return err
		}
	}

	c.setState(StateRunning)
	c.log.Info().
		Int("pid", c.getHandle().Pid()).
		Bool("daemon", c.cfg.Background).
		Msg("Server has been started successfully")
	return nil
}

// rebindBackground handles daemonizing servers: the spawned process is a
// short-lived launcher that prints the real daemon's pid to stdout and
// exits. The controller waits for the launcher, resolves the daemon by pid
// and replaces its handle and registration with it.
func (c *Process) rebindBackground(cmd string, launcher *proc.Child) error {
	c.log.Info().Int("pid", launcher.Pid()).Msg("Waiting for foreground launcher")

	if err := launcher.Wait(StartupTimeout); err != nil {
		_ = launcher.Kill()
		_ = launcher.Wait(time.Second)
		return &FrameworkRuntimeError{
			Reason: fmt.Sprintf("launcher failed to finish and was killed, pid %d", launcher.Pid()),
		}
	}

	if code := launcher.ExitCode(); code != 0 {
		return &CommandInvocationError{
			Cmd: cmd,
			Err: fmt.Errorf("launcher with pid %d exited with %d", launcher.Pid(), code),
		}
	}

	pid, err := strconv.Atoi(strings.TrimSpace(launcher.Stdout()))
	if err != nil {
		return &CommandInvocationError{
			Cmd: cmd,
			Err: fmt.Errorf("launcher did not print a daemon pid: %w", err),
		}
	}

	daemon, err := c.find(pid)
	if err != nil {
		return &CommandInvocationError{Cmd: cmd, Err: err}
	}
	if daemon == nil {
		return &CommandInvocationError{
			Cmd: cmd,
			Err: fmt.Errorf("daemon process %d not found", pid),
		}
	}

	c.run.Registry.Remove(launcher.Pid())
	c.setHandle(daemon)
	c.run.Registry.Add(pid, c)
	return nil
}

// Stop closes linked connections, deregisters and runs the shutdown
// escalation. Linked connections go first: a held keepalive connection can
// keep the server from exiting.
func (c *Process) Stop() error {
	c.closeLinks()

	h := c.getHandle()
	if h == nil {
		c.log.Info().Msg("Stopping: process does not exist, nothing to stop")
		return nil
	}

	c.run.Registry.Remove(h.Pid())

	if !h.Alive() {
		c.log.Warn().Int("pid", h.Pid()).Msg("Cannot stop, server is not running")
		c.setHandle(nil)
		c.setState(StateStopped)
		return nil
	}

	c.setState(StateStopping)
	forced := escalate(h, h.Signal, KillTimeout, c.log)

	// The port must be free now. A foreign listener at this point is a
	// distinct bug, not something to clean up silently.
	if _, err := c.guard(c.cfg.ListenPort, false); err != nil {
		c.log.Warn().Err(err).Msg("Post-stop port check")
	}

	c.setHandle(nil)
	c.setState(StateStopped)

	if forced {
		return &FrameworkRuntimeError{
			Reason: fmt.Sprintf("server failed to finish and was killed, pid %d", h.Pid()),
		}
	}
	return nil
}

// Restart is not supported for a bare process; there is no in-place restart.
// Callers must stop and start a new instance.
func (c *Process) Restart() error {
	return &UnsupportedOperationError{Op: "restart"}
}

func (c *Process) ReadLog(tail int) ([]string, error) {
	return c.readLogFile(c.cfg.Log, tail)
}

func (c *Process) RemoveLog() error {
	if err := os.Remove(c.cfg.Log); err != nil {
		c.log.Warn().Err(err).Msg("Failed to remove old log file")
		return err
	}
	return nil
}

func (c *Process) EffectiveRoot() (string, error) {
	return c.cfg.EffectiveRoot(c.run.TempDir), nil
}

func (c *Process) truncateLog() {
	if c.cfg.Log == "" {
		return
	}
	if _, seen := truncatedLogs.LoadOrStore(c.cfg.Log, true); seen {
		return
	}

	f, err := os.OpenFile(c.cfg.Log, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		c.log.Warn().Err(err).Str("log", c.cfg.Log).Msg("Failed to truncate server log")
		return
	}
	_ = f.Close()
}
