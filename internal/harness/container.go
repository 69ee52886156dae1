package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/kumasuke/s3harness/internal/cmdline"
	"github.com/kumasuke/s3harness/internal/compose"
	"github.com/kumasuke/s3harness/internal/config"
	"github.com/kumasuke/s3harness/internal/proc"
)

// ContainerLogDir is the fixed in-container mount point for server logs.
// Log reads remap the configured host path under it.
const ContainerLogDir = "/harness/logs"

// Environment variables consumed by the compose file. The server command is
// always re-exported; the workspace root is only set when absent so an
// operator override survives.
const (
	envServerCmd = "S3HARNESS_SERVER_CMD"
	envWorkspace = "S3HARNESS_WORKSPACE"
)

// composeDriver is the slice of the compose package the controller needs.
// Injectable for tests.
type composeDriver interface {
	CheckClean() error
	Up() error
	Down() error
	Restart(service string) error
	Top() ([]compose.RunningProcess, error)
	ServiceRunning(name string) (bool, error)
	SendSignal(service string, sig syscall.Signal) error
}

// Container runs the server under test inside a compose-managed container.
type Container struct {
	base

	driver composeDriver
	find   findFunc
}

// NewContainer validates the config, requires a compose file and checks the
// configured service is actually defined in it, so a typo fails here rather
// than deep inside a compose invocation.
func NewContainer(cfg *config.ServerConfig, run *RunContext) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ComposeFile == "" {
		return nil, &config.Error{Field: "compose_file", Reason: "required for the container variant"}
	}
	if cfg.ComposeService == "" {
		return nil, &config.Error{Field: "compose_service", Reason: "required for the container variant"}
	}

	services, err := compose.Services(cfg.ComposeFile)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(services, cfg.ComposeService) {
		return nil, &config.Error{
			Field:  "compose_service",
			Reason: fmt.Sprintf("service %q is not defined in %s", cfg.ComposeService, cfg.ComposeFile),
		}
	}

	driver, err := compose.New(cfg.ComposeFile)
	if err != nil {
		return nil, err
	}

	return &Container{
		base:   newBase(cfg, run, "container"),
		driver: driver,
		find:   proc.FindByPid,
	}, nil
}

// Start brings the compose project up and resolves the in-container server
// process. The server pid is visible from the host through the compose
// process listing, which is how signals and liveness checks work later.
func (c *Container) Start(fastStart bool) error {
	c.setState(StateStarting)

	cmd := cmdline.Build(c.cfg, c.cfg.Root, c.containerLogPath(), false)
	if err := c.exportEnv(cmd); err != nil {
		c.setState(StateFailed)
		return err
	}

	if err := c.driver.CheckClean(); err != nil {
		c.setState(StateFailed)
		return err
	}

	if err := c.driver.Up(); err != nil {
		c.setState(StateFailed)
		return &CommandInvocationError{Cmd: "docker compose up", Err: err}
	}

	running, err := c.driver.ServiceRunning(c.cfg.ComposeService)
	if err != nil {
		c.setState(StateFailed)
		_ = c.driver.Down()
		return err
	}
	if !running {
		c.setState(StateFailed)
		_ = c.driver.Down()
		return &ServerNotStartedError{
			Reason: fmt.Sprintf("service %q did not reach the running state", c.cfg.ComposeService),
		}
	}

	handle, err := c.resolveServerProcess()
	if err != nil {
		c.setState(StateFailed)
		_ = c.driver.Down()
		return err
	}
	c.setHandle(handle)
	c.run.Registry.Add(handle.Pid(), c)

	if !fastStart {
		if err := c.waitReady(c.Stop); err != nil {
			if stopErr := c.Stop(); stopErr != nil {
				c.log.Warn().Err(stopErr).Msg("Cleaning up after failed start")
			}
			c.setState(StateFailed)
			return err
		}
	}

	c.setState(StateRunning)
	c.log.Info().Int("pid", handle.Pid()).Msg("Server has been started successfully")
	return nil
}

// Stop runs the shutdown escalation with signals routed through the driver,
// then tears the project down. Escalation first: compose down alone would
// hide a server that ignores its graceful signal.
func (c *Container) Stop() error {
	c.closeLinks()

	h := c.getHandle()
	if h == nil {
		c.log.Info().Msg("Stopping: container does not exist, nothing to stop")
		return nil
	}

	c.run.Registry.Remove(h.Pid())
	c.setState(StateStopping)

	forced := false
	if h.Alive() {
		send := func(sig syscall.Signal) error {
			return c.driver.SendSignal(c.cfg.ComposeService, sig)
		}
		forced = escalate(h, send, KillTimeout, c.log)
	} else {
		c.log.Warn().Int("pid", h.Pid()).Msg("Server process already gone")
	}

	downErr := c.driver.Down()

	c.setHandle(nil)
	c.setState(StateStopped)

	if forced {
		return &FrameworkRuntimeError{
			Reason: fmt.Sprintf("server failed to finish and was killed, pid %d", h.Pid()),
		}
	}
	return downErr
}

// Restart restarts the service in place and re-resolves the server process,
// which gets a new pid.
func (c *Container) Restart() error {
	h := c.getHandle()
	if h == nil {
		return &ServerNotStartedError{Reason: "cannot restart, server was never started"}
	}

	c.run.Registry.Remove(h.Pid())

	if err := c.driver.Restart(c.cfg.ComposeService); err != nil {
		c.setState(StateFailed)
		return err
	}

	handle, err := c.resolveServerProcess()
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.setHandle(handle)
	c.run.Registry.Add(handle.Pid(), c)

	if err := c.waitReady(c.Stop); err != nil {
		c.setState(StateFailed)
		return err
	}

	c.setState(StateRunning)
	return nil
}

// ReadLog reads the host-side file that backs the container's log mount.
func (c *Container) ReadLog(tail int) ([]string, error) {
	return c.readLogFile(c.cfg.Log, tail)
}

func (c *Container) RemoveLog() error {
	if err := os.Remove(c.cfg.Log); err != nil {
		c.log.Warn().Err(err).Msg("Failed to remove old log file")
		return err
	}
	return nil
}

// EffectiveRoot is the in-container root, fixed by the compose file rather
// than derived from the scratch directory.
func (c *Container) EffectiveRoot() (string, error) {
	return c.cfg.Root, nil
}

// exportEnv publishes the server command line and workspace root for the
// compose file to interpolate.
func (c *Container) exportEnv(cmd string) error {
	if err := os.Setenv(envServerCmd, cmd); err != nil {
		return fmt.Errorf("harness: export server command: %w", err)
	}
	if _, ok := os.LookupEnv(envWorkspace); !ok {
		if err := os.Setenv(envWorkspace, c.run.WorkDir); err != nil {
			return fmt.Errorf("harness: export workspace: %w", err)
		}
	}
	return nil
}

// resolveServerProcess scans the compose process listing for the command
// whose executable matches the configured server binary, then resolves the
// host-visible pid into a process handle.
func (c *Container) resolveServerProcess() (proc.Handle, error) {
	procs, err := c.driver.Top()
	if err != nil {
		return nil, err
	}

	exe := filepath.Base(c.cfg.Src)
	for _, p := range procs {
		args := strings.Fields(p.Cmd)
		if len(args) == 0 {
			continue
		}
		if filepath.Base(args[0]) != exe {
			continue
		}

		h, err := c.find(p.PID)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, &ServerNotStartedError{
				Reason: fmt.Sprintf("server process %d vanished after container start", p.PID),
			}
		}
		return h, nil
	}

	return nil, &ServerNotStartedError{
		Reason: fmt.Sprintf("no process running %q found in the container", exe),
	}
}

// containerLogPath remaps the configured host log path to where the
// container sees it through the log mount.
func (c *Container) containerLogPath() string {
	if c.cfg.Log == "" {
		return ""
	}

	rel, err := filepath.Rel(c.run.WorkDir, c.cfg.Log)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Join(ContainerLogDir, filepath.Base(c.cfg.Log))
	}
	return filepath.Join(ContainerLogDir, rel)
}
