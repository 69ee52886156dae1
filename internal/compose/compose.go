// Package compose drives a docker compose project for the container server
// variant. All operations are based on one compose file.
package compose

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kumasuke/s3harness/internal/proc"
)

// Container is one row of `docker compose ps --format json`.
type Container struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
}

// RunningProcess is one row of `docker compose top`.
type RunningProcess struct {
	UID   string
	PID   int
	PPID  int
	C     string
	STime string
	TTY   string
	Time  string
	Cmd   string
}

// runFunc executes an argv and returns stdout, stderr. Injectable for tests.
type runFunc func(argv ...string) (string, string, error)

// DockerCompose shells out to `docker compose` against a fixed compose file.
type DockerCompose struct {
	composeFile string
	run         runFunc
}

// New creates a driver for the given compose file; the file must exist.
func New(composeFile string) (*DockerCompose, error) {
	info, err := os.Stat(composeFile)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("compose: %q must be a path to a compose file", composeFile)
	}
	return &DockerCompose{
		composeFile: composeFile,
		run: func(argv ...string) (string, string, error) {
			return proc.RunBlocking(argv...)
		},
	}, nil
}

// CheckClean tears down possibly lingering containers from a previous
// aborted run and fails when any remain. Only a single server instance per
// compose file is supported.
func (d *DockerCompose) CheckClean() error {
	// Warnings from a no-op down are expected; log and continue.
	if _, err := d.invoke("down", "--timeout", "2"); err != nil {
		log.Warn().Err(err).Msg("Pre-start compose down reported an error")
	}

	running, err := d.PS()
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return fmt.Errorf("compose: container is already running: %s", running[0].Name)
	}
	return nil
}

// Up creates and starts the containers in the background.
func (d *DockerCompose) Up() error {
	if _, err := d.invoke("up", "--detach"); err != nil {
		return err
	}

	d.waitContainerReady()

	containers, _ := d.PS()
	log.Info().Interface("containers", containers).Msg("Container has been started")
	return nil
}

// Down stops and removes containers and networks, and verifies nothing
// remains afterwards.
func (d *DockerCompose) Down() error {
	if _, err := d.invoke("down"); err != nil {
		return err
	}

	running, err := d.PS()
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return fmt.Errorf("compose: failed to stop container %s", running[0].Name)
	}

	log.Info().Msg("Compose project stopped")
	return nil
}

// PS lists the project's containers.
func (d *DockerCompose) PS() ([]Container, error) {
	out, err := d.invoke("ps", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parsePS(out)
}

// Restart restarts the named service's containers.
func (d *DockerCompose) Restart(service string) error {
	log.Info().Str("service", service).Msg("Restarting service")

	if _, err := d.invoke("restart", service); err != nil {
		return err
	}

	d.waitContainerReady()
	return nil
}

// Top returns the running processes of the project's containers.
func (d *DockerCompose) Top() ([]RunningProcess, error) {
	out, err := d.invoke("top")
	if err != nil {
		return nil, err
	}
	return parseTop(out)
}

// ServiceRunning reports whether the named service is in the running state.
// A compose project may contain many services; this checks one.
func (d *DockerCompose) ServiceRunning(name string) (bool, error) {
	containers, err := d.PS()
	if err != nil {
		return false, err
	}
	for _, c := range containers {
		if c.Service == name && c.State == "running" {
			return true, nil
		}
	}
	return false, nil
}

// SendSignal routes a signal to the named service through the compose
// signal-delivery command. The in-container server runs under a different
// user/namespace, so direct OS signals are not deliverable.
func (d *DockerCompose) SendSignal(service string, sig syscall.Signal) error {
	_, err := d.invoke("kill", "--signal", strconv.Itoa(int(sig)), service)
	return err
}

func (d *DockerCompose) invoke(args ...string) (string, error) {
	argv := append([]string{"docker", "compose", "-f", d.composeFile}, args...)

	log.Debug().Strs("argv", argv).Msg("Invoking compose command")

	out, _, err := d.run(argv...)
	if err != nil {
		return out, fmt.Errorf("compose: command %q: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (d *DockerCompose) waitContainerReady() {
	for attempt := 0; attempt < 5; attempt++ {
		containers, err := d.PS()
		if err == nil && len(containers) > 0 {
			return
		}
		time.Sleep(time.Second)
		log.Warn().Int("attempt", attempt+1).Msg("Waiting for container")
	}
	log.Warn().Msg("Container is not ready")
}

// parsePS handles both output shapes of `ps --format json`: one object per
// line and a single JSON array.
func parsePS(out string) ([]Container, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	if strings.HasPrefix(out, "[") {
		var containers []Container
		if err := json.Unmarshal([]byte(out), &containers); err != nil {
			return nil, fmt.Errorf("compose: parse ps output: %w", err)
		}
		return containers, nil
	}

	var containers []Container
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var c Container
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("compose: parse ps output: %w", err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// parseTop parses the columnar `top` output: service-name lines and the UID
// header row are skipped, everything else is a process row.
func parseTop(out string) ([]RunningProcess, error) {
	var procs []RunningProcess

	for _, row := range strings.Split(out, "\n") {
		fields := strings.Fields(row)
		if len(fields) == 0 || len(fields) == 1 {
			continue
		}
		if fields[0] == "UID" {
			continue
		}
		if len(fields) < 8 {
			return nil, fmt.Errorf("compose: unexpected top row %q", row)
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("compose: parse top pid: %w", err)
		}
		ppid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("compose: parse top ppid: %w", err)
		}

		procs = append(procs, RunningProcess{
			UID:   fields[0],
			PID:   pid,
			PPID:  ppid,
			C:     fields[3],
			STime: fields[4],
			TTY:   fields[5],
			Time:  fields[6],
			// The command may contain spaces; keep the tail intact.
			Cmd: strings.Join(fields[7:], " "),
		})
	}

	return procs, nil
}
