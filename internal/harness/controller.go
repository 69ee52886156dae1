// Package harness implements the server lifecycle orchestrator: controller
// variants for process- and compose-managed servers, readiness probing,
// shutdown escalation and the process-wide controller registry.
package harness

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kumasuke/s3harness/internal/config"
	"github.com/kumasuke/s3harness/internal/probe"
	"github.com/kumasuke/s3harness/internal/proc"
)

// HealthPath is the readiness endpoint of the server under test.
const HealthPath = "healthz"

// Readiness polling bounds. The server resets idle connections within a few
// seconds of startup, so each timeout-class failure also consumes the
// per-call read timeout on top of the poll step.
const (
	StartupTimeout = 25 * time.Second
	pollStep       = 500 * time.Millisecond
	initialDelay   = 100 * time.Millisecond
)

// LinkedConnection is a client connection opened against a server instance.
// The controller does not own it; it only may request its close before
// shutdown, because held connections can keep the server from exiting.
type LinkedConnection interface {
	Close() error
}

// ServerController unifies start/stop/restart/health/log access over the
// process, container and external variants.
type ServerController interface {
	// Start launches the server. Unless fastStart is set, it blocks until
	// the health probe confirms readiness or the startup budget elapses.
	Start(fastStart bool) error

	// Stop is idempotent: stopping an already-stopped controller is a
	// logged no-op, never an error.
	Stop() error

	Restart() error

	// IsRunning is true only while the underlying handle exists and is
	// neither exited nor a zombie.
	IsRunning() bool

	// SendHealth issues one readiness probe and returns the HTTP status.
	// A connection failure surfaces as *probe.ConnectionLostError,
	// distinct from "not ready".
	SendHealth() (int, error)

	// ReadLog returns the server log lines, the last tail of them when
	// tail > 0.
	ReadLog(tail int) ([]string, error)
	RemoveLog() error

	EffectiveRoot() (string, error)
	EndpointURL(withPort bool) string

	Link(conn LinkedConnection)
	Unlink(conn LinkedConnection)

	Config() *config.ServerConfig
	State() State
}

type probeFunc func(req probe.Request) (*probe.Response, error)

// base carries the pieces shared by every variant: config, run context,
// linked connections and the probe plumbing.
type base struct {
	cfg *config.ServerConfig
	run *RunContext
	log zerolog.Logger

	mu     sync.Mutex
	state  State
	links  []LinkedConnection
	handle proc.Handle

	doProbe probeFunc
}

func newBase(cfg *config.ServerConfig, run *RunContext, variant string) base {
	logger := log.With().Str("variant", variant).Int("port", cfg.ListenPort).Logger()
	logger.Info().Msg("Server controller initialised")

	return base{
		cfg:     cfg,
		run:     run,
		log:     logger,
		state:   StateCreated,
		doProbe: probe.Do,
	}
}

func (b *base) Config() *config.ServerConfig {
	return b.cfg
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) setHandle(h proc.Handle) {
	b.mu.Lock()
	b.handle = h
	b.mu.Unlock()
}

func (b *base) getHandle() proc.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

func (b *base) IsRunning() bool {
	h := b.getHandle()
	return h != nil && h.Alive()
}

func (b *base) EndpointURL(withPort bool) string {
	return b.cfg.EndpointURL(withPort)
}

// SendHealth issues one readiness probe. Resets are never masked here so a
// lost connection is reported to the caller rather than polled over.
func (b *base) SendHealth() (int, error) {
	resp, err := b.doProbe(probe.Request{
		URL:                 fmt.Sprintf("%s/%s", b.cfg.EndpointURL(true), HealthPath),
		CACert:              b.cfg.TLSCert,
		MaskConnectionReset: false,
	})
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// Link associates a client connection with this server instance so it can
// be closed proactively before shutdown.
func (b *base) Link(conn LinkedConnection) {
	b.mu.Lock()
	b.links = append(b.links, conn)
	b.mu.Unlock()
}

// Unlink removes a linked connection without closing it.
func (b *base) Unlink(conn LinkedConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.links {
		if l == conn {
			b.links = append(b.links[:i], b.links[i+1:]...)
			return
		}
	}
}

// closeLinks closes all linked connections best-effort. Individual close
// errors are logged and swallowed.
func (b *base) closeLinks() {
	b.mu.Lock()
	links := b.links
	b.links = nil
	b.mu.Unlock()

	for _, conn := range links {
		if err := conn.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Closing linked connection")
		}
	}
}

// waitReady polls the health endpoint until it answers 200, the server
// dies, or the startup budget runs out. On a not-ready outcome the caller's
// stop function runs first: a half-started server is never left behind.
func (b *base) waitReady(stop func() error) error {
	status := -1
	time.Sleep(initialDelay)
	elapsed := initialDelay

	for elapsed < StartupTimeout {
		st, err := b.SendHealth()
		if err == nil {
			status = st
			break
		}

		var nerr net.Error
		var lost *probe.ConnectionLostError
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			b.log.Warn().Msg("Timeout: server is not ready")
			elapsed += pollStep + probe.DefaultTimeout
		case errors.As(err, &lost):
			elapsed += pollStep
		default:
			return err
		}

		time.Sleep(pollStep)

		if !b.IsRunning() {
			break
		}
	}

	if !b.IsRunning() {
		return &ServerNotStartedError{Reason: "server terminated unexpectedly"}
	}

	if status != http.StatusOK {
		if err := stop(); err != nil {
			b.log.Warn().Err(err).Msg("Stopping not-ready server")
		}
		return &FrameworkRuntimeError{
			Reason: fmt.Sprintf("server has been stopped due to timeout: not ready (status = %d)", status),
		}
	}

	b.log.Info().Msg("Waiting for the server: server is ready")
	return nil
}

// readLogFile reads the log at path, returning the last tail lines when
// tail > 0.
func (b *base) readLogFile(path string, tail int) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read log: %w", err)
	}

	lines := splitLines(string(data))
	if tail > 0 && tail < len(lines) {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// External represents a server the harness does not control, such as a real
// AWS endpoint. Control operations are unsupported; config and endpoint
// accessors, health checks and connection linking still work.
type External struct {
	base
}

// NewExternal validates the config and builds the external controller.
func NewExternal(cfg *config.ServerConfig, run *RunContext) (*External, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &External{base: newBase(cfg, run, "external")}
	return c, nil
}

func (c *External) Start(bool) error {
	return &UnsupportedOperationError{Op: "start"}
}

func (c *External) Stop() error {
	return &UnsupportedOperationError{Op: "stop"}
}

func (c *External) Restart() error {
	return &UnsupportedOperationError{Op: "restart"}
}

func (c *External) ReadLog(int) ([]string, error) {
	return nil, &UnsupportedOperationError{Op: "read_log"}
}

func (c *External) RemoveLog() error {
	return &UnsupportedOperationError{Op: "remove_log"}
}

func (c *External) EffectiveRoot() (string, error) {
	return "", &UnsupportedOperationError{Op: "effective_root"}
}
