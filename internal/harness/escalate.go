package harness

import (
	"errors"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kumasuke/s3harness/internal/proc"
)

// KillTimeout is how long the server gets to exit after the graceful
// interrupt before the escalation continues.
const KillTimeout = 5 * time.Second

// escalateStepWait bounds the two harsher escalation rungs.
const escalateStepWait = time.Second

// signalFunc delivers a signal to the server process. The process variant
// signals the handle directly; the container variant routes through the
// compose driver because direct signals are not deliverable across the
// container boundary.
type signalFunc func(sig syscall.Signal) error

// escalate runs the bounded shutdown sequence against a running process:
// SIGINT and a kill-timeout wait, then SIGILL as a second escalation rung
// (chosen purely for its harshness, not its semantics), then an
// unconditional SIGKILL. It reports whether force-killing was needed; the
// caller decides how loudly to surface that.
func escalate(h proc.Handle, send signalFunc, killTimeout time.Duration, logger zerolog.Logger) bool {
	if err := send(syscall.SIGINT); err != nil {
		logger.Warn().Err(err).Msg("Sending interrupt")
	}

	toKill := false
	if err := h.Wait(killTimeout); errors.Is(err, proc.ErrWaitTimeout) {
		// The wait races the exit; only a handle still alive needs more.
		toKill = h.Alive()
	}

	if !toKill {
		logger.Info().Int("pid", h.Pid()).Msg("Server has been stopped")
		return false
	}

	if err := send(syscall.SIGILL); err != nil {
		logger.Warn().Err(err).Msg("Sending second escalation signal")
	}

	signalFailed := false
	if err := h.Wait(escalateStepWait); errors.Is(err, proc.ErrWaitTimeout) {
		signalFailed = h.Alive()
	}

	if signalFailed {
		logger.Error().Int("pid", h.Pid()).Msg("Failed to terminate the server with SIGILL")
		if err := send(syscall.SIGKILL); err != nil {
			logger.Warn().Err(err).Msg("Sending kill")
		}
		_ = h.Wait(escalateStepWait)
	}

	// Small delay so the connection table reflects the exit.
	time.Sleep(100 * time.Millisecond)

	return true
}
