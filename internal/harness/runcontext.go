package harness

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Mode selects the controller variant built by New.
type Mode string

const (
	// ModeProcess runs the server as a local child process.
	ModeProcess Mode = "process"
	// ModeContainer runs the server inside a compose-managed container.
	ModeContainer Mode = "container"
	// ModeExternal points the harness at a server it does not control.
	ModeExternal Mode = "external"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeProcess, ModeContainer, ModeExternal:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("harness: unknown run mode %q", s)
	}
}

// RunContext carries the per-run state that the original design kept in a
// mutable global: run mode, the controller registry and the process-wide
// scratch directory. It is passed explicitly into controller construction.
type RunContext struct {
	Mode     Mode
	Registry *Registry

	// TempDir is the process-wide scratch directory effective roots are
	// derived from.
	TempDir string

	// WorkDir is the workspace root exported to the compose environment.
	WorkDir string

	// RunID identifies this harness run in the ignored-tests ledger.
	RunID string
}

// NewRunContext creates a run context with a fresh scratch directory.
func NewRunContext(mode Mode) (*RunContext, error) {
	tmpDir, err := os.MkdirTemp("", "s3harness-*")
	if err != nil {
		return nil, fmt.Errorf("harness: create scratch dir: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("harness: resolve workspace: %w", err)
	}

	return &RunContext{
		Mode:     mode,
		Registry: NewRegistry(),
		TempDir:  tmpDir,
		WorkDir:  workDir,
		RunID:    uuid.NewString(),
	}, nil
}

// External reports whether the server under test is outside harness control.
func (rc *RunContext) External() bool {
	return rc.Mode == ModeExternal
}

// Cleanup drains the registry and removes the scratch directory.
func (rc *RunContext) Cleanup() {
	rc.Registry.Drain()
	if rc.TempDir != "" {
		_ = os.RemoveAll(rc.TempDir)
	}
}
