package harness

import (
	"fmt"

	"github.com/kumasuke/s3harness/internal/config"
)

// New builds the controller variant selected by the run context's mode.
func New(cfg *config.ServerConfig, run *RunContext) (ServerController, error) {
	switch run.Mode {
	case ModeProcess:
		return NewProcess(cfg, run)
	case ModeContainer:
		return NewContainer(cfg, run)
	case ModeExternal:
		return NewExternal(cfg, run)
	default:
		return nil, fmt.Errorf("harness: unknown run mode %q", run.Mode)
	}
}
