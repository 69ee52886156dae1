package harness

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/kumasuke/s3harness/internal/config"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRun(t *testing.T, mode Mode) *RunContext {
	t.Helper()

	return &RunContext{
		Mode:     mode,
		Registry: NewRegistry(),
		TempDir:  t.TempDir(),
		WorkDir:  t.TempDir(),
		RunID:    "test-run",
	}
}

func newTestConfig(t *testing.T) *config.ServerConfig {
	t.Helper()

	cfg := &config.ServerConfig{
		Src:        "build/s3server",
		ListenPort: 9000,
		NoTLS:      true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return cfg
}
