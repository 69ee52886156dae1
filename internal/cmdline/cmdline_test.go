package cmdline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/internal/cmdline"
	"github.com/kumasuke/s3harness/internal/config"
)

func baseConfig(t *testing.T) *config.ServerConfig {
	t.Helper()

	cfg := &config.ServerConfig{
		Src:        "build/s3server",
		ListenPort: 9000,
		NoTLS:      true,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildManagedServer(t *testing.T) {
	cfg := baseConfig(t)

	got := cmdline.Build(cfg, "/tmp/scratch/s3", "logs/server.log", false)
	want := "build/s3server --listen-address 127.0.0.1 --listen-port 9000 --no-tls" +
		" --log logs/server.log --s3root /tmp/scratch/s3 --vfs"
	assert.Equal(t, want, got)
}

func TestBuildExternalServerOmitsRootAndVFS(t *testing.T) {
	cfg := baseConfig(t)

	got := cmdline.Build(cfg, "/tmp/scratch/s3", "", true)
	assert.NotContains(t, got, "--s3root")
	assert.NotContains(t, got, "--vfs")
}

func TestBuildWithTLSAndHosts(t *testing.T) {
	cfg := baseConfig(t)
	cfg.NoTLS = false
	cfg.TLSCert = "certs/server.crt"
	cfg.TLSKey = "certs/server.key"
	cfg.Hosts = []string{"a.test", "b.test"}
	require.NoError(t, cfg.Validate())

	got := cmdline.Build(cfg, "/root", "", false)
	assert.Contains(t, got, "--tls-cert certs/server.crt")
	assert.Contains(t, got, "--tls-key certs/server.key")
	assert.Contains(t, got, "--host a.test --host b.test")
	assert.NotContains(t, got, "--no-tls")
}

func TestBuildExtraArgsAppended(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ExtraArgs = "--debug-hooks all"

	got := cmdline.Build(cfg, "/root", "", false)
	assert.Contains(t, got, " --debug-hooks all")
}

func TestBuildOverrideArgsReplacesEverything(t *testing.T) {
	cfg := baseConfig(t)
	cfg.OverrideArgs = "--listen-port 1234"

	got := cmdline.Build(cfg, "/root", "logs/server.log", false)
	assert.Equal(t, "build/s3server --vfs --listen-port 1234", got)

	got = cmdline.Build(cfg, "/root", "", true)
	assert.Equal(t, "build/s3server --listen-port 1234", got)
}

func TestBuildOverrideArgsSingleSpaceMeansBare(t *testing.T) {
	cfg := baseConfig(t)
	cfg.OverrideArgs = " "

	got := cmdline.Build(cfg, "/root", "", false)
	assert.Equal(t, "build/s3server", got)
}
