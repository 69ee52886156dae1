// Package cmdline builds the command line used to launch the server under
// test. The output is deterministic for a given configuration, which the
// lifecycle controllers rely on when matching process listings.
package cmdline

import (
	"fmt"
	"strings"

	"github.com/kumasuke/s3harness/internal/config"
)

// Build creates the full server command line. effectiveRoot and logPath are
// passed in rather than derived because the container variant remaps both
// to in-container paths. external marks a server the harness does not
// manage, which never gets the root and vfs arguments.
func Build(cfg *config.ServerConfig, effectiveRoot, logPath string, external bool) string {
	var b strings.Builder
	b.WriteString(cfg.Src)

	arg := func(flag, value string) {
		if value != "" {
			fmt.Fprintf(&b, " --%s %s", flag, value)
		}
	}
	boolArg := func(flag string, set bool) {
		if set {
			fmt.Fprintf(&b, " --%s", flag)
		}
	}

	arg("listen-address", cfg.ListenAddress)
	if cfg.ListenPort != 0 {
		arg("listen-port", fmt.Sprintf("%d", cfg.ListenPort))
	}
	arg("tls-cert", cfg.TLSCert)
	arg("tls-key", cfg.TLSKey)
	boolArg("no-tls", cfg.NoTLS)
	boolArg("no-keepalive", cfg.NoKeepalive)
	boolArg("background", cfg.Background)
	arg("log", logPath)
	for _, host := range cfg.Hosts {
		arg("host", host)
	}
	boolArg("verbose", cfg.Verbose)

	if !external {
		arg("s3root", effectiveRoot)
	}
	arg("server-header", cfg.ServerHeader)
	if !external {
		boolArg("vfs", true)
	}

	if cfg.ExtraArgs != "" {
		fmt.Fprintf(&b, " %s", cfg.ExtraArgs)
	}

	if cfg.OverrideArgs != "" {
		// The override replaces everything after the executable; a single
		// space means "no arguments at all".
		if strings.TrimSpace(cfg.OverrideArgs) == "" {
			return cfg.Src
		}
		if external {
			return fmt.Sprintf("%s %s", cfg.Src, cfg.OverrideArgs)
		}
		return fmt.Sprintf("%s --vfs %s", cfg.Src, cfg.OverrideArgs)
	}

	return b.String()
}
