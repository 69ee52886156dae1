// Package config provides configuration management for the s3harness framework.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Port bounds accepted for the server under test. Ports below 1024 need
// elevated privileges and are rejected outright.
const (
	MinPort = 1024
	MaxPort = 65535
)

// Defaults applied by Validate for empty fields.
const (
	DefaultListenAddress = "127.0.0.1"
	DefaultListenPort    = 8000
	DefaultSrc           = "build/s3server"
	DefaultRoot          = "/s3"
)

// Error reports an invalid configuration value and names the violated field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

// ServerConfig describes how to run the server under test. Fields may be
// mutated between runs for test flexibility; call Validate again afterwards.
type ServerConfig struct {
	// Src is the path to the server executable.
	Src string `mapstructure:"src"`

	ListenAddress string `mapstructure:"listen_address"`
	ListenPort    int    `mapstructure:"listen_port"`

	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
	NoTLS   bool   `mapstructure:"no_tls"`

	NoKeepalive bool `mapstructure:"no_keepalive"`
	Background  bool `mapstructure:"background"`
	Verbose     bool `mapstructure:"verbose"`

	// Root is the configured root fragment; the directory actually served
	// is derived via EffectiveRoot.
	Root string `mapstructure:"root"`

	// Log is the host-side path of the server log file.
	Log string `mapstructure:"log"`

	Hosts        []string `mapstructure:"hosts"`
	ServerHeader string   `mapstructure:"server_header"`

	// ExtraArgs is appended verbatim to the built command line.
	// OverrideArgs replaces everything after the executable path.
	ExtraArgs    string `mapstructure:"extra_args"`
	OverrideArgs string `mapstructure:"override_args"`

	// Container-orchestration fields, required only for the container variant.
	ComposeFile    string `mapstructure:"compose_file"`
	ComposeService string `mapstructure:"compose_service"`
}

// Validate enforces the configuration invariants, applying defaults for
// empty fields and normalizing the TLS pair when no_tls is set.
func (c *ServerConfig) Validate() error {
	if c.Src == "" {
		c.Src = DefaultSrc
	}
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.Root == "" {
		c.Root = DefaultRoot
	}

	if c.ListenPort < MinPort || c.ListenPort > MaxPort {
		return &Error{
			Field:  "listen_port",
			Reason: fmt.Sprintf("port must be in range from %d to %d, got %d", MinPort, MaxPort, c.ListenPort),
		}
	}

	if c.NoTLS {
		// No certs and keys are needed without TLS.
		c.TLSCert = ""
		c.TLSKey = ""
	} else {
		if c.TLSCert != "" && c.TLSKey == "" {
			return &Error{Field: "tls_key", Reason: "no TLS key was provided"}
		}
		if c.TLSKey != "" && c.TLSCert == "" {
			return &Error{Field: "tls_cert", Reason: "no TLS certificate was provided"}
		}
	}

	return nil
}

// EffectiveRoot returns the real on-disk directory the server serves from:
// the process-wide scratch directory joined with the configured root fragment.
func (c *ServerConfig) EffectiveRoot(tmpDir string) string {
	return filepath.Join(tmpDir, strings.Trim(c.Root, "/"))
}

// Host returns the host name used for endpoint URLs: the first configured
// host if any, the listen address otherwise.
func (c *ServerConfig) Host() string {
	if len(c.Hosts) > 0 {
		return c.Hosts[0]
	}
	return c.ListenAddress
}

// EndpointURL builds the endpoint URL for the current configuration. The
// scheme follows TLS cert presence.
func (c *ServerConfig) EndpointURL(withPort bool) string {
	scheme := "http"
	if c.TLSCert != "" {
		scheme = "https"
	}
	if !withPort {
		return fmt.Sprintf("%s://%s", scheme, c.Host())
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host(), c.ListenPort)
}
