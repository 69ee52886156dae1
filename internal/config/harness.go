package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Harness holds the framework-level configuration: run mode, credentials
// used by linked S3 clients, and the server description.
type Harness struct {
	// Mode selects the controller variant: process, container or external.
	Mode string `mapstructure:"mode"`

	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`

	// LedgerPath locates the SQLite file holding the ignored-tests table.
	LedgerPath string `mapstructure:"ledger_path"`

	// JoinServerLog forwards server log lines into the harness log.
	JoinServerLog bool `mapstructure:"join_server_log"`

	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultHarness returns a Harness with default values.
func DefaultHarness() *Harness {
	return &Harness{
		Mode:       "process",
		AccessKey:  "s3harness",
		SecretKey:  "s3harness",
		Region:     "us-east-1",
		LedgerPath: ".framework/ledger.db",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Src:           DefaultSrc,
			ListenAddress: DefaultListenAddress,
			ListenPort:    DefaultListenPort,
			NoTLS:         true,
			Root:          DefaultRoot,
			Log:           "logs/s3server.log",
		},
	}
}

// Load reads the harness configuration from environment variables and an
// optional config file.
func Load() (*Harness, error) {
	cfg := DefaultHarness()

	v := viper.New()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("access_key", cfg.AccessKey)
	v.SetDefault("secret_key", cfg.SecretKey)
	v.SetDefault("region", cfg.Region)
	v.SetDefault("ledger_path", cfg.LedgerPath)
	v.SetDefault("join_server_log", cfg.JoinServerLog)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("server.src", cfg.Server.Src)
	v.SetDefault("server.listen_address", cfg.Server.ListenAddress)
	v.SetDefault("server.listen_port", cfg.Server.ListenPort)
	v.SetDefault("server.no_tls", cfg.Server.NoTLS)
	v.SetDefault("server.root", cfg.Server.Root)
	v.SetDefault("server.log", cfg.Server.Log)

	v.SetEnvPrefix("S3HARNESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("harness")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.s3harness")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads the harness configuration from a specific file.
func LoadFromFile(path string) (*Harness, error) {
	cfg := DefaultHarness()

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
