package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/fleetconsole/pkg/api"
	"github.com/cuemby/fleetconsole/pkg/security"
)

const (
	envPrefix         = "FLEETCONSOLE_"
	defaultConfigFile = ".fleetconsole/config.yaml"
)

// Config is the resolved CLI configuration. Sources are applied in order:
// defaults, config file, environment (including .env), explicit flags.
type Config struct {
	Server     string `yaml:"server"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	CertDir    string `yaml:"cert_dir"`
	Insecure   bool   `yaml:"insecure"`

	HTTPAddr  string `yaml:"http_addr"`
	HTTPAllow string `yaml:"http_allow"`
	ReadOnly  bool   `yaml:"read_only"`
	DataDir   string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// setting binds one key to its flag, environment variable and field
type setting struct {
	name  string
	usage string
	str   *string
	bool  *bool
}

func (c *Config) settings() []setting {
	return []setting{
		{name: "server", usage: "Fleet server base URL (https://host[:port])", str: &c.Server},
		{name: "ca-cert", usage: "CA bundle trusted for the server", str: &c.CACert},
		{name: "client-cert", usage: "Client certificate presented to the server", str: &c.ClientCert},
		{name: "client-key", usage: "Private key of the client certificate", str: &c.ClientKey},
		{name: "cert-dir", usage: "Directory searched for ca.crt, client.crt and client.key", str: &c.CertDir},
		{name: "insecure", usage: "Skip server certificate verification (testing only)", bool: &c.Insecure},
		{name: "http-addr", usage: "Address for the health, metrics and fleet API (empty disables it)", str: &c.HTTPAddr},
		{name: "http-allow", usage: "Comma-separated client addresses or CIDRs allowed on the HTTP API", str: &c.HTTPAllow},
		{name: "read-only", usage: "Refuse commands on the HTTP API", bool: &c.ReadOnly},
		{name: "data-dir", usage: "Directory for preferences and the manifest cache", str: &c.DataDir},
		{name: "log-level", usage: "Log level (debug, info, warn, error)", str: &c.LogLevel},
		{name: "log-json", usage: "Output logs in JSON format", bool: &c.LogJSON},
	}
}

func (s setting) envKey() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(s.name, "-", "_"))
}

func defaultConfig() *Config {
	return &Config{
		HTTPAddr: "127.0.0.1:9090",
		DataDir:  "./fleetconsole-data",
		LogLevel: "info",
	}
}

// addConfigFlags registers the persistent configuration flags on cmd
func addConfigFlags(cmd *cobra.Command) {
	defaults := defaultConfig()
	flags := cmd.PersistentFlags()
	for _, s := range defaults.settings() {
		if s.bool != nil {
			flags.Bool(s.name, *s.bool, s.usage)
		} else {
			flags.String(s.name, *s.str, s.usage)
		}
	}
	flags.String("config", "", "Config file (default ~/"+defaultConfigFile+")")
}

// loadConfig resolves the configuration for cmd
func loadConfig(cmd *cobra.Command) (*Config, error) {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path, explicit := configPath(cmd); path != "" {
		if err := cfg.loadFile(path, explicit); err != nil {
			return nil, err
		}
	}

	for _, s := range cfg.settings() {
		value, ok := os.LookupEnv(s.envKey())
		if !ok || value == "" {
			continue
		}
		if err := s.set(value); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", s.envKey(), err)
		}
	}

	flags := cmd.Flags()
	for _, s := range cfg.settings() {
		if !flags.Changed(s.name) {
			continue
		}
		if s.bool != nil {
			*s.bool, _ = flags.GetBool(s.name)
		} else {
			*s.str, _ = flags.GetString(s.name)
		}
	}

	return cfg, nil
}

func (s setting) set(value string) error {
	if s.bool != nil {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*s.bool = b
		return nil
	}
	*s.str = value
	return nil
}

// configPath returns the config file to read and whether it was asked for
// explicitly. The default location is optional.
func configPath(cmd *cobra.Command) (string, bool) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, true
	}
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		return path, true
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(homeDir, defaultConfigFile), false
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// allowedCIDRs splits the http-allow list, dropping empty entries
func (c *Config) allowedCIDRs() ([]string, error) {
	cidrs := lo.Compact(lo.Map(strings.Split(c.HTTPAllow, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if err := api.ValidateCIDRs(cidrs); err != nil {
		return nil, fmt.Errorf("invalid --http-allow: %w", err)
	}
	return cidrs, nil
}

func (c *Config) requireServer() error {
	if c.Server == "" {
		return fmt.Errorf("--server is required (or set %sSERVER)", envPrefix)
	}
	return nil
}

// tlsOptions resolves the TLS material, filling gaps from the cert directory
func (c *Config) tlsOptions() security.TLSOptions {
	opts := security.TLSOptions{
		CAFile:   c.CACert,
		CertFile: c.ClientCert,
		KeyFile:  c.ClientKey,
		Insecure: c.Insecure,
	}

	dir := c.CertDir
	if dir == "" {
		var err error
		if dir, err = security.DefaultCertDir(); err != nil {
			return opts
		}
	}
	return security.OptionsFromDir(opts, dir)
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	tlsConfig, err := security.LoadClientTLSConfig(c.tlsOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}
	return tlsConfig, nil
}
