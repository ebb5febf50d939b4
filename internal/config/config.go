// Package config provides configuration management for the agpool client.
// It handles loading and parsing the YAML configuration file and provides
// structured access to application settings such as the credential state
// directory, proxy configuration, and retry behavior.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultAccountsFileName is the file used for the credential pool state
// inside the auth directory.
const DefaultAccountsFileName = "antigravity-accounts.json"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// AuthDir is the directory where the account state file and logs are kept.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supports socks5://, http:// and https:// schemes.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestRetry multiplies the per-account retry budget of the streaming
	// engine. The engine attempts request-retry * accounts times; <= 0 uses
	// the default of 3.
	RequestRetry int `yaml:"request-retry" json:"request-retry"`

	// CallbackPort overrides the localhost port used for the OAuth callback
	// listener during interactive login. 0 uses the provider default.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// LoggingToFile switches log output from stdout to rotating files under
	// the auth directory.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// AccountsFilePath returns the absolute path of the credential pool state file.
func (c *Config) AccountsFilePath() string {
	return filepath.Join(c.AuthDir, DefaultAccountsFileName)
}

// LoadConfig reads a YAML configuration file from the given path and returns
// a populated Config. A missing file is not an error; defaults are returned
// so that first-run works without any configuration.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.AuthDir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.AuthDir = filepath.Join(home, ".agpool")
	} else if strings.HasPrefix(c.AuthDir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			c.AuthDir = filepath.Join(home, strings.TrimPrefix(c.AuthDir, "~"))
		}
	}
	if c.RequestRetry <= 0 {
		c.RequestRetry = 3
	}
}
