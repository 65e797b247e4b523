package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tansive/kernelexec/internal/kernel/matcher"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// TokenEnvVar is consulted when no token is given by flag or config.
const TokenEnvVar = "JUPYTER_TOKEN"

// Config holds the defaults applied to every command. Flags always win over
// values read from the file.
type Config struct {
	// BaseURL of the server to use instead of discovery
	BaseURL string `yaml:"base_url" toml:"base_url" validate:"omitempty,http_url"`
	// Token used for BaseURL and for discovered servers without one
	Token string `yaml:"token" toml:"token"`
	// AutoDiscover runs `jupyter server list` when no base URL is known
	AutoDiscover bool `yaml:"auto_discover" toml:"auto_discover"`
	// InsecureSkipVerify disables TLS certificate checks, for self-signed servers
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	// JupyterCommand is the executable used for discovery
	JupyterCommand string `yaml:"jupyter_command" toml:"jupyter_command"`
	// Timeout is the per-read execution timeout in seconds
	Timeout int `yaml:"timeout" toml:"timeout" validate:"gte=1,lte=86400"`
	// ConnectRetries is the number of extra attempts to open a kernel channel
	ConnectRetries uint `yaml:"connect_retries" toml:"connect_retries" validate:"lte=10"`
	// Matching tunes how --kernel-match compares notebook names
	Matching matcher.Policy `yaml:"matching" toml:"matching"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		AutoDiscover:   true,
		JupyterCommand: "jupyter",
		Timeout:        60,
		Matching:       matcher.DefaultPolicy(),
	}
}

var config = DefaultConfig()

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/kernelexec on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "kernelexec", DefaultConfigFile), nil
}

// LoadConfig reads file over the defaults. Files ending in .toml are decoded
// as TOML, anything else as YAML. A missing file is only an error when
// required is set, i.e. when the user named it explicitly.
func LoadConfig(file string, required bool) (*Config, error) {
	c := DefaultConfig()
	raw, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := decodeConfig(file, raw, c); err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && !required:
	default:
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeConfig(file string, raw []byte, c *Config) error {
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		if _, err := toml.Decode(string(raw), c); err != nil {
			return fmt.Errorf("unable to parse config file: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("unable to parse config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports the first offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config value for %s: failed %q check", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}

// loadDotEnv loads .env from the working directory, if present. Variables
// already set in the environment are kept.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(cwd, ".env")) // no error if .env doesn't exist
}

// ResolveToken picks the first non-empty token from the flag value, the
// config file and the environment.
func (c *Config) ResolveToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if c.Token != "" {
		return c.Token
	}
	return os.Getenv(TokenEnvVar)
}
