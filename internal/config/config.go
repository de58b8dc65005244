// Package config handles the configuration directory, file paths, and
// settings loaded from config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName is the application directory name.
	AppName = "tasksync"

	// EnvPrefix prefixes environment overrides, e.g. TASKSYNC_COLLECTION.
	EnvPrefix = "TASKSYNC"

	// ConfigFile is the settings filename inside the config directory.
	ConfigFile = "config.yaml"

	// OAuthClientFile is the optional Google OAuth client credentials file.
	OAuthClientFile = "oauth_client.json"

	// TokenFile is the stored OAuth token filename.
	TokenFile = "token.json"

	// TasksScope grants read/write access to Google Tasks.
	TasksScope = "https://www.googleapis.com/auth/tasks"
)

// Backend names.
const (
	BackendGoogle = "google"
	BackendMemory = "memory"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string `mapstructure:"-"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	// Quiet suppresses informational output.
	Quiet bool `mapstructure:"quiet"`

	// Backend selects the collaborators: "google" or "memory".
	Backend string `mapstructure:"backend"`

	// Collection is the remote collection (task list) id.
	Collection string `mapstructure:"collection"`

	// Policy is the mirror reconciliation policy: auto, write-through, ephemeral.
	Policy string `mapstructure:"policy"`

	// RetryDelay is the first re-subscribe delay after a stream drops.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// WaitTimeout bounds how long commands wait for provider and store events.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	Auth  AuthConfig  `mapstructure:"auth"`
	Tasks TasksConfig `mapstructure:"tasks"`
}

// AuthConfig configures the OAuth2 identity provider.
type AuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	SignUpURL    string   `mapstructure:"signup_url"`
	UserinfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`

	// CallbackPort is the first loopback port tried for the browser
	// sign-in redirect. 0 picks any free port.
	CallbackPort int `mapstructure:"callback_port"`
}

// TasksConfig configures the Google Tasks store.
type TasksConfig struct {
	// Endpoint overrides the API base URL.
	Endpoint string `mapstructure:"endpoint"`

	// PollInterval is how often the task list is re-read.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// New creates a Config with the default or specified config directory.
// If configDir is empty, uses XDG_CONFIG_HOME/tasksync or $HOME/.config/tasksync.
// Settings come from defaults, then config.yaml in the directory if present,
// then TASKSYNC_* environment variables.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetDefault("debug", false)
	v.SetDefault("quiet", false)
	v.SetDefault("backend", BackendGoogle)
	v.SetDefault("collection", "@default")
	v.SetDefault("policy", "auto")
	v.SetDefault("retry_delay", "1s")
	v.SetDefault("wait_timeout", "30s")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.auth_url", "")
	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.signup_url", "")
	v.SetDefault("auth.userinfo_url", "")
	v.SetDefault("auth.scopes", []string{"openid", "email", "profile", TasksScope})
	v.SetDefault("auth.callback_port", 8085)
	v.SetDefault("tasks.endpoint", "")
	v.SetDefault("tasks.poll_interval", "5s")

	v.SetConfigFile(filepath.Join(dir, ConfigFile))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", ConfigFile, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q: must be %s or %s", c.Backend, BackendGoogle, BackendMemory)
	}
	switch c.Policy {
	case "", "auto", "write-through", "ephemeral":
	default:
		return fmt.Errorf("invalid policy %q: must be auto, write-through or ephemeral", c.Policy)
	}
	if strings.TrimSpace(c.Collection) == "" {
		return errors.New("collection must not be empty")
	}
	return nil
}

// OAuthScopes returns the scopes to request. The google backend always
// gets TasksScope, even when auth.scopes overrides the defaults.
func (c *Config) OAuthScopes() []string {
	scopes := slices.Clone(c.Auth.Scopes)
	if c.Backend == BackendGoogle && !slices.Contains(scopes, TasksScope) {
		scopes = append(scopes, TasksScope)
	}
	return scopes
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// OAuthClientPath returns the path to the OAuth client credentials file.
func (c *Config) OAuthClientPath() string {
	return filepath.Join(c.Dir, OAuthClientFile)
}

// TokenPath returns the path to the stored OAuth token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Dir, TokenFile)
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// HasOAuthClient checks if the OAuth client credentials file exists.
func (c *Config) HasOAuthClient() bool {
	_, err := os.Stat(c.OAuthClientPath())
	return err == nil
}

// HasToken checks if the token file exists.
func (c *Config) HasToken() bool {
	_, err := os.Stat(c.TokenPath())
	return err == nil
}

// RemoveToken deletes the token file.
func (c *Config) RemoveToken() error {
	return os.Remove(c.TokenPath())
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
