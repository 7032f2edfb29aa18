package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	httpdl "github.com/tanq16/segload/internal/downloaders/http"
	"github.com/tanq16/segload/internal/progresslog"
	"github.com/tanq16/segload/internal/utils"
)

const EnvPrefix = "SEGLOAD"

type Config struct {
	OutputDir      string            `mapstructure:"output_dir" yaml:"output_dir"`
	Connections    int               `mapstructure:"connections" yaml:"connections"`
	UpdateInterval time.Duration     `mapstructure:"update_interval" yaml:"update_interval"`
	Resume         bool              `mapstructure:"resume" yaml:"resume"`
	BufferSize     int               `mapstructure:"buffer_size" yaml:"buffer_size"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	StallTimeout   time.Duration     `mapstructure:"stall_timeout" yaml:"stall_timeout"`
	UserAgent      string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers"`
	Proxy          string            `mapstructure:"proxy" yaml:"proxy"`
	ProxyUsername  string            `mapstructure:"proxy_username" yaml:"proxy_username"`
	ProxyPassword  string            `mapstructure:"proxy_password" yaml:"proxy_password"`
	Retry          RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Store          StoreConfig       `mapstructure:"store" yaml:"store"`
	Debug          bool              `mapstructure:"debug" yaml:"debug"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff" yaml:"backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"output":          "output_dir",
	"connections":     "connections",
	"interval":        "update_interval",
	"resume":          "resume",
	"buffer-size":     "buffer_size",
	"connect-timeout": "connect_timeout",
	"stall-timeout":   "stall_timeout",
	"user-agent":      "user_agent",
	"proxy":           "proxy",
	"proxy-username":  "proxy_username",
	"proxy-password":  "proxy_password",
	"retries":         "retry.max_retries",
	"store":           "store.driver",
	"store-path":      "store.path",
	"debug":           "debug",
}

// DefaultDir is where the config file and the progress log live unless
// told otherwise.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".segload"
	}
	return filepath.Join(home, ".segload")
}

func setDefaults(v *viper.Viper) {
	defaults := httpdl.DefaultOptions()
	v.SetDefault("output_dir", ".")
	v.SetDefault("connections", utils.DefaultConnections)
	v.SetDefault("update_interval", utils.DefaultUpdateInterval)
	v.SetDefault("resume", true)
	v.SetDefault("buffer_size", defaults.BufferSize)
	v.SetDefault("connect_timeout", utils.DefaultConnectTimeout)
	v.SetDefault("stall_timeout", time.Duration(0))
	v.SetDefault("user_agent", utils.ToolUserAgent)
	v.SetDefault("headers", map[string]string{})
	v.SetDefault("proxy", "")
	v.SetDefault("proxy_username", "")
	v.SetDefault("proxy_password", "")
	v.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	v.SetDefault("retry.backoff", defaults.Retry.Backoff)
	v.SetDefault("retry.max_backoff", defaults.Retry.MaxBackoff)
	v.SetDefault("store.driver", progresslog.DriverSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("debug", false)
}

// Load layers defaults, an optional YAML file, SEGLOAD_* variables and the
// flags that were set. An empty path falls back to DefaultDir()/config.yaml
// when that file exists.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		candidate := filepath.Join(DefaultDir(), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath(cfg.Store.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func DefaultStorePath(driver string) string {
	if strings.EqualFold(driver, progresslog.DriverYAML) {
		return filepath.Join(DefaultDir(), "progress.yaml")
	}
	return filepath.Join(DefaultDir(), "progress.db")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Connections < 1 {
		errs = append(errs, fmt.Errorf("connections must be at least 1, got %d", c.Connections))
	}
	if c.UpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("update_interval must be positive, got %s", c.UpdateInterval))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.ConnectTimeout < 0 || c.StallTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry backoff cannot be negative"))
	}
	switch strings.ToLower(c.Store.Driver) {
	case progresslog.DriverSQLite, progresslog.DriverYAML:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", progresslog.ErrUnknownDriver, c.Store.Driver))
	}
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			errs = append(errs, fmt.Errorf("invalid proxy URL: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ClientConfig builds the HTTP client settings. Credentials embedded in the
// proxy URL are used when none are configured separately.
func (c *Config) ClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUser, proxyPass := c.Proxy, c.ProxyUsername, c.ProxyPassword
	if parsed, err := url.Parse(proxyURL); err == nil && parsed.User != nil && proxyUser == "" {
		proxyUser = parsed.User.Username()
		if password, set := parsed.User.Password(); set {
			proxyPass = password
		}
		parsed.User = nil
		proxyURL = parsed.String()
	}
	return utils.HTTPClientConfig{
		ConnectTimeout: c.ConnectTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUser,
		ProxyPassword:  proxyPass,
		UserAgent:      userAgent,
		Headers:        c.Headers,
		HighThreadMode: c.Connections > 8,
	}
}

func (c *Config) DownloadOptions() httpdl.Options {
	return httpdl.Options{
		BufferSize:   c.BufferSize,
		StallTimeout: c.StallTimeout,
		Retry: httpdl.RetryPolicy{
			MaxRetries: c.Retry.MaxRetries,
			Backoff:    c.Retry.Backoff,
			MaxBackoff: c.Retry.MaxBackoff,
		},
	}
}

func (c *Config) OpenStore() (progresslog.Store, error) {
	return progresslog.Open(c.Store.Driver, c.Store.Path)
}
