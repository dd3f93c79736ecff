// Package config handles configuration for flutter-finder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/flutter-finder/pkg/caps"
	"github.com/devicelab-dev/flutter-finder/pkg/core"
)

// Defaults used when config.yaml leaves a setting out.
const (
	DefaultAppiumURL      = "http://localhost:4723/wd/hub"
	DefaultConnectRetries = 3
	DefaultCommandTimeout = 60 * time.Second
	DefaultSessionTimeout = 5 * time.Minute
	DefaultWaitTimeout    = 10 * time.Second
)

// HomeEnv overrides the directory --save-log writes under when logDir is unset.
const HomeEnv = "FLUTTER_FINDER_HOME"

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Server settings
	AppiumURL      string   `yaml:"appiumUrl"`
	ConnectRetries int      `yaml:"connectRetries"`
	CommandTimeout Duration `yaml:"commandTimeout"` // HTTP timeout per command
	SessionTimeout Duration `yaml:"sessionTimeout"` // HTTP timeout for POST /session, which installs the app
	WaitTimeout    Duration `yaml:"waitTimeout"`    // default for wait and scroll-until commands
	LogDir         string   `yaml:"logDir"`         // where --save-log writes; see LogDirectory

	// Session settings
	Capabilities caps.Capabilities `yaml:"capabilities"`
	Context      string            `yaml:"context"` // FLUTTER or NATIVE_APP; empty keeps the driver's default
}

// Duration is a time.Duration that reads "1m30s" style strings or plain
// seconds from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		AppiumURL:      DefaultAppiumURL,
		ConnectRetries: DefaultConnectRetries,
		CommandTimeout: Duration(DefaultCommandTimeout),
		SessionTimeout: Duration(DefaultSessionTimeout),
		WaitTimeout:    Duration(DefaultWaitTimeout),
		Capabilities: caps.Capabilities{
			AutomationName: caps.AutomationFlutter,
		},
	}
}

// Load loads configuration from a file. Settings missing from the file keep
// their defaults. A relative capabilities.app or logDir is resolved against
// the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessagef("failed to parse %s", path).WithCause(err)
	}
	if cfg.ConnectRetries < 0 {
		return nil, core.ErrInvalidConfig.WithMessagef("%s: connectRetries must not be negative", path)
	}
	if cfg.CommandTimeout < 0 || cfg.SessionTimeout < 0 || cfg.WaitTimeout < 0 {
		return nil, core.ErrInvalidConfig.WithMessagef("%s: timeouts must not be negative", path)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.Capabilities.ResolveApp(dir)
	if cfg.LogDir != "" && !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(dir, cfg.LogDir)
	}
	return cfg, nil
}

// LogDirectory returns the directory for saved debug logs: logDir when set,
// else $FLUTTER_FINDER_HOME/logs, else flutter-finder/logs under the user
// cache directory.
func (c *Config) LogDirectory() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, "logs")
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "flutter-finder", "logs")
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found
	return Default(), nil
}
