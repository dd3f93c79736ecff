package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutter-finder/pkg/caps"
	"github.com/devicelab-dev/flutter-finder/pkg/config"
	"github.com/devicelab-dev/flutter-finder/pkg/driver/appium"
	"github.com/devicelab-dev/flutter-finder/pkg/flutter"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// resolveConfig builds the effective configuration. Precedence, lowest first:
// defaults, --config file, --caps file, individual flags.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if path := c.String("caps"); path != "" {
		fileCaps, err := caps.Load(path)
		if err != nil {
			return nil, err
		}
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		fileCaps.ResolveApp(dir)
		cfg.Capabilities = cfg.Capabilities.Merge(*fileCaps)
	}

	var flagCaps caps.Capabilities
	if c.IsSet("platform") {
		flagCaps.PlatformName = c.String("platform")
	}
	if c.IsSet("platform-version") {
		flagCaps.PlatformVersion = c.String("platform-version")
	}
	if c.IsSet("device-name") {
		flagCaps.DeviceName = c.String("device-name")
	}
	if c.IsSet("automation-name") {
		flagCaps.AutomationName = c.String("automation-name")
	}
	if c.IsSet("app") {
		flagCaps.App = c.String("app")
		if cwd, err := os.Getwd(); err == nil {
			flagCaps.ResolveApp(cwd)
		}
	}
	cfg.Capabilities = cfg.Capabilities.Merge(flagCaps)

	if c.IsSet("appium-url") || cfg.AppiumURL == "" {
		cfg.AppiumURL = c.String("appium-url")
	}
	if c.IsSet("context") {
		cfg.Context = c.String("context")
	}
	return cfg, nil
}

// withSession opens a session from the resolved configuration, runs fn and
// closes the session whatever fn returns.
func withSession(c *cli.Context, fn func(s *flutter.Session, cfg *config.Config) error) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}

	opts := []flutter.OpenOption{
		flutter.WithClientOptions(
			appium.WithConnectRetries(cfg.ConnectRetries),
			appium.WithHTTPTimeout(cfg.CommandTimeout.Std()),
			appium.WithSessionTimeout(cfg.SessionTimeout.Std()),
		),
	}
	if cfg.Context != "" {
		opts = append(opts, flutter.WithContext(cfg.Context))
	}

	s, err := flutter.Open(cfg.AppiumURL, &cfg.Capabilities, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("Failed to delete session: %v", cerr)
		}
	}()

	return fn(s, cfg)
}
