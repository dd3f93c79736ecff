// Package cli provides the command-line interface for flutter-finder.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutter-finder/pkg/caps"
	"github.com/devicelab-dev/flutter-finder/pkg/config"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "appium-url",
		Usage:   "Appium server URL",
		Value:   config.DefaultAppiumURL,
		EnvVars: []string{"APPIUM_URL"},
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to workspace config.yaml",
	},
	&cli.StringFlag{
		Name:  "caps",
		Usage: "Capabilities file (YAML or JSON)",
	},
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform name (iOS, Android)",
		EnvVars: []string{"FLUTTER_FINDER_PLATFORM"},
	},
	&cli.StringFlag{
		Name:  "platform-version",
		Usage: "Platform version (e.g. 12.4)",
	},
	&cli.StringFlag{
		Name:    "device-name",
		Aliases: []string{"device"},
		Usage:   "Device name (e.g. \"iPhone 8\")",
	},
	&cli.StringFlag{
		Name:    "app",
		Usage:   "App under test (.zip, .app, .ipa, .apk or URL)",
		EnvVars: []string{"FLUTTER_FINDER_APP"},
	},
	&cli.StringFlag{
		Name:  "automation-name",
		Usage: "Appium automation name",
		Value: caps.AutomationFlutter,
	},
	&cli.StringFlag{
		Name:  "context",
		Usage: "Context to switch to after connecting (FLUTTER, NATIVE_APP)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"FLUTTER_FINDER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Append the debug log to this file",
	},
	&cli.BoolFlag{
		Name:  "save-log",
		Usage: "Write the debug log to logDir from config ($FLUTTER_FINDER_HOME/logs by default)",
	},
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:    "flutter-finder",
		Usage:   "Query and drive Flutter widgets through the Appium Flutter driver",
		Version: Version,
		Description: `flutter-finder opens an Appium session with the Flutter driver and runs a
single command against a widget addressed by a finder.

Finders:
  text=<text>          widget showing exactly <text>
  key=<key>            ValueKey<String>
  key:int=<n>          ValueKey<int>
  type=<WidgetType>    widget runtime type
  tooltip=<message>    tooltip message
  label=<label>        semantics label (label:regexp=<pattern> for a pattern)
  pageBack             the page back button

Examples:
  flutter-finder -p iOS --platform-version 12.4 --device "iPhone 8" --app Runner.zip \
    text "text=You have pushed the button this many times:"
  flutter-finder --config config.yaml tap tooltip=Increment
  flutter-finder --config config.yaml wait --absent --timeout 30s key=spinner`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			textCommand,
			tapCommand,
			enterTextCommand,
			waitCommand,
			scrollCommand,
			scrollUntilVisibleCommand,
			healthCommand,
			renderTreeCommand,
		},
		Before:    setupLogging,
		After:     func(*cli.Context) error { logger.Close(); return nil },
		Writer:    stdout,
		ErrWriter: stderr,
	}
}

func setupLogging(c *cli.Context) error {
	if c.Bool("verbose") {
		logger.SetVerbose(true)
	}

	logPath := c.String("log-file")
	if logPath == "" && c.Bool("save-log") {
		cfg := config.Default()
		if path := c.String("config"); path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
		}
		dir := cfg.LogDirectory()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log dir: %w", err)
		}
		logPath = filepath.Join(dir, fmt.Sprintf("flutter-finder-%s.log", time.Now().Format("20060102-150405")))
	}
	if logPath != "" {
		if err := logger.Init(logPath); err != nil {
			return err
		}
		logger.Info("=== flutter-finder %s ===", Version)
	}
	return nil
}

// run executes the CLI with args and reports any error on stderr.
func run(args []string, stdout, stderr io.Writer) error {
	app := newApp(stdout, stderr)
	err := app.Run(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return err
}

// Execute runs the CLI.
func Execute() {
	if err := run(os.Args, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
