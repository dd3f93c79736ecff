package cli

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutter-finder/pkg/config"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
	"github.com/devicelab-dev/flutter-finder/pkg/flutter"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

var textCommand = &cli.Command{
	Name:      "text",
	Usage:     "Print the text of a widget",
	ArgsUsage: "<finder>",
	Description: `Examples:
  flutter-finder text "text=You have pushed the button this many times:"
  flutter-finder text key=counter`,
	Action: runText,
}

var tapCommand = &cli.Command{
	Name:      "tap",
	Usage:     "Tap a widget",
	ArgsUsage: "<finder>",
	Action:    runTap,
}

var enterTextCommand = &cli.Command{
	Name:      "enter-text",
	Usage:     "Type text into a text field",
	ArgsUsage: "<finder> <text>",
	Action:    runEnterText,
}

var waitCommand = &cli.Command{
	Name:      "wait",
	Usage:     "Wait for a widget to appear, disappear or become tappable",
	ArgsUsage: "<finder>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "absent",
			Usage: "Wait until the widget is gone",
		},
		&cli.BoolFlag{
			Name:  "tappable",
			Usage: "Wait until the widget can be tapped",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait (default: waitTimeout from config, 10s)",
		},
	},
	Action: runWait,
}

var scrollCommand = &cli.Command{
	Name:      "scroll",
	Usage:     "Drag a scrollable widget",
	ArgsUsage: "<finder>",
	Flags: []cli.Flag{
		&cli.Float64Flag{Name: "dx", Usage: "Horizontal distance in logical pixels"},
		&cli.Float64Flag{Name: "dy", Usage: "Vertical distance in logical pixels"},
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "Gesture duration",
			Value: flutter.DefaultScrollDuration,
		},
		&cli.IntFlag{
			Name:  "frequency",
			Usage: "Move events per second",
			Value: flutter.DefaultFrequency,
		},
	},
	Action: runScroll,
}

var scrollUntilVisibleCommand = &cli.Command{
	Name:      "scroll-until-visible",
	Usage:     "Scroll a list until an item is visible",
	ArgsUsage: "<scrollable-finder> <item-finder>",
	Description: `Scrolls <scrollable-finder> by (--dx, --dy) until <item-finder> exists,
then scrolls the item into view at --alignment.

Examples:
  flutter-finder scroll-until-visible --dy -300 type=ListView key=item-50`,
	Flags: []cli.Flag{
		&cli.Float64Flag{Name: "dx", Usage: "Horizontal step in logical pixels"},
		&cli.Float64Flag{Name: "dy", Usage: "Vertical step in logical pixels"},
		&cli.Float64Flag{
			Name:  "alignment",
			Usage: "Final position in the viewport (0.0 leading, 1.0 trailing)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Give up after this long (default: waitTimeout from config, 10s)",
		},
		&cli.BoolFlag{
			Name:  "tappable",
			Usage: "Wait until the item can be tapped, not only present",
		},
	},
	Action: runScrollUntilVisible,
}

var healthCommand = &cli.Command{
	Name:   "health",
	Usage:  "Check the Flutter driver extension in the app",
	Action: runHealth,
}

var renderTreeCommand = &cli.Command{
	Name:   "render-tree",
	Usage:  "Print the app's render tree",
	Action: runRenderTree,
}

// finderArgs parses exactly n finder arguments starting at the first one.
func finderArgs(c *cli.Context, n int, usage string) ([]finder.Finder, error) {
	if c.NArg() < n {
		return nil, fmt.Errorf("usage: %s %s", c.Command.Name, usage)
	}
	out := make([]finder.Finder, 0, n)
	for i := 0; i < n; i++ {
		f, err := finder.Parse(c.Args().Get(i))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func waitTimeout(c *cli.Context, cfg *config.Config) time.Duration {
	if c.IsSet("timeout") {
		return c.Duration("timeout")
	}
	return cfg.WaitTimeout.Std()
}

func runText(c *cli.Context) error {
	fs, err := finderArgs(c, 1, "<finder>")
	if err != nil {
		return err
	}
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		text, err := s.Element(fs[0]).Text()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, text)
		return nil
	})
}

func runTap(c *cli.Context) error {
	fs, err := finderArgs(c, 1, "<finder>")
	if err != nil {
		return err
	}
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		return s.Element(fs[0]).Click()
	})
}

func runEnterText(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s <finder> <text>", c.Command.Name)
	}
	fs, err := finderArgs(c, 1, "<finder> <text>")
	if err != nil {
		return err
	}
	text := c.Args().Get(1)
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		return s.Element(fs[0]).SendKeys(text)
	})
}

func runWait(c *cli.Context) error {
	if c.Bool("absent") && c.Bool("tappable") {
		return fmt.Errorf("--absent and --tappable are mutually exclusive")
	}
	fs, err := finderArgs(c, 1, "<finder>")
	if err != nil {
		return err
	}
	return withSession(c, func(s *flutter.Session, cfg *config.Config) error {
		timeout := waitTimeout(c, cfg)
		switch {
		case c.Bool("absent"):
			return s.WaitForAbsent(fs[0], timeout)
		case c.Bool("tappable"):
			return s.WaitForTappable(fs[0], timeout)
		default:
			return s.WaitFor(fs[0], timeout)
		}
	})
}

func runScroll(c *cli.Context) error {
	fs, err := finderArgs(c, 1, "<finder>")
	if err != nil {
		return err
	}
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		return s.Scroll(fs[0], flutter.ScrollOptions{
			DX:        c.Float64("dx"),
			DY:        c.Float64("dy"),
			Duration:  c.Duration("duration"),
			Frequency: c.Int("frequency"),
		})
	})
}

func runScrollUntilVisible(c *cli.Context) error {
	fs, err := finderArgs(c, 2, "<scrollable-finder> <item-finder>")
	if err != nil {
		return err
	}
	return withSession(c, func(s *flutter.Session, cfg *config.Config) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
		defer stop()

		opts := flutter.ScrollUntilOptions{
			Item:        fs[1],
			Alignment:   c.Float64("alignment"),
			DXScroll:    c.Float64("dx"),
			DYScroll:    c.Float64("dy"),
			WaitTimeout: waitTimeout(c, cfg),
		}
		start := time.Now()
		scrollUntil := s.ScrollUntilVisible
		if c.Bool("tappable") {
			scrollUntil = s.ScrollUntilTapable
		}
		if err := scrollUntil(ctx, fs[0], opts); err != nil {
			return err
		}
		logger.Info("%s visible after %s", fs[1].Describe(), time.Since(start))
		return nil
	})
}

func runHealth(c *cli.Context) error {
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		if err := s.CheckHealth(); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "ok")
		return nil
	})
}

func runRenderTree(c *cli.Context) error {
	return withSession(c, func(s *flutter.Session, _ *config.Config) error {
		tree, err := s.RenderTree()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, tree)
		return nil
	})
}
