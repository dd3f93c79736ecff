// Command counter reads the label of the Flutter counter sample on an iOS
// simulator through a local Appium server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/devicelab-dev/flutter-finder/pkg/caps"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
	"github.com/devicelab-dev/flutter-finder/pkg/flutter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Dir(file)

	capabilities := &caps.Capabilities{
		PlatformName:    caps.PlatformIOS,
		AutomationName:  "flutter",
		PlatformVersion: "12.4",
		DeviceName:      "iPhone 8",
		App:             filepath.Join(dir, "..", "app", "app", "Runner.zip"),
	}

	s, err := flutter.Open("http://localhost:4723/wd/hub", capabilities)
	if err != nil {
		return err
	}
	defer s.Close()

	label := finder.ByText("You have pushed the button this many times:")
	text, err := s.Element(label).Text()
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}
