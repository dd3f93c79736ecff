// Command flutter-finder queries and drives Flutter widgets through Appium.
package main

import "github.com/devicelab-dev/flutter-finder/pkg/cli"

func main() {
	cli.Execute()
}
