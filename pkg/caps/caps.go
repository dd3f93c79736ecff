// Package caps models the Appium capability set for a Flutter session.
package caps

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
)

// Supported platform names (compared case-insensitively).
const (
	PlatformIOS     = "iOS"
	PlatformAndroid = "Android"
)

// AutomationFlutter is the automationName of the Appium Flutter driver.
const AutomationFlutter = "Flutter"

// vendorPrefix is the W3C extension prefix Appium requires on non-standard keys.
const vendorPrefix = "appium:"

// Capabilities describes the desired session.
type Capabilities struct {
	PlatformName      string `yaml:"platformName" json:"platformName"`
	AutomationName    string `yaml:"automationName" json:"automationName"`
	PlatformVersion   string `yaml:"platformVersion" json:"platformVersion"`
	DeviceName        string `yaml:"deviceName" json:"deviceName"`
	App               string `yaml:"app" json:"app"`
	UDID              string `yaml:"udid" json:"udid"`
	NewCommandTimeout int    `yaml:"newCommandTimeout" json:"newCommandTimeout"` // seconds

	// Extra holds any other capability, passed through as given.
	Extra map[string]interface{} `yaml:"extra" json:"extra"`
}

// Load reads capabilities from a YAML or JSON file.
func Load(path string) (*Capabilities, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided caps file
	if err != nil {
		return nil, fmt.Errorf("failed to read caps file: %w", err)
	}

	var c Capabilities
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, core.ErrInvalidConfig.WithMessagef("failed to parse caps file %s", path).WithCause(err)
	}
	return &c, nil
}

// ResolveApp makes a relative App path absolute against baseDir.
// URLs and absolute paths are left alone.
func (c *Capabilities) ResolveApp(baseDir string) {
	if c.App == "" || filepath.IsAbs(c.App) || isURL(c.App) {
		return
	}
	c.App = filepath.Clean(filepath.Join(baseDir, c.App))
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks the fields every Flutter session needs.
func (c *Capabilities) Validate() error {
	switch strings.ToLower(c.PlatformName) {
	case "ios", "android":
	case "":
		return core.ErrMissingRequired.WithMessage("platformName is required")
	default:
		return core.ErrUnsupportedPlatform.WithMessagef("unsupported platformName: %s", c.PlatformName)
	}

	if c.AutomationName == "" {
		return core.ErrMissingRequired.WithMessage("automationName is required")
	}

	if c.PlatformVersion != "" {
		if _, err := semver.NewVersion(c.PlatformVersion); err != nil {
			return core.ErrInvalidConfig.
				WithMessagef("invalid platformVersion %q", c.PlatformVersion).
				WithCause(err)
		}
	}
	return nil
}

// Platform returns the lower-cased platform name.
func (c *Capabilities) Platform() string {
	return strings.ToLower(c.PlatformName)
}

// W3C returns the alwaysMatch capability map.
func (c *Capabilities) W3C() map[string]interface{} {
	out := make(map[string]interface{})
	if c.PlatformName != "" {
		out["platformName"] = c.PlatformName
	}

	set := func(key string, value string) {
		if value != "" {
			out[vendorPrefix+key] = value
		}
	}
	set("automationName", c.AutomationName)
	set("platformVersion", c.PlatformVersion)
	set("deviceName", c.DeviceName)
	set("app", c.App)
	set("udid", c.UDID)
	if c.NewCommandTimeout > 0 {
		out[vendorPrefix+"newCommandTimeout"] = c.NewCommandTimeout
	}

	for k, v := range c.Extra {
		if !strings.Contains(k, ":") && k != "platformName" && k != "browserName" {
			k = vendorPrefix + k
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every non-empty field of override applied.
func (c Capabilities) Merge(override Capabilities) Capabilities {
	out := c
	if override.PlatformName != "" {
		out.PlatformName = override.PlatformName
	}
	if override.AutomationName != "" {
		out.AutomationName = override.AutomationName
	}
	if override.PlatformVersion != "" {
		out.PlatformVersion = override.PlatformVersion
	}
	if override.DeviceName != "" {
		out.DeviceName = override.DeviceName
	}
	if override.App != "" {
		out.App = override.App
	}
	if override.UDID != "" {
		out.UDID = override.UDID
	}
	if override.NewCommandTimeout != 0 {
		out.NewCommandTimeout = override.NewCommandTimeout
	}

	if len(c.Extra) > 0 || len(override.Extra) > 0 {
		out.Extra = make(map[string]interface{}, len(c.Extra)+len(override.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
		for k, v := range override.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
