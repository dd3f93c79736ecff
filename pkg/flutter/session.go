// Package flutter drives a Flutter app through the Appium Flutter driver.
//
// Elements are addressed by finders rather than looked up: the serialized
// finder itself is the element id, so obtaining an Element costs no round
// trip and every operation on it is resolved by the driver at call time.
//
//	s, err := flutter.Open("http://localhost:4723/wd/hub", capabilities)
//	if err != nil { ... }
//	defer s.Close()
//	text, err := s.Element(finder.ByText("You have pushed the button this many times:")).Text()
package flutter

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/flutter-finder/pkg/caps"
	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/driver/appium"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// Context names exposed by the Appium Flutter driver.
const (
	ContextFlutter = "FLUTTER"
	ContextNative  = "NATIVE_APP"
)

// Remote is the subset of the WebDriver client a Session needs.
type Remote interface {
	Connect(capabilities map[string]interface{}) (*core.SessionInfo, error)
	Disconnect() error
	SessionID() string

	GetElementText(elementID string) (string, error)
	GetElementAttribute(elementID, name string) (string, error)
	ClickElement(elementID string) error
	SetElementValue(elementID, text string) error
	ClearElement(elementID string) error

	ExecuteScript(script string, args ...interface{}) (interface{}, error)
	Contexts() ([]string, error)
	CurrentContext() (string, error)
	SetContext(name string) error
	Screenshot() ([]byte, error)
}

var _ Remote = (*appium.Client)(nil)

// Session is an open Flutter driver session.
type Session struct {
	remote Remote
	info   *core.SessionInfo
}

type openConfig struct {
	context      string
	healthCheck  bool
	clientOpts   []appium.Option
	remote       Remote
	frameSync    *bool
	frameTimeout time.Duration
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// WithContext switches to the named context (FLUTTER, NATIVE_APP) after the
// session is created.
func WithContext(name string) OpenOption {
	return func(c *openConfig) { c.context = name }
}

// WithHealthCheck runs flutter:checkHealth after the session is created.
func WithHealthCheck() OpenOption {
	return func(c *openConfig) { c.healthCheck = true }
}

// WithFrameSync sets frame synchronization right after connecting.
func WithFrameSync(enabled bool, timeout time.Duration) OpenOption {
	return func(c *openConfig) {
		c.frameSync = &enabled
		c.frameTimeout = timeout
	}
}

// WithClientOptions passes options to the underlying appium.Client.
func WithClientOptions(opts ...appium.Option) OpenOption {
	return func(c *openConfig) { c.clientOpts = append(c.clientOpts, opts...) }
}

// WithRemote uses r instead of a new appium.Client; serverURL is ignored.
func WithRemote(r Remote) OpenOption {
	return func(c *openConfig) { c.remote = r }
}

// Open validates capabilities, creates a remote session and applies the
// post-connect options. If any post-connect step fails the remote session is
// deleted before the error is returned.
func Open(serverURL string, capabilities *caps.Capabilities, opts ...OpenOption) (*Session, error) {
	if capabilities == nil {
		return nil, core.ErrMissingRequired.WithMessage("capabilities are required")
	}
	if err := capabilities.Validate(); err != nil {
		return nil, err
	}

	cfg := &openConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	remote := cfg.remote
	if remote == nil {
		remote = appium.NewClient(serverURL, cfg.clientOpts...)
	}

	logger.Info("Opening %s session on %s (%s %s)", capabilities.AutomationName, serverURL,
		capabilities.PlatformName, capabilities.PlatformVersion)
	info, err := remote.Connect(capabilities.W3C())
	if err != nil {
		return nil, err
	}
	if info.Platform == "" {
		info.Platform = capabilities.Platform()
	}

	s := &Session{remote: remote, info: info}
	if err := s.setup(cfg); err != nil {
		logger.Error("Session setup failed, deleting session %s: %v", info.ID, err)
		if derr := remote.Disconnect(); derr != nil {
			logger.Warn("Delete session %s: %v", info.ID, derr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) setup(cfg *openConfig) error {
	if cfg.context != "" {
		if err := s.SwitchContext(cfg.context); err != nil {
			return err
		}
	}
	if cfg.healthCheck {
		if err := s.CheckHealth(); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
	}
	if cfg.frameSync != nil {
		if err := s.SetFrameSync(*cfg.frameSync, cfg.frameTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Close deletes the remote session.
func (s *Session) Close() error {
	return s.remote.Disconnect()
}

// Info returns the negotiated session details.
func (s *Session) Info() *core.SessionInfo {
	return s.info
}

// Element returns a handle for the widget f resolves to.
func (s *Session) Element(f finder.Finder) *Element {
	return &Element{session: s, finder: f}
}

// Contexts lists the available contexts.
func (s *Session) Contexts() ([]string, error) {
	return s.remote.Contexts()
}

// CurrentContext returns the active context.
func (s *Session) CurrentContext() (string, error) {
	return s.remote.CurrentContext()
}

// SwitchContext switches to name, failing if the driver does not offer it.
func (s *Session) SwitchContext(name string) error {
	available, err := s.remote.Contexts()
	if err != nil {
		return err
	}
	found := false
	for _, c := range available {
		if c == name {
			found = true
			break
		}
	}
	if !found {
		return core.ErrInvalidArgument.WithMessagef("context %q not available (have %v)", name, available)
	}
	logger.Debug("Switching context to %s", name)
	return s.remote.SetContext(name)
}

// Screenshot captures the screen as PNG.
func (s *Session) Screenshot() ([]byte, error) {
	return s.remote.Screenshot()
}
