// Package appium is a W3C WebDriver client for an Appium server.
package appium

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Defaults for NewClient.
const (
	DefaultHTTPTimeout    = 60 * time.Second
	DefaultSessionTimeout = 5 * time.Minute // session creation installs the app
	DefaultConnectRetries = 3
)

// Client handles HTTP communication with Appium server.
type Client struct {
	serverURL      string
	sessionID      string
	client         *http.Client
	platform       string // ios, android
	capabilities   map[string]interface{}
	sessionTimeout time.Duration
	connectRetries int
	retryInterval  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPTimeout sets the per-request timeout for commands. Session
// creation uses WithSessionTimeout instead.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithSessionTimeout sets the timeout of the new-session request.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Client) { c.sessionTimeout = d }
}

// WithConnectRetries sets how many times session creation is retried when
// the connection to the server cannot be established. 0 disables retries.
func WithConnectRetries(n int) Option {
	return func(c *Client) { c.connectRetries = n }
}

// WithRetryInterval sets the initial backoff interval between connect attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a new Appium client.
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		sessionTimeout: DefaultSessionTimeout,
		connectRetries: DefaultConnectRetries,
		retryInterval:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newSessionRequest is the W3C new-session payload.
type newSessionRequest struct {
	Capabilities struct {
		AlwaysMatch map[string]interface{}   `json:"alwaysMatch"`
		FirstMatch  []map[string]interface{} `json:"firstMatch"`
	} `json:"capabilities"`
}

// Connect creates a new session with the given capabilities.
// Only failures to dial the server are retried, with exponential backoff.
// Once the request may have reached the server (timeouts, dropped
// connections, server errors) it is not sent again, since a second
// new-session request would start a second app install.
func (c *Client) Connect(capabilities map[string]interface{}) (*core.SessionInfo, error) {
	var body newSessionRequest
	body.Capabilities.AlwaysMatch = capabilities
	body.Capabilities.FirstMatch = []map[string]interface{}{{}}

	sessionClient := *c.client
	sessionClient.Timeout = c.sessionTimeout

	var resp map[string]interface{}
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		resp, err = c.do(&sessionClient, http.MethodPost, "/session", body)
		if err == nil {
			return nil
		}
		if isDialError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	retries := c.connectRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithMaxRetries(b, uint64(retries))

	notify := func(err error, wait time.Duration) {
		logger.Warn("Create session attempt %d failed: %v (retrying in %s)", attempt, err, wait)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return nil, core.ErrSessionNotCreated.WithMessage("invalid session response")
	}

	// Legacy JSONWP servers put sessionId at the top level.
	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		c.sessionID, _ = resp["sessionId"].(string)
	}
	if c.sessionID == "" {
		return nil, core.ErrSessionNotCreated.WithMessage("no session ID in response")
	}

	info := &core.SessionInfo{ID: c.sessionID}
	c.capabilities, _ = value["capabilities"].(map[string]interface{})
	if c.capabilities == nil {
		c.capabilities = capabilities
	}
	info.Capabilities = c.capabilities
	info.Platform = strings.ToLower(capString(c.capabilities, "platformName"))
	info.PlatformVersion = capString(c.capabilities, "platformVersion")
	info.DeviceName = capString(c.capabilities, "deviceName")
	info.AutomationName = capString(c.capabilities, "automationName")
	c.platform = info.Platform

	logger.Info("Session %s created (platform=%s, device=%s)", info.ID, info.Platform, info.DeviceName)
	return info, nil
}

// capString reads a capability with or without the appium: prefix.
func capString(caps map[string]interface{}, key string) string {
	if v, ok := caps[key].(string); ok {
		return v
	}
	v, _ := caps["appium:"+key].(string)
	return v
}

// Disconnect closes the session.
func (c *Client) Disconnect() error {
	if c.sessionID == "" {
		return nil
	}
	logger.Debug("Deleting session %s", c.sessionID)
	_, err := c.delete(c.sessionPath())
	c.sessionID = ""
	return err
}

// SessionID returns the current session id, or "" when not connected.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Platform returns the platform (ios/android).
func (c *Client) Platform() string {
	return c.platform
}

// Element Operations

// FindElement finds a single element.
func (c *Client) FindElement(strategy, value string) (string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(c.sessionPath()+"/element", body)
	if err != nil {
		return "", err
	}

	elemValue, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", core.ErrElementNotFound
	}
	id := extractElementID(elemValue)
	if id == "" {
		return "", core.ErrElementNotFound
	}
	return id, nil
}

// ClickElement clicks an element using WebDriver standard endpoint.
func (c *Client) ClickElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// ClearElement clears an element's text.
func (c *Client) ClearElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SetElementValue types text into an element.
func (c *Client) SetElementValue(elementID, text string) error {
	_, err := c.post(c.elementPath(elementID)+"/value", map[string]interface{}{
		"text":  text,
		"value": strings.Split(text, ""),
	})
	return err
}

// GetElementText returns an element's text.
func (c *Client) GetElementText(elementID string) (string, error) {
	resp, err := c.get(c.elementPath(elementID) + "/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// GetElementAttribute returns an element's attribute value.
func (c *Client) GetElementAttribute(elementID, name string) (string, error) {
	resp, err := c.get(c.elementPath(elementID) + "/attribute/" + name)
	if err != nil {
		return "", err
	}
	switch v := resp["value"].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// GetElementRect returns an element's position and size.
func (c *Client) GetElementRect(elementID string) (core.Bounds, error) {
	resp, err := c.get(c.elementPath(elementID) + "/rect")
	if err != nil {
		return core.Bounds{}, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return core.Bounds{}, core.ErrCommandFailed.WithMessage("invalid rect response")
	}

	xf, _ := value["x"].(float64)
	yf, _ := value["y"].(float64)
	wf, _ := value["width"].(float64)
	hf, _ := value["height"].(float64)
	return core.Bounds{X: int(xf), Y: int(yf), Width: int(wf), Height: int(hf)}, nil
}

// IsElementDisplayed checks if element is visible.
func (c *Client) IsElementDisplayed(elementID string) (bool, error) {
	resp, err := c.get(c.elementPath(elementID) + "/displayed")
	if err != nil {
		return false, err
	}
	displayed, _ := resp["value"].(bool)
	return displayed, nil
}

// Scripts

// ExecuteScript runs a script via /execute/sync and returns the value.
// Appium drivers expose vendor commands this way ("mobile: ...", "flutter:...").
func (c *Client) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	resp, err := c.post(c.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// Contexts

// Contexts lists the available automation contexts, e.g. FLUTTER, NATIVE_APP.
func (c *Client) Contexts() ([]string, error) {
	resp, err := c.get(c.sessionPath() + "/contexts")
	if err != nil {
		return nil, err
	}
	values, _ := resp["value"].([]interface{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// CurrentContext returns the active context name.
func (c *Client) CurrentContext() (string, error) {
	resp, err := c.get(c.sessionPath() + "/context")
	if err != nil {
		return "", err
	}
	name, _ := resp["value"].(string)
	return name, nil
}

// SetContext switches the active context.
func (c *Client) SetContext(name string) error {
	_, err := c.post(c.sessionPath()+"/context", map[string]interface{}{
		"name": name,
	})
	return err
}

// Screen Operations

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot() ([]byte, error) {
	resp, err := c.get(c.sessionPath() + "/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, core.ErrCommandFailed.WithMessage("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Source returns the page source.
func (c *Client) Source() (string, error) {
	resp, err := c.get(c.sessionPath() + "/source")
	if err != nil {
		return "", err
	}
	source, _ := resp["value"].(string)
	return source, nil
}

// Timeouts

// SetImplicitWait sets the implicit wait timeout.
func (c *Client) SetImplicitWait(timeout time.Duration) error {
	_, err := c.post(c.sessionPath()+"/timeouts", map[string]interface{}{
		"implicit": timeout.Milliseconds(),
	})
	return err
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

// elementPath escapes the id: Flutter finder ids are base64 and may contain '/'.
func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + url.PathEscape(elementID)
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	return c.request(http.MethodGet, path, nil)
}

func (c *Client) post(path string, body interface{}) (map[string]interface{}, error) {
	return c.request(http.MethodPost, path, body)
}

func (c *Client) delete(path string) (map[string]interface{}, error) {
	return c.request(http.MethodDelete, path, nil)
}

func (c *Client) request(method, path string, body interface{}) (map[string]interface{}, error) {
	return c.do(c.client, method, path, body)
}

func (c *Client) do(hc *http.Client, method, path string, body interface{}) (map[string]interface{}, error) {
	endpoint := c.serverURL + path
	requestID := uuid.NewString()
	log := logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	})

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, transportError(err, hc.Timeout)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrServerUnreachable.WithCause(err)
	}
	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request done")

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 400 {
			return nil, core.ErrCommandFailed.WithMessagef("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			errMsg, _ := errValue["message"].(string)
			return result, core.FromW3C(errType, errMsg)
		}
	}
	if resp.StatusCode >= 400 {
		return result, core.ErrCommandFailed.WithMessagef("HTTP %d", resp.StatusCode)
	}

	return result, nil
}

// transportError classifies a failed round trip. A failed dial means the
// request never left; anything else may have reached the server.
func transportError(err error, timeout time.Duration) error {
	if isDialError(err) {
		return core.ErrServerUnreachable.WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrRequestTimeout.
			WithMessagef("no response from automation server within %s", timeout).
			WithCause(err)
	}
	return core.ErrServerUnreachable.
		WithMessage("connection to automation server lost").
		WithCause(err)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
