package flutter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// OffsetType selects a corner (or the center) of a widget for Offset.
type OffsetType string

// Offset types.
const (
	Center      OffsetType = "getCenter"
	TopLeft     OffsetType = "getTopLeft"
	TopRight    OffsetType = "getTopRight"
	BottomLeft  OffsetType = "getBottomLeft"
	BottomRight OffsetType = "getBottomRight"
)

func (s *Session) execute(command string, args ...interface{}) (interface{}, error) {
	logger.Debug("flutter:%s", command)
	return s.remote.ExecuteScript("flutter:"+command, args...)
}

// Wait commands

// WaitFor blocks until the widget exists in the tree. A zero timeout uses the
// driver's default.
func (s *Session) WaitFor(f finder.Finder, timeout time.Duration) error {
	return s.wait("waitFor", f, timeout)
}

// WaitForAbsent blocks until the widget is no longer in the tree.
func (s *Session) WaitForAbsent(f finder.Finder, timeout time.Duration) error {
	return s.wait("waitForAbsent", f, timeout)
}

// WaitForTappable blocks until the widget can receive taps.
func (s *Session) WaitForTappable(f finder.Finder, timeout time.Duration) error {
	return s.wait("waitForTappable", f, timeout)
}

func (s *Session) wait(command string, f finder.Finder, timeout time.Duration) error {
	if f.IsZero() {
		return core.ErrInvalidArgument.WithMessagef("%s: finder is required", command)
	}
	args := []interface{}{f.String()}
	if timeout > 0 {
		args = append(args, timeout.Milliseconds())
	}
	_, err := s.execute(command, args...)
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return core.ErrWaitTimeout.
			WithMessagef("%s %s timed out after %s", command, f.Describe(), timeout).
			WithCause(err)
	}
	return err
}

// isTimeout reports whether err is a wait timing out: a W3C timeout, or a
// generic driver failure whose message mentions the timeout. Transport,
// session and argument errors are never wait timeouts.
func isTimeout(err error) bool {
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		return false
	}
	if errors.Is(execErr, core.ErrTimeout) {
		return true
	}
	if !errors.Is(execErr, core.ErrCommandFailed) {
		return false
	}
	msg := strings.ToLower(execErr.Message)
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout")
}

// Diagnostics

// CheckHealth asks the Flutter driver extension for its status.
func (s *Session) CheckHealth() error {
	value, err := s.execute("checkHealth")
	if err != nil {
		return err
	}
	status := ""
	switch v := value.(type) {
	case string:
		status = v
	case map[string]interface{}:
		status, _ = v["status"].(string)
	}
	if !strings.EqualFold(status, "ok") {
		return core.ErrCommandFailed.WithMessagef("flutter driver unhealthy: %v", value)
	}
	return nil
}

// RenderTree returns the textual dump of the render tree.
func (s *Session) RenderTree() (string, error) {
	value, err := s.execute("getRenderTree")
	if err != nil {
		return "", err
	}
	return stringValue(value, "tree"), nil
}

// SemanticsID returns the semantics node id of the widget.
func (s *Session) SemanticsID(f finder.Finder) (int, error) {
	value, err := s.execute("getSemanticsId", f.String())
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case map[string]interface{}:
		if id, ok := v["id"].(float64); ok {
			return int(id), nil
		}
	}
	return 0, core.ErrCommandFailed.WithMessagef("unexpected semantics id response: %v", value)
}

// Offset returns a point of the widget in logical pixels.
func (s *Session) Offset(f finder.Finder, which OffsetType) (core.Offset, error) {
	value, err := s.execute(string(which), f.String())
	if err != nil {
		return core.Offset{}, err
	}
	// Round-trip through JSON to decode {dx, dy} regardless of number types.
	data, err := json.Marshal(value)
	if err != nil {
		return core.Offset{}, err
	}
	var off core.Offset
	if err := json.Unmarshal(data, &off); err != nil {
		return core.Offset{}, core.ErrCommandFailed.WithMessagef("unexpected %s response: %v", which, value)
	}
	return off, nil
}

// Text input and data

// EnterText types text into the currently focused text field.
func (s *Session) EnterText(text string) error {
	_, err := s.execute("enterText", text)
	return err
}

// RequestData sends message to the app's DataHandler and returns the reply.
func (s *Session) RequestData(message string) (string, error) {
	value, err := s.execute("requestData", message)
	if err != nil {
		return "", err
	}
	return stringValue(value, "response"), nil
}

// Driver state

// SetFrameSync turns waiting for frames to settle on or off.
func (s *Session) SetFrameSync(enabled bool, timeout time.Duration) error {
	args := []interface{}{enabled}
	if timeout > 0 {
		args = append(args, timeout.Milliseconds())
	}
	_, err := s.execute("setFrameSync", args...)
	return err
}

// ClearTimeline clears the Flutter timeline buffer.
func (s *Session) ClearTimeline() error {
	_, err := s.execute("clearTimeline")
	return err
}

// ForceGC runs a garbage collection in the app isolate.
func (s *Session) ForceGC() error {
	_, err := s.execute("forceGC")
	return err
}

// stringValue accepts a bare string or an object carrying the string under key.
func stringValue(value interface{}, key string) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		if str, ok := v[key].(string); ok {
			return str
		}
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}
