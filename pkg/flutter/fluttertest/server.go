// Package fluttertest provides an in-process Appium Flutter driver for tests.
//
// The server understands the W3C endpoints the flutter package uses and the
// flutter: execute commands, backed by a table of widgets keyed by finder.
package fluttertest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
)

// Widget is a fake widget in the app under test.
type Widget struct {
	Text       string
	Attributes map[string]string
	Bounds     core.Bounds
	// NotTappable makes waitForTappable time out even when the widget exists.
	NotTappable bool
	// RevealAfterScrolls hides the widget until that many scroll commands ran.
	RevealAfterScrolls int
	// SemanticsID is returned by getSemanticsId.
	SemanticsID int
}

// Request is one request the server received.
type Request struct {
	Method string
	Path   string
	Script string        // for execute/sync
	Args   []interface{} // for execute/sync
}

// Server is a fake Appium server with the Flutter driver.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	widgets      map[string]*Widget
	sessions     map[string]bool
	nextSession  int
	lastCaps     map[string]interface{}
	contexts     []string
	context      string
	scrolls      int
	requests     []Request
	enteredText  []string
	healthStatus string
	renderTree   string
	sessionErr   [2]string
	commandErr   map[string][2]string
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		widgets:      make(map[string]*Widget),
		sessions:     make(map[string]bool),
		contexts:     []string{"NATIVE_APP", "FLUTTER"},
		context:      "FLUTTER",
		healthStatus: "ok",
		renderTree:   "RenderView#00000\n └child: RenderSemanticsAnnotations#00001",
		commandErr:   make(map[string][2]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// HubURL returns the base URL including the /wd/hub prefix.
func (s *Server) HubURL() string {
	return s.Server.URL + "/wd/hub"
}

func key(fields map[string]interface{}) string {
	data, _ := json.Marshal(fields)
	return string(data)
}

// AddWidget registers w under f.
func (s *Server) AddWidget(f finder.Finder, w Widget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wc := w
	s.widgets[key(f.Fields())] = &wc
}

// RemoveWidget removes the widget registered under f.
func (s *Server) RemoveWidget(f finder.Finder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.widgets, key(f.Fields()))
}

// Widget returns a copy of the widget registered under f.
func (s *Server) Widget(f finder.Finder) (Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[key(f.Fields())]
	if !ok {
		return Widget{}, false
	}
	return *w, true
}

// FailSessionWith makes POST /session fail with a W3C error.
func (s *Server) FailSessionWith(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionErr = [2]string{code, message}
}

// FailCommandWith makes the flutter:<command> script fail with a W3C error.
func (s *Server) FailCommandWith(command, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandErr[command] = [2]string{code, message}
}

// SetHealth sets the status checkHealth reports.
func (s *Server) SetHealth(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthStatus = status
}

// SetContexts replaces the available contexts.
func (s *Server) SetContexts(contexts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = contexts
}

// ActiveSessions returns the number of sessions not yet deleted.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LastCapabilities returns the alwaysMatch map of the last new-session request.
func (s *Server) LastCapabilities() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCaps
}

// Context returns the active context.
func (s *Server) Context() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Scrolls returns how many scroll commands ran.
func (s *Server) Scrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

// EnteredText returns everything typed via enterText, in order.
func (s *Server) EnteredText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.enteredText...)
}

// Requests returns every request received, in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Scripts returns the execute/sync script names received, in order.
func (s *Server) Scripts() []string {
	var out []string
	for _, r := range s.Requests() {
		if r.Script != "" {
			out = append(out, r.Script)
		}
	}
	return out
}

// LastScript returns the last execute/sync request for script, if any.
func (s *Server) LastScript(script string) (Request, bool) {
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Script == script {
			return reqs[i], true
		}
	}
	return Request{}, false
}

type w3cError struct {
	status  int
	code    string
	message string
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeValue(w http.ResponseWriter, value interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": value})
}

func writeError(w http.ResponseWriter, e *w3cError) {
	writeJSON(w, e.status, map[string]interface{}{
		"value": map[string]interface{}{
			"error":      e.code,
			"message":    e.message,
			"stacktrace": "",
		},
	})
}

func notFound(code, format string, args ...interface{}) *w3cError {
	return &w3cError{status: http.StatusNotFound, code: code, message: fmt.Sprintf(format, args...)}
}

func serverError(code, format string, args ...interface{}) *w3cError {
	return &w3cError{status: http.StatusInternalServerError, code: code, message: fmt.Sprintf(format, args...)}
}

// segments splits the escaped path and unescapes each part, so ids that
// contain an escaped '/' stay one segment.
func segments(r *http.Request) []string {
	p := strings.TrimPrefix(r.URL.EscapedPath(), "/wd/hub")
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		if u, err := url.PathUnescape(part); err == nil {
			parts[i] = u
		}
	}
	return parts
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Method: r.Method, Path: r.URL.Path}
	if script, ok := body["script"].(string); ok {
		req.Script = script
		req.Args, _ = body["args"].([]interface{})
	}
	s.requests = append(s.requests, req)

	value, werr := s.route(r.Method, segments(r), body)
	if werr != nil {
		writeError(w, werr)
		return
	}
	writeValue(w, value)
}

// must hold mu
func (s *Server) route(method string, seg []string, body map[string]interface{}) (interface{}, *w3cError) {
	if len(seg) == 0 || seg[0] != "session" {
		return nil, notFound("unknown command", "unknown path /%s", strings.Join(seg, "/"))
	}
	if len(seg) == 1 {
		if method != http.MethodPost {
			return nil, notFound("unknown method", "%s /session", method)
		}
		return s.newSession(body)
	}

	id := seg[1]
	if !s.sessions[id] {
		return nil, notFound("invalid session id", "session %s does not exist", id)
	}
	rest := seg[2:]

	switch {
	case len(rest) == 0 && method == http.MethodDelete:
		delete(s.sessions, id)
		return nil, nil
	case len(rest) == 1 && rest[0] == "contexts":
		return append([]string(nil), s.contexts...), nil
	case len(rest) == 1 && rest[0] == "context" && method == http.MethodGet:
		return s.context, nil
	case len(rest) == 1 && rest[0] == "context" && method == http.MethodPost:
		name, _ := body["name"].(string)
		for _, c := range s.contexts {
			if c == name {
				s.context = name
				return nil, nil
			}
		}
		return nil, notFound("no such context", "context %q not found", name)
	case len(rest) == 1 && rest[0] == "screenshot":
		return base64.StdEncoding.EncodeToString([]byte("\x89PNG fake")), nil
	case len(rest) == 2 && rest[0] == "execute" && rest[1] == "sync":
		script, _ := body["script"].(string)
		args, _ := body["args"].([]interface{})
		return s.execute(script, args)
	case len(rest) >= 3 && rest[0] == "element":
		return s.element(method, rest[1], rest[2:], body)
	}
	return nil, notFound("unknown command", "%s /session/%s/%s", method, id, strings.Join(rest, "/"))
}

// must hold mu
func (s *Server) newSession(body map[string]interface{}) (interface{}, *w3cError) {
	if s.sessionErr[0] != "" {
		return nil, serverError(s.sessionErr[0], "%s", s.sessionErr[1])
	}
	capabilities, _ := body["capabilities"].(map[string]interface{})
	always, _ := capabilities["alwaysMatch"].(map[string]interface{})
	s.lastCaps = always

	returned := make(map[string]interface{}, len(always))
	for k, v := range always {
		returned[strings.TrimPrefix(k, "appium:")] = v
	}

	s.nextSession++
	id := fmt.Sprintf("session-%d", s.nextSession)
	s.sessions[id] = true
	return map[string]interface{}{
		"sessionId":    id,
		"capabilities": returned,
	}, nil
}

// must hold mu
func (s *Server) lookup(elementID string) (*Widget, *w3cError) {
	f, err := finder.Decode(elementID)
	if err != nil {
		return nil, notFound("invalid argument", "%v", err)
	}
	w, ok := s.widgets[key(f.Fields())]
	if !ok || s.scrolls < w.RevealAfterScrolls {
		return nil, notFound("no such element", "no widget matches %s", f.Describe())
	}
	return w, nil
}

// must hold mu
func (s *Server) element(method, elementID string, rest []string, body map[string]interface{}) (interface{}, *w3cError) {
	w, werr := s.lookup(elementID)
	if werr != nil {
		return nil, werr
	}

	switch {
	case method == http.MethodGet && rest[0] == "text":
		return w.Text, nil
	case method == http.MethodGet && rest[0] == "attribute" && len(rest) == 2:
		v, ok := w.Attributes[rest[1]]
		if !ok {
			return nil, nil
		}
		return v, nil
	case method == http.MethodGet && rest[0] == "rect":
		return w.Bounds, nil
	case method == http.MethodPost && rest[0] == "click":
		return nil, nil
	case method == http.MethodPost && rest[0] == "value":
		text, _ := body["text"].(string)
		w.Text = text
		return nil, nil
	case method == http.MethodPost && rest[0] == "clear":
		w.Text = ""
		return nil, nil
	}
	return nil, notFound("unknown command", "%s element/%s", method, strings.Join(rest, "/"))
}

// must hold mu
func (s *Server) execute(script string, args []interface{}) (interface{}, *w3cError) {
	command := strings.TrimPrefix(script, "flutter:")
	if command == script {
		return nil, notFound("unknown command", "script %q is not supported", script)
	}
	if e, ok := s.commandErr[command]; ok {
		return nil, serverError(e[0], "%s", e[1])
	}

	firstArg := func() string {
		if len(args) == 0 {
			return ""
		}
		str, _ := args[0].(string)
		return str
	}

	switch command {
	case "waitFor":
		if _, werr := s.lookup(firstArg()); werr != nil {
			return nil, serverError("unknown error", "Timeout while waiting for widget")
		}
		return nil, nil
	case "waitForTappable":
		w, werr := s.lookup(firstArg())
		if werr != nil || w.NotTappable {
			return nil, serverError("unknown error", "Timeout while waiting for widget to be tappable")
		}
		return nil, nil
	case "waitForAbsent":
		if _, werr := s.lookup(firstArg()); werr == nil {
			return nil, serverError("unknown error", "Timeout while waiting for widget to be absent")
		}
		return nil, nil
	case "scroll":
		if _, werr := s.lookup(firstArg()); werr != nil {
			return nil, werr
		}
		s.scrolls++
		return nil, nil
	case "longTap", "scrollIntoView":
		if _, werr := s.lookup(firstArg()); werr != nil {
			return nil, werr
		}
		return nil, nil
	case "getSemanticsId":
		w, werr := s.lookup(firstArg())
		if werr != nil {
			return nil, werr
		}
		return w.SemanticsID, nil
	case "getCenter", "getTopLeft", "getTopRight", "getBottomLeft", "getBottomRight":
		w, werr := s.lookup(firstArg())
		if werr != nil {
			return nil, werr
		}
		return offsetOf(w.Bounds, command), nil
	case "checkHealth":
		return map[string]interface{}{"status": s.healthStatus}, nil
	case "getRenderTree":
		return map[string]interface{}{"tree": s.renderTree}, nil
	case "enterText":
		s.enteredText = append(s.enteredText, firstArg())
		return nil, nil
	case "requestData":
		return "reply:" + firstArg(), nil
	case "setFrameSync", "clearTimeline", "forceGC":
		return nil, nil
	}
	return nil, notFound("unknown command", "flutter:%s", command)
}

func offsetOf(b core.Bounds, command string) core.Offset {
	left, top := float64(b.X), float64(b.Y)
	right, bottom := float64(b.X+b.Width), float64(b.Y+b.Height)
	switch command {
	case "getTopLeft":
		return core.Offset{DX: left, DY: top}
	case "getTopRight":
		return core.Offset{DX: right, DY: top}
	case "getBottomLeft":
		return core.Offset{DX: left, DY: bottom}
	case "getBottomRight":
		return core.Offset{DX: right, DY: bottom}
	default:
		return core.Offset{DX: (left + right) / 2, DY: (top + bottom) / 2}
	}
}
