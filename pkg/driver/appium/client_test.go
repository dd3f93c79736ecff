package appium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
)

// writeJSON encodes data as JSON to the response writer.
func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode body %q: %v", data, err)
	}
	return body
}

func newSessionClient(url string) *Client {
	client := NewClient(url)
	client.sessionID = "test-session"
	return client
}

func TestClient_Connect(t *testing.T) {
	var gotCaps map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wd/hub/session" && r.Method == "POST" {
			body := readBody(t, r)
			capabilities, _ := body["capabilities"].(map[string]interface{})
			gotCaps, _ = capabilities["alwaysMatch"].(map[string]interface{})
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"sessionId": "test-session-123",
					"capabilities": map[string]interface{}{
						"platformName":    "iOS",
						"platformVersion": "12.4",
						"deviceName":      "iPhone 8",
						"automationName":  "flutter",
					},
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL + "/wd/hub/")
	info, err := client.Connect(map[string]interface{}{
		"platformName":          "iOS",
		"appium:automationName": "flutter",
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if gotCaps["appium:automationName"] != "flutter" {
		t.Errorf("alwaysMatch not sent, got %v", gotCaps)
	}
	if client.SessionID() != "test-session-123" || info.ID != "test-session-123" {
		t.Errorf("Expected sessionID 'test-session-123', got '%s'", client.sessionID)
	}
	if client.Platform() != "ios" {
		t.Errorf("Expected platform 'ios', got '%s'", client.platform)
	}
	if info.PlatformVersion != "12.4" || info.DeviceName != "iPhone 8" || info.AutomationName != "flutter" {
		t.Errorf("unexpected session info: %+v", info)
	}
}

func TestClient_Connect_PrefixedCapabilitiesInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"sessionId": "s1",
				"capabilities": map[string]interface{}{
					"platformName":      "Android",
					"appium:deviceName": "Pixel 8",
				},
			},
		})
	}))
	defer server.Close()

	info, err := NewClient(server.URL).Connect(map[string]interface{}{"platformName": "Android"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if info.Platform != "android" || info.DeviceName != "Pixel 8" {
		t.Errorf("unexpected session info: %+v", info)
	}
}

func TestClient_Connect_LegacySessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"sessionId": "legacy-1",
			"value":     map[string]interface{}{"platformName": "iOS"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Connect(map[string]interface{}{"platformName": "iOS"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if client.sessionID != "legacy-1" {
		t.Errorf("Expected legacy session id, got %q", client.sessionID)
	}
}

func TestClient_Connect_ServerErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"error":   "session not created",
				"message": "Could not find app at /apps/Runner.zip",
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithConnectRetries(3), WithRetryInterval(time.Millisecond))
	_, err := client.Connect(map[string]interface{}{"platformName": "iOS"})
	if !errors.Is(err, core.ErrSessionNotCreated) {
		t.Fatalf("expected ErrSessionNotCreated, got %v", err)
	}
	if !strings.Contains(err.Error(), "Could not find app") {
		t.Errorf("server message lost: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

func TestClient_Connect_DroppedConnectionNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithConnectRetries(2), WithRetryInterval(time.Millisecond))
	_, err := client.Connect(map[string]interface{}{})
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("new-session request sent %d times, want 1", n)
	}
}

func TestClient_Connect_TimeoutNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithSessionTimeout(50*time.Millisecond),
		WithConnectRetries(3),
		WithRetryInterval(time.Millisecond),
	)
	_, err := client.Connect(map[string]interface{}{})
	if !errors.Is(err, core.ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if errors.Is(err, core.ErrServerUnreachable) {
		t.Errorf("timeout reported as unreachable: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("new-session request sent %d times, want 1", n)
	}
}

func TestClient_Connect_RetriesDialFailure(t *testing.T) {
	var dials int32
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			atomic.AddInt32(&dials, 1)
			return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
		},
	}
	client := NewClient("http://appium.invalid:4723/wd/hub",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithConnectRetries(2),
		WithRetryInterval(time.Millisecond),
	)

	_, err := client.Connect(map[string]interface{}{})
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
	if n := atomic.LoadInt32(&dials); n != 3 {
		t.Errorf("expected 3 dial attempts, got %d", n)
	}
}

func TestClient_Connect_IgnoresCommandTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		if r.URL.Path == "/session" {
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{"sessionId": "slow-install", "capabilities": map[string]interface{}{}},
			})
			return
		}
		writeJSON(w, map[string]interface{}{"value": "RenderView"})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPTimeout(20*time.Millisecond), WithConnectRetries(0))
	if _, err := client.Connect(map[string]interface{}{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, err := client.ExecuteScript("flutter:getRenderTree")
	if !errors.Is(err, core.ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout for a slow command, got %v", err)
	}
}

func TestClient_Connect_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, WithConnectRetries(1), WithRetryInterval(time.Millisecond))
	_, err := client.Connect(map[string]interface{}{})
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
}

func TestClient_Connect_NoSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{}})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Connect(map[string]interface{}{})
	if !errors.Is(err, core.ErrSessionNotCreated) {
		t.Fatalf("expected ErrSessionNotCreated, got %v", err)
	}
}

func TestClient_Disconnect(t *testing.T) {
	deleteCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session" && r.Method == "DELETE" {
			deleteCalled = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newSessionClient(server.URL)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !deleteCalled {
		t.Error("DELETE /session was not called")
	}
	if client.sessionID != "" {
		t.Error("sessionID should be cleared after disconnect")
	}

	// Second call is a no-op.
	deleteCalled = false
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
	if deleteCalled {
		t.Error("second Disconnect should not call the server")
	}
}

func TestClient_FindElement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/element" && r.Method == "POST" {
			body := readBody(t, r)
			if body["using"] != "accessibility id" || body["value"] != "myButton" {
				t.Errorf("unexpected body %v", body)
			}
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"element-6066-11e4-a52e-4f735466cecf": "elem-123",
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	elemID, err := newSessionClient(server.URL).FindElement("accessibility id", "myButton")
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	if elemID != "elem-123" {
		t.Errorf("Expected element ID 'elem-123', got '%s'", elemID)
	}
}

func TestClient_FindElement_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"error":   "no such element",
				"message": "An element could not be located on the page using the given search parameters.",
			},
		})
	}))
	defer server.Close()

	_, err := newSessionClient(server.URL).FindElement("xpath", "//nothing")
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) || execErr.Details["w3c"] != "no such element" {
		t.Errorf("expected w3c detail, got %+v", execErr)
	}
}

func TestClient_GetElementText_EscapesID(t *testing.T) {
	// Base64 finder ids can contain '/', which must not split the path.
	elementID := "eyJ/ZmluZGVyVHlwZSI6IkJ5VGV4dCJ9+=="
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/session/test-session/element/eyJ%2FZmluZGVyVHlwZSI6IkJ5VGV4dCJ9+==/text"
		if r.URL.EscapedPath() != want {
			t.Errorf("path = %q, want %q", r.URL.EscapedPath(), want)
		}
		writeJSON(w, map[string]interface{}{"value": "0"})
	}))
	defer server.Close()

	text, err := newSessionClient(server.URL).GetElementText(elementID)
	if err != nil {
		t.Fatalf("GetElementText failed: %v", err)
	}
	if text != "0" {
		t.Errorf("Expected '0', got %q", text)
	}
}

func TestClient_ElementActions(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/value") {
			body := readBody(t, r)
			if body["text"] != "hello" {
				t.Errorf("unexpected value body %v", body)
			}
		}
		writeJSON(w, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	client := newSessionClient(server.URL)
	if err := client.ClickElement("e1"); err != nil {
		t.Fatalf("ClickElement failed: %v", err)
	}
	if err := client.SetElementValue("e1", "hello"); err != nil {
		t.Fatalf("SetElementValue failed: %v", err)
	}
	if err := client.ClearElement("e1"); err != nil {
		t.Fatalf("ClearElement failed: %v", err)
	}

	want := []string{
		"POST /session/test-session/element/e1/click",
		"POST /session/test-session/element/e1/value",
		"POST /session/test-session/element/e1/clear",
	}
	if strings.Join(paths, "\n") != strings.Join(want, "\n") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestClient_GetElementAttribute(t *testing.T) {
	values := map[string]interface{}{
		"/session/test-session/element/e1/attribute/label":   "Increment",
		"/session/test-session/element/e1/attribute/enabled": true,
		"/session/test-session/element/e1/attribute/missing": nil,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": values[r.URL.Path]})
	}))
	defer server.Close()

	client := newSessionClient(server.URL)
	tests := map[string]string{"label": "Increment", "enabled": "true", "missing": ""}
	for name, want := range tests {
		got, err := client.GetElementAttribute("e1", name)
		if err != nil {
			t.Fatalf("GetElementAttribute(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("GetElementAttribute(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestClient_GetElementRect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{"x": 10.0, "y": 20.0, "width": 100.0, "height": 50.0},
		})
	}))
	defer server.Close()

	b, err := newSessionClient(server.URL).GetElementRect("e1")
	if err != nil {
		t.Fatalf("GetElementRect failed: %v", err)
	}
	if b != (core.Bounds{X: 10, Y: 20, Width: 100, Height: 50}) {
		t.Errorf("unexpected bounds %+v", b)
	}
}

func TestClient_IsElementDisplayed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": true})
	}))
	defer server.Close()

	displayed, err := newSessionClient(server.URL).IsElementDisplayed("e1")
	if err != nil || !displayed {
		t.Errorf("IsElementDisplayed = %v, %v", displayed, err)
	}
}

func TestClient_ExecuteScript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/test-session/execute/sync" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body := readBody(t, r)
		if body["script"] != "flutter:waitFor" {
			t.Errorf("script = %v", body["script"])
		}
		args, _ := body["args"].([]interface{})
		if len(args) != 2 || args[0] != "abc" || args[1] != 5000.0 {
			t.Errorf("args = %v", args)
		}
		writeJSON(w, map[string]interface{}{"value": "ok"})
	}))
	defer server.Close()

	got, err := newSessionClient(server.URL).ExecuteScript("flutter:waitFor", "abc", 5000)
	if err != nil {
		t.Fatalf("ExecuteScript failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("ExecuteScript = %v", got)
	}
}

func TestClient_ExecuteScript_EmptyArgs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		args, ok := body["args"].([]interface{})
		if !ok || len(args) != 0 {
			t.Errorf("args should be an empty array, got %#v", body["args"])
		}
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"status": "ok"}})
	}))
	defer server.Close()

	if _, err := newSessionClient(server.URL).ExecuteScript("flutter:checkHealth"); err != nil {
		t.Fatalf("ExecuteScript failed: %v", err)
	}
}

func TestClient_Contexts(t *testing.T) {
	current := "NATIVE_APP"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session/test-session/contexts":
			writeJSON(w, map[string]interface{}{"value": []interface{}{"NATIVE_APP", "FLUTTER"}})
		case r.URL.Path == "/session/test-session/context" && r.Method == "GET":
			writeJSON(w, map[string]interface{}{"value": current})
		case r.URL.Path == "/session/test-session/context" && r.Method == "POST":
			current, _ = readBody(t, r)["name"].(string)
			writeJSON(w, map[string]interface{}{"value": nil})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newSessionClient(server.URL)
	contexts, err := client.Contexts()
	if err != nil {
		t.Fatalf("Contexts failed: %v", err)
	}
	if len(contexts) != 2 || contexts[1] != "FLUTTER" {
		t.Errorf("Contexts = %v", contexts)
	}

	if err := client.SetContext("FLUTTER"); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	got, err := client.CurrentContext()
	if err != nil || got != "FLUTTER" {
		t.Errorf("CurrentContext = %q, %v", got, err)
	}
}

func TestClient_Screenshot(t *testing.T) {
	expectedData := []byte("fake-png-data")
	encoded := base64.StdEncoding.EncodeToString(expectedData)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/screenshot" {
			writeJSON(w, map[string]interface{}{
				"value": encoded,
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	data, err := newSessionClient(server.URL).Screenshot()
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(data) != string(expectedData) {
		t.Errorf("Screenshot data mismatch")
	}
}

func TestClient_Source(t *testing.T) {
	expectedSource := "<XCUIElementTypeApplication/>"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/source" {
			writeJSON(w, map[string]interface{}{"value": expectedSource})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source, err := newSessionClient(server.URL).Source()
	if err != nil {
		t.Fatalf("Source failed: %v", err)
	}
	if source != expectedSource {
		t.Errorf("Expected source '%s', got '%s'", expectedSource, source)
	}
}

func TestClient_SetImplicitWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		if body["implicit"] != 2000.0 {
			t.Errorf("implicit = %v", body["implicit"])
		}
		writeJSON(w, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	if err := newSessionClient(server.URL).SetImplicitWait(2 * time.Second); err != nil {
		t.Fatalf("SetImplicitWait failed: %v", err)
	}
}

func TestClient_RequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		writeJSON(w, map[string]interface{}{"value": ""})
	}))
	defer server.Close()

	if _, err := newSessionClient(server.URL).Source(); err != nil {
		t.Fatalf("Source failed: %v", err)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream proxy failure", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newSessionClient(server.URL).Source()
	if !errors.Is(err, core.ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("status code missing from %v", err)
	}
}

func TestExtractElementID(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]interface{}
		want  string
	}{
		{"w3c", map[string]interface{}{w3cElementKey: "a"}, "a"},
		{"legacy", map[string]interface{}{"ELEMENT": "b"}, "b"},
		{"empty", map[string]interface{}{}, ""},
	}
	for _, tt := range tests {
		if got := extractElementID(tt.value); got != tt.want {
			t.Errorf("%s: extractElementID = %q, want %q", tt.name, got, tt.want)
		}
	}
}
