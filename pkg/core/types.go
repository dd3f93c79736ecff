package core

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Offset is a point in logical pixels as reported by the Flutter driver.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// SessionInfo describes a created remote session.
type SessionInfo struct {
	ID              string                 `json:"sessionId"`
	Platform        string                 `json:"platform"`        // ios, android
	PlatformVersion string                 `json:"platformVersion"` // e.g., "12.4"
	DeviceName      string                 `json:"deviceName"`      // e.g., "iPhone 8"
	AutomationName  string                 `json:"automationName"`  // flutter
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
}
