package model

// WebSocket message types
const (
	WSMessageTypeState   = "state"
	WSMessageTypePreview = "preview"
	WSMessageTypePing    = "ping"
	WSMessageTypePong    = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage carries a full session view after every change.
type WSStateMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Session   SessionView `json:"session"`
}

// WSPreviewMessage is sent on every preview tick.
type WSPreviewMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Frame     int    `json:"frame"`
}
