package domain

// StreamState is the lifecycle state of one websocket stream connection.
type StreamState string

const (
	StreamDisconnected   StreamState = "disconnected"
	StreamConnecting     StreamState = "connecting"
	StreamConnected      StreamState = "connected"
	StreamAuthenticating StreamState = "authenticating"
	StreamReady          StreamState = "ready"
	StreamClosing        StreamState = "closing"
)
