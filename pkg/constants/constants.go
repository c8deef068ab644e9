// Package constants defines application-wide constants for timeouts and limits.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketSendBuffer is the per-connection outbound queue size.
	// A full queue means the peer stopped reading; the connection is dropped.
	WebSocketSendBuffer = 256

	// WebSocketMaxMessageSize caps inbound signaling frames. SDP bodies are a
	// few KB; 64KB leaves room for verbose video offers.
	WebSocketMaxMessageSize = 64 * 1024
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 24 * time.Hour
)

// Push notification constants
const (
	// PushTokenExpiry is how long an unrefreshed device token is kept
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Presence constants
const (
	// PresenceMirrorTTL is the lifetime of the Redis presence mirror entries.
	// The in-memory registry is authoritative; the mirror self-heals via TTL
	// if an offline transition was lost.
	PresenceMirrorTTL = 5 * time.Minute
)
