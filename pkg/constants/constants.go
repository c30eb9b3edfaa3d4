// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// WebSocketMaxMessageSize caps inbound frames; SDP blobs stay well under it
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue depth
	WebSocketSendBuffer = 256

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Storage and file upload constants
const (
	// PresignedURLExpiry is the validity period for presigned download URLs
	PresignedURLExpiry = 15 * time.Minute

	// MaxUploadSize is the maximum accepted upload in bytes (50MB)
	MaxUploadSize = 50 * 1024 * 1024
)

// Redis key lifetimes
const (
	// PushTokenExpiry is how long a user's token set lives without a new registration
	PushTokenExpiry = 30 * 24 * time.Hour

	// PresenceTTL expires a mirrored online flag if the process dies without cleanup
	PresenceTTL = 5 * time.Minute

	// LastSeenTTL bounds how long a last-seen timestamp is kept
	LastSeenTTL = 90 * 24 * time.Hour

	// RedisHealthCheckInterval is how often degraded mode is re-evaluated
	RedisHealthCheckInterval = 10 * time.Second

	// AuditLogRetention is how long audit events are kept
	AuditLogRetention = 90 * 24 * time.Hour
)

// Authentication constants
const (
	// LoginMaxAttempts is how many failed logins lock a username
	LoginMaxAttempts = 5

	// LoginLockDuration is how long a locked username stays locked
	LoginLockDuration = 15 * time.Minute

	// LoginRateLimit caps login requests per client per LoginRateWindow
	LoginRateLimit  = 20
	LoginRateWindow = time.Minute
)

// Cache constants
const (
	// UserCacheTTL bounds how stale a cached user profile may be
	UserCacheTTL = time.Minute

	// UserCacheSize caps the number of cached profiles
	UserCacheSize = 10000
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Call-related constants
const (
	// SaveRetryAttempts is how many times a versioned call write is retried on conflict
	SaveRetryAttempts = 3

	// DefaultGroupCallCapacity is the participant cap when none is configured
	DefaultGroupCallCapacity = 10

	// ScheduleSpec runs background jobs once a minute
	ScheduleSpec = "@every 1m"
)

// User status constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"
)
