package domain

import "time"

// Security event types emitted by the auth engine.
const (
	EventLoginFailure     = "login_failure"
	EventAccountLocked    = "account_locked"
	EventReplayDetected   = "refresh_replay_detected"
	EventDeviceDenied     = "device_denied"
	EventSessionRevoked   = "session_revoked"
	EventApprovalExceeded = "approval_attempts_exceeded"
	EventReauthRequired   = "reauth_required"
)

// SecurityEvent is a single security-relevant occurrence (optional user/device/session scope).
type SecurityEvent struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
