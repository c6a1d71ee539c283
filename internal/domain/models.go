package domain

import "time"

// SessionStatus is the lifecycle status of a Telegram user session record.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusActive       SessionStatus = "active"
	StatusInvalid      SessionStatus = "invalid"
	StatusRevoked      SessionStatus = "revoked"
)

// Session is one Telegram-account authorization attempt/session. The
// encrypted blob holds all MTProto transport and crypto state (auth key,
// datacenter, salt) serialized as a nested key-path tree.
type Session struct {
	ID            string
	OwnerID       string
	PhoneNumber   *string
	APIID         int
	APIHash       string
	EncryptedBlob string
	IsActive      bool
	Status        SessionStatus
	InvalidReason *string
	DatacenterID  *int
	LastUsedAt    *time.Time
	IPAddress     *string
	UserAgent     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SessionMeta carries request-scoped metadata recorded on finalize.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

// AuthFlowStatus is the status of an in-flight authentication flow.
type AuthFlowStatus string

const (
	AuthPending         AuthFlowStatus = "pending"
	AuthWaitingPassword AuthFlowStatus = "waiting_password"
	AuthSuccess         AuthFlowStatus = "success"
	AuthFailed          AuthFlowStatus = "failed"
	AuthCancelled       AuthFlowStatus = "cancelled"
)

// AuthFlowState is the externally visible snapshot of a pending phone-code
// or QR authentication flow.
type AuthFlowState struct {
	ID           string
	SessionID    string
	OwnerID      string
	PhoneNumber  string
	Status       AuthFlowStatus
	QRURL        string
	QRCodeBase64 string
	Error        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// ProbeState is the health monitor's view of one cached connection.
type ProbeState string

const (
	ProbeConnected    ProbeState = "connected"
	ProbeDisconnected ProbeState = "disconnected"
	ProbeError        ProbeState = "error"
	ProbeUnknown      ProbeState = "unknown"
)

// ConnectionStats summarizes the health monitor's status map.
type ConnectionStats struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
	Errored      int `json:"errored"`
	Unknown      int `json:"unknown"`
}

// ReconnectReport describes the outcome of reconnecting persisted sessions
// at startup.
type ReconnectReport struct {
	Total      int
	Successful int
	Failed     int
	Errors     map[string]error // session id -> failure
}
