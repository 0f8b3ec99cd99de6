// Package ipc implements the local RPC channel between the update
// engine and the privileged installer helper: length-prefixed JSON
// framing with HMAC signing and sequence validation over a Unix socket.
package ipc

import "encoding/json"

// Message type constants.
const (
	TypeAuthRequest     = "auth_request"
	TypeAuthResponse    = "auth_response"
	TypeInstallRequest  = "install_request"
	TypeInstallResponse = "install_response"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Stable error codes returned by the installer helper. These are wire
// contract: the engine maps them to user-facing messages and must keep
// recognizing old helpers.
const (
	CodeGenericUnzipError         = "genericUnzipError"
	CodeUnzippedContentNotFound   = "unzippedContentNotFound"
	CodeArchiveContentNotCoherent = "archiveContentNotCoherent"
	CodeFailedToUnquarantine      = "failedToUnquarantine"
	CodeSignatureFailed           = "signatureFailed"
	CodeAppReplacementFailed      = "appReplacementFailed"
	CodeExistingAppAtDestination  = "existingAppAtDestination"
	CodeDiskPermissionError       = "diskPermissionError"
)

// MaxMessageSize is the maximum size of a JSON IPC message (1MB).
// Install requests and responses carry only paths and codes.
const MaxMessageSize = 1 * 1024 * 1024

// ProtocolVersion is the current IPC protocol version.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all IPC messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}

// AuthRequest is sent by the update engine to the helper after
// connecting, before any install call.
type AuthRequest struct {
	ProtocolVersion int    `json:"protocolVersion"`
	UID             uint32 `json:"uid"`
	PID             int    `json:"pid"`
}

// AuthResponse is the helper's reply. On acceptance it carries the
// hex-encoded session key used to sign the rest of the conversation.
type AuthResponse struct {
	Accepted   bool   `json:"accepted"`
	SessionKey string `json:"sessionKey,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// InstallRequest asks the helper to replace the running application
// with the bundle inside the downloaded archive.
type InstallRequest struct {
	ArchiveURL         string `json:"archiveURL"`
	BinaryToReplaceURL string `json:"binaryToReplaceURL"`
	AppPID             int    `json:"appPID"`
}

// InstallResponse reports the outcome of an install call. ErrorCode is
// one of the Code constants; an empty code with Success=false is an
// unstructured failure. RecoveredPath is set when a failed install left
// the update somewhere the user can finish manually.
type InstallResponse struct {
	Success       bool   `json:"success"`
	ErrorCode     string `json:"errorCode,omitempty"`
	RecoveredPath string `json:"recoveredPath,omitempty"`
}
