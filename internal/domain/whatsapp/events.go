package whatsapp

import (
	"time"
)

// EventKind define os tipos de eventos emitidos pelo cliente
type EventKind string

const (
	EventQR                 EventKind = "qr"
	EventLoading            EventKind = "loading_screen"
	EventAuthenticated      EventKind = "authenticated"
	EventReady              EventKind = "ready"
	EventAuthFailure        EventKind = "auth_failure"
	EventDisconnected       EventKind = "disconnected"
	EventChangeState        EventKind = "change_state"
	EventRemoteSessionSaved EventKind = "remote_session_saved"
	EventMessage            EventKind = "message"
)

// DisconnectReason classifica o motivo de uma desconexão. A política
// de reconexão decide a partir desse valor se reconecta, com qual
// atraso, ou se desabilita a instância.
type DisconnectReason string

const (
	ReasonConflict    DisconnectReason = "CONFLICT"
	ReasonUnpaired    DisconnectReason = "UNPAIRED"
	ReasonNavigation  DisconnectReason = "NAVIGATION"
	ReasonTimeout     DisconnectReason = "TIMEOUT"
	ReasonNetwork     DisconnectReason = "NETWORK_ERROR"
	ReasonLogout      DisconnectReason = "LOGOUT"
	ReasonTOSBlock    DisconnectReason = "TOS_BLOCK"
	ReasonSMBTOSBlock DisconnectReason = "SMB_TOS_BLOCK"
	ReasonBanned      DisconnectReason = "BANNED"
	ReasonUnknown     DisconnectReason = "UNKNOWN"

	// Motivos sintetizados pela supervisão, não pelo cliente
	ReasonHeartbeatFailures DisconnectReason = "CONSECUTIVE_HEARTBEAT_FAILURES"
	ReasonContextErrors     DisconnectReason = "CONTEXT_ERRORS"
)

// Event representa um evento tipado emitido pelo cliente WhatsApp
type Event struct {
	Kind      EventKind        `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	QR        string           `json:"qr,omitempty"`
	Percent   int              `json:"percent,omitempty"`
	Message   string           `json:"message,omitempty"`
	Reason    DisconnectReason `json:"reason,omitempty"`
	State     State            `json:"state,omitempty"`
}
