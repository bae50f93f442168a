package domain

import "time"

// ConnState models the connection lifecycle.
type ConnState string

const (
	StateDisconnected      ConnState = "disconnected"
	StateInitializing      ConnState = "initializing"
	StateConnecting        ConnState = "connecting"
	StateSyncing           ConnState = "syncing"
	StateIdle              ConnState = "idle"
	StateStartingRecording ConnState = "startingRecording"
	StateRecording         ConnState = "recording"
	StateProcessing        ConnState = "processing"
	StateRetrying          ConnState = "retrying"
)

// HasSession reports whether a live transport session may exist in this state.
func (s ConnState) HasSession() bool {
	switch s {
	case StateConnecting, StateSyncing, StateIdle, StateStartingRecording, StateRecording, StateProcessing:
		return true
	default:
		return false
	}
}

// Phase is the coarse, externally visible connection status.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseReconnecting Phase = "reconnecting"
	PhaseIdle         Phase = "idle"
	PhaseRecording    Phase = "recording"
	PhaseProcessing   Phase = "processing"
)

// Phase collapses the internal state into the external label. Attempt states
// show as reconnecting once at least one attempt has failed.
func (s ConnState) Phase(retryCount int) Phase {
	switch s {
	case StateDisconnected:
		return PhaseDisconnected
	case StateInitializing, StateConnecting, StateSyncing:
		if retryCount > 0 {
			return PhaseReconnecting
		}
		return PhaseConnecting
	case StateRetrying:
		return PhaseReconnecting
	case StateIdle:
		return PhaseIdle
	case StateStartingRecording, StateRecording:
		return PhaseRecording
	case StateProcessing:
		return PhaseProcessing
	default:
		return PhaseDisconnected
	}
}

// RetryInfo describes the pending reconnect attempt.
type RetryInfo struct {
	Attempt     int   `json:"attempt"`
	NextRetryMs int64 `json:"nextRetryMs"`
}

// StatusPayload is broadcast to all windows on every phase change.
type StatusPayload struct {
	Phase     Phase      `json:"phase"`
	LastError string     `json:"lastError,omitempty"`
	Retry     *RetryInfo `json:"retry,omitempty"`
}

// ReconnectResult closes a reconnect-started bracket.
type ReconnectResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HistoryEntry is one finished dictation. RawText keeps the transcript as
// spoken; Text carries the rewritten form that was delivered.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	RawText   string    `json:"raw_text"`
}

// TransportState is a transport-level session condition.
type TransportState string

const (
	TransportReady    TransportState = "ready"
	TransportDegraded TransportState = "degraded"
	TransportClosed   TransportState = "closed"
)

// TransportEvent is delivered by a session when its underlying connection
// changes condition.
type TransportEvent struct {
	State TransportState
	Err   error
}
