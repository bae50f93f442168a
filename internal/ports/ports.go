package ports

import (
	"context"
	"io"

	"patter/internal/domain"
)

// Registrar ensures the client holds a server-acknowledged identity token.
// A cached token is verified first; on rejection or absence a new one is
// registered. The verified token is persisted before returning.
type Registrar interface {
	EnsureIdentity(ctx context.Context, serverURL string, cached string) (string, error)
}

// Session is a live transport session with the dictation service.
type Session interface {
	// Send delivers a typed message to the peer.
	Send(msg domain.ClientMessage) error
	// SendAudio delivers one binary audio frame to the peer.
	SendAudio(chunk []byte) error
	// Messages yields decoded peer messages until the session ends.
	Messages() <-chan domain.PeerMessage
	// Transport yields ready/degraded/closed condition changes.
	Transport() <-chan domain.TransportEvent
	Close() error
}

// SessionFactory performs one connection handshake per call. It must not
// retry internally; timeout and retry belong to the caller.
type SessionFactory interface {
	Dial(ctx context.Context, serverURL string, token string) (Session, error)
}

// SettingsStore is durable client storage for identity and selections.
type SettingsStore interface {
	Get() domain.Settings
	Update(mutate func(*domain.Settings)) error
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// HistoryStore is durable storage for finished dictations.
type HistoryStore interface {
	Add(text, rawText string) (domain.HistoryEntry, error)
	All(limit int) []domain.HistoryEntry
	Delete(id string) (bool, error)
	Clear() error
}

// TranscriptRewriter post-processes dictated text before delivery.
type TranscriptRewriter interface {
	Apply(text string) (string, error)
}

// EventSink broadcasts connection status and peer responses to all windows.
// Dependent windows only mirror this state; they never mutate it.
type EventSink interface {
	ConnectionStateChanged(status domain.StatusPayload)
	ReconnectStarted()
	ReconnectResult(result domain.ReconnectResult)
	ConfigResponse(response domain.ConfigResponse)
	PartialTranscript(text string)
	FinalTranscript(text string)
	HistoryChanged()
}
