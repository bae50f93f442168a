// Package transport dials and speaks the dictation service's websocket
// protocol: JSON control messages and binary audio frames out, JSON
// transcript and acknowledgement messages in.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"patter/internal/domain"
	"patter/internal/ports"
)

const (
	clientUUIDHeader = "X-Client-UUID"
	sessionIDHeader  = "X-Session-ID"
)

// Factory implements ports.SessionFactory. Exactly one handshake attempt
// per Dial call; retries belong to the caller.
type Factory struct {
	log zerolog.Logger
}

func NewFactory(log zerolog.Logger) *Factory {
	return &Factory{log: log.With().Str("component", "transport").Logger()}
}

func (f *Factory) Dial(ctx context.Context, serverURL string, token string) (ports.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: identity token is empty", domain.ErrTransport)
	}

	wsURL, err := buildSessionURL(serverURL)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	headers := http.Header{}
	headers.Set(clientUUIDHeader, token)
	headers.Set(sessionIDHeader, sessionID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: handshake returned 401", domain.ErrIdentityRejected)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	s := &session{
		conn:       conn,
		log:        f.log.With().Str("session", sessionID).Logger(),
		msgs:       make(chan domain.PeerMessage, 64),
		transport:  make(chan domain.TransportEvent, 8),
		out:        make(chan frame, 32),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.msgs)
		close(s.transport)
		close(s.done)
		_ = conn.Close()
	}()

	s.log.Debug().Str("url", wsURL).Msg("session established")
	return s, nil
}

type frame struct {
	binary  bool
	payload []byte
}

type session struct {
	conn *websocket.Conn
	log  zerolog.Logger

	msgs       chan domain.PeerMessage
	transport  chan domain.TransportEvent
	out        chan frame
	done       chan struct{}
	writerDone chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	sendMu    sync.RWMutex
	closed    bool
}

func (s *session) Send(msg domain.ClientMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCommunication, err)
	}
	return s.enqueue(frame{payload: payload})
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	copied := append([]byte(nil), chunk...)
	return s.enqueue(frame{binary: true, payload: copied})
}

func (s *session) enqueue(fr frame) error {
	s.sendMu.RLock()
	closed := s.closed
	s.sendMu.RUnlock()
	if closed {
		return fmt.Errorf("%w: session is closed", domain.ErrCommunication)
	}

	// The writer can die on a send error while the reader stays up; done
	// closes only after both loops exit, so blocking on out alone could
	// wedge the caller.
	select {
	case s.out <- fr:
		return nil
	case <-s.writerDone:
	case <-s.done:
	}
	if err := s.firstErr(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCommunication, err)
	}
	return fmt.Errorf("%w: session is closed", domain.ErrCommunication)
}

func (s *session) Messages() <-chan domain.PeerMessage {
	return s.msgs
}

func (s *session) Transport() <-chan domain.TransportEvent {
	return s.transport
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.out)
		s.sendMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return s.firstErr()
}

func (s *session) firstErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()
	defer close(s.writerDone)

	for fr := range s.out {
		kind := websocket.TextMessage
		if fr.binary {
			kind = websocket.BinaryMessage
		}
		if err := s.conn.WriteMessage(kind, fr.payload); err != nil {
			s.setErr(fmt.Errorf("failed to send frame: %w", err))
			return
		}
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.emitTransport(s.closedEvent(err))
			return
		}

		var msg domain.PeerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Debug().Msg("ignoring malformed peer message")
			continue
		}

		switch msg.Type {
		case domain.MessageReady:
			s.emitTransport(domain.TransportEvent{State: domain.TransportReady})
		case domain.MessageDegraded:
			s.emitTransport(domain.TransportEvent{State: domain.TransportDegraded})
		case "":
			continue
		default:
			select {
			case s.msgs <- msg:
			default:
				s.log.Warn().Str("type", msg.Type).Msg("dropping peer message, consumer is behind")
			}
		}
	}
}

// closedEvent maps a read failure onto the disconnect signal. A policy
// violation close means the peer invalidated our identity mid-session.
func (s *session) closedEvent(err error) domain.TransportEvent {
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return domain.TransportEvent{State: domain.TransportClosed, Err: domain.ErrIdentityRejected}
	}
	s.setErr(fmt.Errorf("failed to read peer message: %w", err))
	cause := s.firstErr()
	if cause == nil {
		return domain.TransportEvent{State: domain.TransportClosed}
	}
	return domain.TransportEvent{State: domain.TransportClosed, Err: fmt.Errorf("%w: %v", domain.ErrCommunication, cause)}
}

func (s *session) emitTransport(ev domain.TransportEvent) {
	select {
	case s.transport <- ev:
	default:
		// Channel closure below still signals the watcher.
	}
}

func buildSessionURL(serverURL string) (string, error) {
	base := strings.TrimSpace(serverURL)
	if base == "" {
		return "", fmt.Errorf("%w: server address is empty", domain.ErrTransport)
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	sessionURL, err := url.Parse(base + "/ws")
	if err != nil {
		return "", fmt.Errorf("%w: invalid server address: %v", domain.ErrTransport, err)
	}
	if sessionURL.Scheme != "ws" && sessionURL.Scheme != "wss" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrTransport, sessionURL.Scheme)
	}
	return sessionURL.String(), nil
}

var _ ports.Session = (*session)(nil)
var _ ports.SessionFactory = (*Factory)(nil)
