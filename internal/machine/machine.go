// Package machine owns the connection lifecycle: it drives connection
// establishment, detects and classifies disconnection, retries with
// exponential backoff, keeps identity and configuration in sync with the
// peer, and broadcasts its phase to every window.
package machine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"patter/internal/backoff"
	"patter/internal/configsync"
	"patter/internal/domain"
	"patter/internal/health"
	"patter/internal/ports"
)

// Config controls machine behavior.
type Config struct {
	// ConnectTimeout is the hard ceiling on reaching transport-ready.
	ConnectTimeout time.Duration
	Audio          ports.AudioConfig
	ChunkSize      int
	// Rewriter, when set, post-processes final transcripts.
	Rewriter ports.TranscriptRewriter
	// History, when set, records delivered transcripts.
	History ports.HistoryStore
}

// connectionContext is the single mutable record behind the machine. Only
// the event loop touches it.
type connectionContext struct {
	session    ports.Session
	token      string
	address    string
	retryCount int
	lastError  string
}

// Machine is the connection lifecycle orchestrator. Construct with New,
// start with Start, send events through the exported methods. The Machine
// pointer is the shareable sender handle.
type Machine struct {
	registrar ports.Registrar
	factory   ports.SessionFactory
	store     ports.SettingsStore
	audio     ports.AudioCapture
	sink      ports.EventSink
	syncer    *configsync.Syncer
	scheduler *backoff.Scheduler
	cfg       Config
	log       zerolog.Logger

	events chan event
	quit   chan struct{}

	// Everything below is owned by the loop goroutine.
	state             domain.ConnState
	cctx              connectionContext
	epoch             int
	attemptCancel     context.CancelFunc
	monitor           *health.Monitor
	timer             *time.Timer
	capture           ports.AudioSession
	pumpDone          chan struct{}
	transcript        *transcriptAggregator
	retryInfo         *domain.RetryInfo
	reconnectInFlight bool

	statusMu sync.RWMutex
	status   domain.StatusPayload
}

func New(
	registrar ports.Registrar,
	factory ports.SessionFactory,
	store ports.SettingsStore,
	audio ports.AudioCapture,
	sink ports.EventSink,
	syncer *configsync.Syncer,
	cfg Config,
	log zerolog.Logger,
) *Machine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	return &Machine{
		registrar: registrar,
		factory:   factory,
		store:     store,
		audio:     audio,
		sink:      sink,
		syncer:    syncer,
		scheduler: backoff.NewScheduler(),
		cfg:       cfg,
		log:       log.With().Str("component", "machine").Logger(),
		events:    make(chan event, 256),
		quit:      make(chan struct{}),
		state:     domain.StateDisconnected,
		status:    domain.StatusPayload{Phase: domain.PhaseDisconnected},
	}
}

// Start runs the event loop until Shutdown.
func (m *Machine) Start() {
	go m.loop()
}

// Shutdown releases the session and stops the loop. Safe to call once.
func (m *Machine) Shutdown() {
	done := make(chan struct{})
	select {
	case m.events <- shutdownEvent{done: done}:
		<-done
	case <-m.quit:
	}
}

// Status returns the last broadcast status snapshot.
func (m *Machine) Status() domain.StatusPayload {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// Connect asks the machine to establish a connection to address.
func (m *Machine) Connect(address string) { m.post(connectEvent{address: address}) }

// ManualReconnect restarts the connect cycle immediately, resetting backoff.
func (m *Machine) ManualReconnect() { m.post(manualReconnectEvent{}) }

// AddressChanged switches the target address and reconnects with counters reset.
func (m *Machine) AddressChanged(address string) { m.post(addressChangedEvent{address: address}) }

// StartRecording begins a dictation turn.
func (m *Machine) StartRecording() { m.post(startRecordingEvent{}) }

// StopRecording ends the dictation turn and waits for the processed result.
func (m *Machine) StopRecording() { m.post(stopRecordingEvent{}) }

// ResponseReceived notifies the machine that the processed result arrived.
func (m *Machine) ResponseReceived() { m.post(responseReceivedEvent{}) }

// RequestConfigChange forwards a settings change to the peer.
func (m *Machine) RequestConfigChange(setting domain.SettingName, value json.RawMessage) {
	m.post(configChangeEvent{setting: setting, value: value})
}

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

func (m *Machine) loop() {
	for {
		ev := <-m.events
		if sd, ok := ev.(shutdownEvent); ok {
			m.shutdown()
			close(sd.done)
			return
		}
		m.handle(ev)
	}
}

func (m *Machine) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		m.handleConnect(ev.address)
	case manualReconnectEvent:
		m.handleManualReconnect()
	case addressChangedEvent:
		m.handleAddressChanged(ev.address)
	case startRecordingEvent:
		m.handleStartRecording()
	case stopRecordingEvent:
		m.handleStopRecording()
	case responseReceivedEvent:
		m.handleResponseReceived()
	case configChangeEvent:
		m.handleConfigChange(ev)
	case initResultEvent:
		m.handleInitResult(ev)
	case transportReadyEvent:
		m.handleTransportReady(ev)
	case transportDownEvent:
		m.handleTransportDown(ev)
	case peerMessageEvent:
		m.handlePeerMessage(ev)
	case connectTimeoutEvent:
		m.handleConnectTimeout(ev)
	case backoffElapsedEvent:
		m.handleBackoffElapsed(ev)
	case syncDoneEvent:
		m.handleSyncDone(ev)
	}
}

// --- external events ---

func (m *Machine) handleConnect(address string) {
	if m.state != domain.StateDisconnected {
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring connect request")
		return
	}
	m.cctx.address = address
	if err := m.store.Update(func(s *domain.Settings) { s.ServerURL = address }); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist server address")
	}
	m.enterInitializing(false)
}

func (m *Machine) handleManualReconnect() {
	switch m.state {
	case domain.StateRetrying:
		m.stopTimer()
		m.retryInfo = nil
		m.cctx.retryCount = 0
		m.scheduler.Reset()
		m.enterInitializing(true)
	case domain.StateIdle:
		m.teardownAttempt()
		m.releaseSession()
		m.cctx.retryCount = 0
		m.scheduler.Reset()
		m.enterInitializing(true)
	default:
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring manual reconnect")
	}
}

func (m *Machine) handleAddressChanged(address string) {
	switch m.state {
	case domain.StateDisconnected:
		m.cctx.address = address
		return
	case domain.StateRetrying, domain.StateIdle, domain.StateSyncing:
		m.stopTimer()
		m.retryInfo = nil
		m.teardownAttempt()
		m.releaseSession()
		m.cctx.address = address
		m.cctx.retryCount = 0
		m.scheduler.Reset()
		m.reconnectInFlight = false
		if err := m.store.Update(func(s *domain.Settings) { s.ServerURL = address }); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist server address")
		}
		m.enterInitializing(false)
	default:
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring address change")
	}
}

func (m *Machine) handleStartRecording() {
	if m.state != domain.StateIdle {
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring start recording")
		return
	}

	m.transcript = newTranscriptAggregator()
	capture, err := m.audio.Start(context.Background(), m.cfg.Audio)
	if err != nil {
		m.cctx.lastError = err.Error()
		m.log.Warn().Err(err).Msg("microphone capture failed to start")
		m.setState(domain.StateIdle)
		return
	}
	m.capture = capture

	if err := m.cctx.session.Send(domain.ClientMessage{Type: domain.MessageStartRecording}); err != nil {
		m.stopCapture()
		m.disconnect(err)
		return
	}

	m.pumpDone = make(chan struct{})
	go pumpAudio(capture, m.cctx.session, m.cfg.ChunkSize, m.log, m.pumpDone)

	m.setState(domain.StateStartingRecording)
}

func (m *Machine) handleStopRecording() {
	if m.state != domain.StateRecording {
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring stop recording")
		return
	}

	m.stopCapture()
	if err := m.cctx.session.Send(domain.ClientMessage{Type: domain.MessageStopRecording}); err != nil {
		m.disconnect(err)
		return
	}
	m.setState(domain.StateProcessing)
}

func (m *Machine) handleResponseReceived() {
	if m.state != domain.StateProcessing {
		m.log.Debug().Str("state", string(m.state)).Msg("ignoring response received")
		return
	}
	m.setState(domain.StateIdle)
}

func (m *Machine) handleConfigChange(ev configChangeEvent) {
	if m.state == domain.StateIdle && m.cctx.session != nil {
		if err := m.syncer.Apply(m.cctx.session, ev.setting, ev.value); err != nil {
			m.sink.ConfigResponse(domain.ConfigResponse{
				Type:    domain.MessageConfigError,
				Setting: ev.setting,
				Error:   err.Error(),
			})
		}
		return
	}

	// Not connected: persist now, deliver on the next sync.
	if err := m.syncer.Persist(ev.setting, ev.value); err != nil {
		m.sink.ConfigResponse(domain.ConfigResponse{
			Type:    domain.MessageConfigError,
			Setting: ev.setting,
			Error:   err.Error(),
		})
		return
	}
	m.sink.ConfigResponse(domain.ConfigResponse{
		Type:    domain.MessageConfigUpdated,
		Setting: ev.setting,
		Value:   ev.value,
	})
}

// --- internal events ---

func (m *Machine) handleInitResult(ev initResultEvent) {
	if ev.epoch != m.epoch || m.state != domain.StateInitializing {
		if ev.session != nil {
			_ = ev.session.Close()
		}
		return
	}

	if ev.err != nil {
		if errors.Is(ev.err, domain.ErrIdentityRejected) {
			m.clearIdentity()
			m.cctx.lastError = ev.err.Error()
			m.enterInitializing(false)
			return
		}
		m.enterRetrying(ev.err)
		return
	}

	m.cctx.session = ev.session
	m.cctx.token = ev.token
	m.enterConnecting()
}

func (m *Machine) handleTransportReady(ev transportReadyEvent) {
	if ev.epoch != m.epoch || m.state != domain.StateConnecting {
		return
	}

	m.stopTimer()
	m.cctx.retryCount = 0
	m.cctx.lastError = ""
	m.retryInfo = nil
	m.scheduler.Reset()
	if m.reconnectInFlight {
		m.sink.ReconnectResult(domain.ReconnectResult{Success: true})
		m.reconnectInFlight = false
	}

	m.setState(domain.StateSyncing)

	session := m.cctx.session
	epoch := m.epoch
	go func() {
		err := m.syncer.PushAll(session)
		m.post(syncDoneEvent{epoch: epoch, err: err})
	}()
}

func (m *Machine) handleTransportDown(ev transportDownEvent) {
	if ev.epoch != m.epoch || !m.state.HasSession() {
		return
	}
	m.disconnect(ev.err)
}

func (m *Machine) handleConnectTimeout(ev connectTimeoutEvent) {
	if ev.epoch != m.epoch || m.state != domain.StateConnecting {
		return
	}
	m.enterRetrying(domain.ErrConnectionTimeout)
}

func (m *Machine) handleBackoffElapsed(ev backoffElapsedEvent) {
	if ev.epoch != m.epoch || m.state != domain.StateRetrying {
		return
	}
	m.retryInfo = nil
	m.enterInitializing(false)
}

func (m *Machine) handleSyncDone(ev syncDoneEvent) {
	if ev.epoch != m.epoch || m.state != domain.StateSyncing {
		return
	}
	if ev.err != nil {
		// Non-fatal: configuration can be corrected later.
		m.log.Warn().Err(ev.err).Msg("configuration sync failed")
	}
	m.setState(domain.StateIdle)
}

func (m *Machine) handlePeerMessage(ev peerMessageEvent) {
	if ev.epoch != m.epoch || !m.state.HasSession() {
		return
	}

	msg := ev.msg
	switch msg.Type {
	case domain.MessagePartialTranscript:
		if m.transcript != nil {
			m.transcript.AddPartial(msg.Text)
		}
		m.sink.PartialTranscript(msg.Text)

	case domain.MessageFinalTranscript:
		if m.transcript != nil {
			m.transcript.AddFinal(msg.Text)
		}
		if m.state == domain.StateProcessing {
			text := msg.Text
			if m.transcript != nil {
				text = m.transcript.Text()
			}
			m.emitFinal(text)
			m.handleResponseReceived()
		} else {
			m.emitFinal(msg.Text)
		}

	case domain.MessageRecordingStarted:
		if m.state == domain.StateStartingRecording {
			m.cctx.lastError = ""
			m.setState(domain.StateRecording)
		}

	case domain.MessageRecordingFailed:
		if m.state == domain.StateStartingRecording || m.state == domain.StateRecording {
			m.stopCapture()
			m.cctx.lastError = msg.Error
			m.setState(domain.StateIdle)
		}

	case domain.MessageConfigUpdated, domain.MessageConfigError:
		response := m.syncer.HandleResponse(m.cctx.session, msg)
		m.sink.ConfigResponse(response)
	}
}

// emitFinal delivers the dictation result, rewritten when a rule set is
// configured. A failing rewrite falls back to the raw text. Delivered
// transcripts are also recorded in the history store.
func (m *Machine) emitFinal(text string) {
	raw := text
	if m.cfg.Rewriter != nil {
		rewritten, err := m.cfg.Rewriter.Apply(text)
		if err != nil {
			m.log.Warn().Err(err).Msg("transcript rewrite failed")
		} else {
			text = rewritten
		}
	}
	m.sink.FinalTranscript(text)
	if m.cfg.History != nil {
		if _, err := m.cfg.History.Add(text, raw); err != nil {
			m.log.Warn().Err(err).Msg("failed to record dictation history")
		} else {
			m.sink.HistoryChanged()
		}
	}
}

// --- state entry actions ---

func (m *Machine) enterInitializing(manual bool) {
	m.teardownAttempt()
	m.epoch++

	if manual || m.cctx.retryCount > 0 {
		if !m.reconnectInFlight {
			m.sink.ReconnectStarted()
			m.reconnectInFlight = true
		}
	}

	m.setState(domain.StateInitializing)

	attemptCtx, cancel := context.WithCancel(context.Background())
	m.attemptCancel = cancel

	epoch := m.epoch
	address := m.cctx.address
	cached := m.cctx.token
	if cached == "" {
		cached = m.store.Get().ClientUUID
	}

	go func() {
		defer cancel()
		token, err := m.registrar.EnsureIdentity(attemptCtx, address, cached)
		if err != nil {
			m.post(initResultEvent{epoch: epoch, err: err})
			return
		}
		session, err := m.factory.Dial(attemptCtx, address, token)
		if err != nil {
			m.post(initResultEvent{epoch: epoch, token: token, err: err})
			return
		}
		m.post(initResultEvent{epoch: epoch, session: session, token: token})
	}()
}

func (m *Machine) enterConnecting() {
	m.setState(domain.StateConnecting)

	epoch := m.epoch
	session := m.cctx.session
	m.monitor = health.Watch(session.Transport(),
		func() { m.post(transportReadyEvent{epoch: epoch}) },
		func(err error) { m.post(transportDownEvent{epoch: epoch, err: err}) },
	)
	go func() {
		for msg := range session.Messages() {
			m.post(peerMessageEvent{epoch: epoch, msg: msg})
		}
	}()

	m.armTimer(m.cfg.ConnectTimeout, connectTimeoutEvent{epoch: epoch})
}

// enterRetrying is the single funnel for every connection-path failure. Its
// entry action increments retryCount and releases any held session exactly
// once, before the backoff delay is computed.
func (m *Machine) enterRetrying(cause error) {
	m.teardownAttempt()
	m.stopCapture()
	m.releaseSession()

	m.cctx.retryCount++
	if cause != nil {
		m.cctx.lastError = cause.Error()
	}
	if m.reconnectInFlight {
		m.sink.ReconnectResult(domain.ReconnectResult{Success: false, Error: m.cctx.lastError})
		m.reconnectInFlight = false
	}

	delay := m.scheduler.Next()
	m.retryInfo = &domain.RetryInfo{
		Attempt:     m.cctx.retryCount,
		NextRetryMs: delay.Milliseconds(),
	}
	m.log.Warn().
		Str("error", m.cctx.lastError).
		Int("attempt", m.cctx.retryCount).
		Dur("delay", delay).
		Msg("connection attempt failed, retrying")

	m.setState(domain.StateRetrying)
	m.armTimer(delay, backoffElapsedEvent{epoch: m.epoch})
}

// disconnect handles a transport failure on an established session. The
// microphone is disabled before the session is released.
func (m *Machine) disconnect(cause error) {
	if errors.Is(cause, domain.ErrIdentityRejected) {
		m.stopTimer()
		m.teardownAttempt()
		m.stopCapture()
		m.releaseSession()
		m.clearIdentity()
		m.cctx.lastError = cause.Error()
		m.enterInitializing(false)
		return
	}
	m.stopTimer()
	if cause == nil {
		cause = domain.ErrCommunication
	}
	m.enterRetrying(cause)
}

// --- helpers ---

func (m *Machine) clearIdentity() {
	m.cctx.token = ""
	if err := m.store.Update(func(s *domain.Settings) { s.ClientUUID = "" }); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear persisted identity")
	}
}

func (m *Machine) teardownAttempt() {
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
	m.stopTimer()
	m.epoch++
}

func (m *Machine) releaseSession() {
	if m.cctx.session == nil {
		return
	}
	_ = m.cctx.session.Close()
	m.cctx.session = nil
}

func (m *Machine) stopCapture() {
	if m.capture == nil {
		return
	}
	_ = m.capture.Stop()
	m.capture = nil
	if m.pumpDone != nil {
		<-m.pumpDone
		m.pumpDone = nil
	}
}

func (m *Machine) armTimer(d time.Duration, ev event) {
	m.stopTimer()
	m.timer = time.AfterFunc(d, func() { m.post(ev) })
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) setState(next domain.ConnState) {
	if m.state != next {
		m.log.Debug().Str("from", string(m.state)).Str("to", string(next)).Msg("state transition")
	}
	m.state = next

	payload := domain.StatusPayload{
		Phase:     next.Phase(m.cctx.retryCount),
		LastError: m.cctx.lastError,
	}
	if next == domain.StateRetrying && m.retryInfo != nil {
		info := *m.retryInfo
		payload.Retry = &info
	}

	m.statusMu.Lock()
	changed := payload.Phase != m.status.Phase ||
		payload.LastError != m.status.LastError ||
		(payload.Retry == nil) != (m.status.Retry == nil) ||
		(payload.Retry != nil && m.status.Retry != nil && *payload.Retry != *m.status.Retry)
	m.status = payload
	m.statusMu.Unlock()

	if changed {
		m.sink.ConnectionStateChanged(payload)
	}
}

func (m *Machine) shutdown() {
	m.teardownAttempt()
	m.stopCapture()
	m.releaseSession()
	m.cctx.retryCount = 0
	m.retryInfo = nil
	m.reconnectInFlight = false
	m.setState(domain.StateDisconnected)
	close(m.quit)
}
