package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"patter/internal/bootstrap"
	"patter/internal/config"
	"patter/internal/domain"
	"patter/internal/machine"
	"patter/internal/ports"
)

const (
	eventConnectionState  = "connection-state-changed"
	eventReconnectStarted = "reconnect-started"
	eventReconnectResult  = "reconnect-result"
	eventConfigResponse   = "config-response"
	eventPartial          = "partial-transcript"
	eventFinal            = "final-transcript"
	eventHistoryChanged   = "history-changed"
)

// App is the Wails application root. Every window binds to the same App, so
// connection state has a single owner regardless of how many windows mirror it.
type App struct {
	ctx context.Context

	machine  *machine.Machine
	settings ports.SettingsStore
	history  ports.HistoryStore
	cfg      config.Config
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.ConnectionStateChanged(domain.StatusPayload{
			Phase:     domain.PhaseDisconnected,
			LastError: err.Error(),
		})
		return
	}

	a.machine = services.Machine
	a.settings = services.Settings
	a.history = services.History
	a.cfg = services.Config

	a.machine.Start()

	address := a.settings.Get().ServerURL
	if address == "" {
		address = a.cfg.Server.URL
	}
	a.machine.Connect(address)
}

func (a *App) shutdown(_ context.Context) {
	if a.machine != nil {
		a.machine.Shutdown()
	}
}

// Connect establishes a connection to the given service address.
func (a *App) Connect(address string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.Connect(address)
	return nil
}

// ManualReconnect retries the connection immediately, skipping any pending
// backoff delay.
func (a *App) ManualReconnect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.ManualReconnect()
	return nil
}

// SetServerAddress switches to a different service address and reconnects.
func (a *App) SetServerAddress(address string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.AddressChanged(address)
	return nil
}

// StartRecording begins a dictation turn.
func (a *App) StartRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.StartRecording()
	return nil
}

// StopRecording ends the dictation turn; the processed result arrives as a
// final-transcript event.
func (a *App) StopRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.StopRecording()
	return nil
}

// NotifyResponseReceived tells the backend the window consumed the processed
// result, ending the processing phase.
func (a *App) NotifyResponseReceived() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.machine.ResponseReceived()
	return nil
}

// SetSTTProvider selects the speech-to-text provider.
func (a *App) SetSTTProvider(selection domain.ProviderSelection) error {
	return a.requestConfigChange(domain.SettingSTTProvider, selection)
}

// SetLLMProvider selects the language-model provider.
func (a *App) SetLLMProvider(selection domain.ProviderSelection) error {
	return a.requestConfigChange(domain.SettingLLMProvider, selection)
}

// SetSTTTimeout sets how long the service waits for trailing transcription,
// in seconds.
func (a *App) SetSTTTimeout(seconds float64) error {
	return a.requestConfigChange(domain.SettingSTTTimeout, seconds)
}

// SetPromptSections replaces the formatting prompt sections.
func (a *App) SetPromptSections(sections []domain.PromptSection) error {
	return a.requestConfigChange(domain.SettingPromptSections, domain.PromptSectionsData{Sections: sections})
}

// SetLLMFormattingEnabled toggles language-model formatting of transcripts.
func (a *App) SetLLMFormattingEnabled(enabled bool) error {
	return a.requestConfigChange(domain.SettingLLMFormatting, domain.LLMFormattingData{Enabled: enabled})
}

// GetHistory returns up to limit past dictations, newest first. A
// non-positive limit returns everything.
func (a *App) GetHistory(limit int) []domain.HistoryEntry {
	if a.history == nil {
		return nil
	}
	return a.history.All(limit)
}

// DeleteHistoryEntry removes one past dictation by id.
func (a *App) DeleteHistoryEntry(id string) (bool, error) {
	if a.history == nil {
		return false, fmt.Errorf("application is not initialized")
	}
	removed, err := a.history.Delete(id)
	if err != nil {
		return false, err
	}
	if removed {
		a.HistoryChanged()
	}
	return removed, nil
}

// ClearHistory removes every past dictation.
func (a *App) ClearHistory() error {
	if a.history == nil {
		return fmt.Errorf("application is not initialized")
	}
	if err := a.history.Clear(); err != nil {
		return err
	}
	a.HistoryChanged()
	return nil
}

func (a *App) requestConfigChange(setting domain.SettingName, value any) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s value: %w", setting, err)
	}
	a.machine.RequestConfigChange(setting, raw)
	return nil
}

// GetStatus returns the current connection status snapshot. New windows call
// this once, then follow connection-state-changed events.
func (a *App) GetStatus() domain.StatusPayload {
	if a.machine == nil {
		status := domain.StatusPayload{Phase: domain.PhaseDisconnected}
		if a.bootErr != nil {
			status.LastError = a.bootErr.Error()
		}
		return status
	}
	return a.machine.Status()
}

// GetSettings returns the persisted client settings for the UI.
func (a *App) GetSettings() domain.Settings {
	if a.settings == nil {
		return domain.DefaultSettings()
	}
	return a.settings.Get()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return map[string]string{
		"serverUrl":        a.cfg.Server.URL,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.machine == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ConnectionStateChanged broadcasts the connection phase to all windows.
func (a *App) ConnectionStateChanged(status domain.StatusPayload) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventConnectionState, status)
}

// ReconnectStarted announces the start of a reconnect attempt.
func (a *App) ReconnectStarted() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventReconnectStarted)
}

// ReconnectResult closes a reconnect-started bracket with the outcome.
func (a *App) ReconnectResult(result domain.ReconnectResult) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventReconnectResult, result)
}

// ConfigResponse relays a configuration acknowledgement or rejection.
func (a *App) ConfigResponse(response domain.ConfigResponse) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventConfigResponse, response)
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits the processed dictation result.
func (a *App) FinalTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{"text": text})
}

// HistoryChanged tells windows the dictation history changed.
func (a *App) HistoryChanged() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventHistoryChanged)
}
