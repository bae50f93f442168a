// Package configsync pushes the client's stored provider and feature
// selections to the peer after a fresh connection, relays later change
// requests, and self-heals selections the peer reports as unavailable.
package configsync

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"patter/internal/domain"
	"patter/internal/ports"
)

// Syncer owns the configuration conversation with the peer. Failures are
// non-fatal for the connection; the surrounding state machine reaches idle
// either way.
type Syncer struct {
	store ports.SettingsStore
	log   zerolog.Logger

	mu sync.Mutex
	// corrected remembers the last invalid value healed per setting so a
	// rejected selection is retried at most once.
	corrected map[domain.SettingName]string
}

func New(store ports.SettingsStore, log zerolog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		log:       log.With().Str("component", "configsync").Logger(),
		corrected: make(map[domain.SettingName]string),
	}
}

// PushAll sends the full batch of stored selections to the peer.
func (s *Syncer) PushAll(session ports.Session) error {
	current := s.store.Get()

	batch := []domain.ClientMessage{
		domain.SetSTTProviderMessage(current.STTProvider),
		domain.SetLLMProviderMessage(current.LLMProvider),
		domain.SetSTTTimeoutMessage(current.STTTimeoutSeconds),
		domain.SetLLMFormattingMessage(current.FormattingEnabled()),
	}
	if len(current.PromptSections) > 0 {
		batch = append(batch, domain.SetPromptSectionsMessage(current.PromptSections))
	}
	for _, msg := range batch {
		if err := session.Send(msg); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
		}
	}
	s.log.Debug().Int("entries", len(batch)).Msg("pushed configuration batch")
	return nil
}

// Persist validates and stores one change request without contacting the
// peer. Used while no session is available; the next PushAll delivers it.
func (s *Syncer) Persist(setting domain.SettingName, value json.RawMessage) error {
	_, err := s.decodeAndStore(setting, value)
	return err
}

// Apply handles one external change request: the value is persisted and
// forwarded to the peer. The peer's acknowledgement arrives asynchronously
// and is routed through HandleResponse.
func (s *Syncer) Apply(session ports.Session, setting domain.SettingName, value json.RawMessage) error {
	msg, err := s.decodeAndStore(setting, value)
	if err != nil {
		return err
	}
	if err := session.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
	}
	return nil
}

func (s *Syncer) decodeAndStore(setting domain.SettingName, value json.RawMessage) (domain.ClientMessage, error) {
	switch setting {
	case domain.SettingSTTProvider, domain.SettingLLMProvider:
		var sel domain.ProviderSelection
		if err := json.Unmarshal(value, &sel); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: malformed provider selection: %v", domain.ErrConfigSync, err)
		}
		if sel.Mode == "" {
			return domain.ClientMessage{}, fmt.Errorf("%w: provider selection has no mode", domain.ErrConfigSync)
		}
		err := s.store.Update(func(st *domain.Settings) {
			if setting == domain.SettingSTTProvider {
				st.STTProvider = sel
			} else {
				st.LLMProvider = sel
			}
		})
		if err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
		}
		if setting == domain.SettingSTTProvider {
			return domain.SetSTTProviderMessage(sel), nil
		}
		return domain.SetLLMProviderMessage(sel), nil
	case domain.SettingSTTTimeout:
		var timeout float64
		if err := json.Unmarshal(value, &timeout); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: malformed timeout: %v", domain.ErrConfigSync, err)
		}
		if timeout <= 0 {
			return domain.ClientMessage{}, fmt.Errorf("%w: timeout must be positive", domain.ErrConfigSync)
		}
		if err := s.store.Update(func(st *domain.Settings) { st.STTTimeoutSeconds = timeout }); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
		}
		return domain.SetSTTTimeoutMessage(timeout), nil
	case domain.SettingPromptSections:
		var data domain.PromptSectionsData
		if err := json.Unmarshal(value, &data); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: malformed prompt sections: %v", domain.ErrConfigSync, err)
		}
		for _, sec := range data.Sections {
			if sec.Name == "" {
				return domain.ClientMessage{}, fmt.Errorf("%w: prompt section has no name", domain.ErrConfigSync)
			}
		}
		if err := s.store.Update(func(st *domain.Settings) { st.PromptSections = data.Sections }); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
		}
		return domain.SetPromptSectionsMessage(data.Sections), nil
	case domain.SettingLLMFormatting:
		var data domain.LLMFormattingData
		if err := json.Unmarshal(value, &data); err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: malformed formatting toggle: %v", domain.ErrConfigSync, err)
		}
		err := s.store.Update(func(st *domain.Settings) {
			enabled := data.Enabled
			st.LLMFormattingEnabled = &enabled
		})
		if err != nil {
			return domain.ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
		}
		return domain.SetLLMFormattingMessage(data.Enabled), nil
	default:
		return domain.ClientMessage{}, fmt.Errorf("%w: unknown setting %q", domain.ErrConfigSync, setting)
	}
}

func (s *Syncer) applyProvider(session ports.Session, setting domain.SettingName, sel domain.ProviderSelection) error {
	err := s.store.Update(func(st *domain.Settings) {
		if setting == domain.SettingSTTProvider {
			st.STTProvider = sel
		} else {
			st.LLMProvider = sel
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
	}

	msg := domain.SetSTTProviderMessage(sel)
	if setting == domain.SettingLLMProvider {
		msg = domain.SetLLMProviderMessage(sel)
	}
	if err := session.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigSync, err)
	}
	return nil
}

// HandleResponse processes a config-updated or config-error peer message and
// returns the response to relay to the windows. A rejected provider
// selection is healed to auto exactly once per distinct invalid value: the
// corrected value is persisted and re-sent so the failed selection is not
// repeated indefinitely.
func (s *Syncer) HandleResponse(session ports.Session, msg domain.PeerMessage) domain.ConfigResponse {
	response := domain.ConfigResponse{
		Type:    msg.Type,
		Setting: msg.Setting,
		Value:   msg.Value,
		Error:   msg.Error,
	}

	if msg.Type != domain.MessageConfigError {
		return response
	}
	s.log.Warn().Str("setting", string(msg.Setting)).Str("error", msg.Error).Msg("peer rejected configuration entry")

	switch msg.Setting {
	case domain.SettingSTTProvider, domain.SettingLLMProvider:
		s.healProvider(session, msg.Setting)
	}
	return response
}

func (s *Syncer) healProvider(session ports.Session, setting domain.SettingName) {
	current := s.store.Get()
	sel := current.STTProvider
	if setting == domain.SettingLLMProvider {
		sel = current.LLMProvider
	}
	if sel.Mode == domain.ProviderModeAuto {
		return
	}

	s.mu.Lock()
	if s.corrected[setting] == sel.ProviderID {
		s.mu.Unlock()
		return
	}
	s.corrected[setting] = sel.ProviderID
	s.mu.Unlock()

	catalog := domain.KnownSTTProviderIDs
	if setting == domain.SettingLLMProvider {
		catalog = domain.KnownLLMProviderIDs
	}
	if _, known := catalog[sel.ProviderID]; known {
		s.log.Info().Str("setting", string(setting)).Str("provider", sel.ProviderID).
			Msg("known provider unavailable on peer, falling back to auto")
	} else {
		s.log.Info().Str("setting", string(setting)).Str("provider", sel.ProviderID).
			Msg("provider not in catalog, falling back to auto")
	}

	if err := s.applyProvider(session, setting, domain.AutoProvider()); err != nil {
		s.log.Warn().Err(err).Msg("failed to apply auto fallback")
	}
}
