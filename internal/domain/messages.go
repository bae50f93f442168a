package domain

import "encoding/json"

// SettingName identifies a synced configuration entry.
type SettingName string

const (
	SettingSTTProvider    SettingName = "stt-provider"
	SettingLLMProvider    SettingName = "llm-provider"
	SettingSTTTimeout     SettingName = "stt-timeout"
	SettingPromptSections SettingName = "prompt-sections"
	SettingLLMFormatting  SettingName = "llm-formatting"
)

// ProviderMode selects how a provider is chosen.
type ProviderMode string

const (
	ProviderModeAuto  ProviderMode = "auto"
	ProviderModeKnown ProviderMode = "known"
	ProviderModeOther ProviderMode = "other"
)

// ProviderSelection is the discriminated provider choice shared with the
// peer: {"mode":"auto"} or {"mode":"known","providerId":"deepgram"} or
// {"mode":"other","providerId":"..."} for forward compatibility.
type ProviderSelection struct {
	Mode       ProviderMode `json:"mode"`
	ProviderID string       `json:"providerId,omitempty"`
}

// AutoProvider returns the selection that defers to the peer's default.
func AutoProvider() ProviderSelection {
	return ProviderSelection{Mode: ProviderModeAuto}
}

// KnownSTTProviderIDs is the last known speech-to-text provider catalog.
var KnownSTTProviderIDs = map[string]struct{}{
	"speechmatics": {},
	"assemblyai":   {},
	"aws":          {},
	"azure":        {},
	"cartesia":     {},
	"deepgram":     {},
	"google":       {},
	"groq":         {},
	"nemotron":     {},
	"openai":       {},
	"whisper":      {},
}

// KnownLLMProviderIDs is the last known language-model provider catalog.
var KnownLLMProviderIDs = map[string]struct{}{
	"anthropic":  {},
	"bedrock":    {},
	"cerebras":   {},
	"gemini":     {},
	"groq":       {},
	"ollama":     {},
	"openai":     {},
	"openrouter": {},
}

// Client message types sent over the data channel.
const (
	MessageStartRecording    = "start-recording"
	MessageStopRecording     = "stop-recording"
	MessageSetSTTProvider    = "set-stt-provider"
	MessageSetLLMProvider    = "set-llm-provider"
	MessageSetSTTTimeout     = "set-stt-timeout"
	MessageSetPromptSections = "set-prompt-sections"
	MessageSetLLMFormatting  = "set-llm-formatting"
)

// Peer message types received over the data channel.
const (
	MessageReady             = "ready"
	MessageDegraded          = "degraded"
	MessagePartialTranscript = "partial-transcript"
	MessageFinalTranscript   = "final-transcript"
	MessageRecordingStarted  = "recording-started"
	MessageRecordingFailed   = "recording-failed"
	MessageConfigUpdated     = "config-updated"
	MessageConfigError       = "config-error"
)

// ClientMessage is a typed message sent to the peer.
type ClientMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ProviderData wraps a provider selection for set-*-provider messages.
type ProviderData struct {
	Provider ProviderSelection `json:"provider"`
}

// TimeoutData wraps the transcription wait timeout for set-stt-timeout.
type TimeoutData struct {
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func SetSTTProviderMessage(sel ProviderSelection) ClientMessage {
	return ClientMessage{Type: MessageSetSTTProvider, Data: ProviderData{Provider: sel}}
}

func SetLLMProviderMessage(sel ProviderSelection) ClientMessage {
	return ClientMessage{Type: MessageSetLLMProvider, Data: ProviderData{Provider: sel}}
}

func SetSTTTimeoutMessage(seconds float64) ClientMessage {
	return ClientMessage{Type: MessageSetSTTTimeout, Data: TimeoutData{TimeoutSeconds: seconds}}
}

// PromptSection is one named block of the transcript cleanup prompt.
type PromptSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// PromptSectionsData wraps the cleanup prompt sections for
// set-prompt-sections messages.
type PromptSectionsData struct {
	Sections []PromptSection `json:"sections"`
}

// LLMFormattingData wraps the formatting toggle for set-llm-formatting.
type LLMFormattingData struct {
	Enabled bool `json:"enabled"`
}

func SetPromptSectionsMessage(sections []PromptSection) ClientMessage {
	return ClientMessage{Type: MessageSetPromptSections, Data: PromptSectionsData{Sections: sections}}
}

func SetLLMFormattingMessage(enabled bool) ClientMessage {
	return ClientMessage{Type: MessageSetLLMFormatting, Data: LLMFormattingData{Enabled: enabled}}
}

// PeerMessage is a decoded message from the peer. Fields beyond Type are
// populated depending on the message kind.
type PeerMessage struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Setting SettingName     `json:"setting,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ConfigResponse is relayed to windows for every acknowledged or rejected
// configuration request.
type ConfigResponse struct {
	Type    string          `json:"type"`
	Setting SettingName     `json:"setting"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Settings is the durable client state consumed by the registrar, the
// factory, and the configuration sync channel.
type Settings struct {
	ServerURL         string            `json:"server_url,omitempty"`
	ClientUUID        string            `json:"client_uuid,omitempty"`
	STTProvider       ProviderSelection `json:"stt_provider"`
	LLMProvider       ProviderSelection `json:"llm_provider"`
	STTTimeoutSeconds float64           `json:"stt_timeout_seconds"`
	PromptSections    []PromptSection   `json:"prompt_sections,omitempty"`
	// LLMFormattingEnabled is a pointer so that a file written before the
	// setting existed still reads as the enabled default.
	LLMFormattingEnabled *bool `json:"llm_formatting_enabled,omitempty"`
}

// FormattingEnabled resolves the formatting toggle, defaulting to enabled.
func (s Settings) FormattingEnabled() bool {
	if s.LLMFormattingEnabled == nil {
		return true
	}
	return *s.LLMFormattingEnabled
}

// DefaultSTTTimeoutSeconds matches the peer's default transcription wait.
const DefaultSTTTimeoutSeconds = 0.5

// DefaultSettings returns the settings used before anything is persisted.
func DefaultSettings() Settings {
	enabled := true
	return Settings{
		STTProvider:          AutoProvider(),
		LLMProvider:          AutoProvider(),
		STTTimeoutSeconds:    DefaultSTTTimeoutSeconds,
		LLMFormattingEnabled: &enabled,
	}
}
