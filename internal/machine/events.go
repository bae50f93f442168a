package machine

import (
	"encoding/json"

	"patter/internal/domain"
	"patter/internal/ports"
)

// event is anything processed by the machine's loop, strictly in arrival
// order. External events come from windows and other processes; internal
// events are posted by scoped tasks and carry the attempt epoch they belong
// to, so results from a superseded attempt are ignored.
type event interface{ isEvent() }

type connectEvent struct{ address string }
type manualReconnectEvent struct{}
type addressChangedEvent struct{ address string }
type startRecordingEvent struct{}
type stopRecordingEvent struct{}
type responseReceivedEvent struct{}
type configChangeEvent struct {
	setting domain.SettingName
	value   json.RawMessage
}
type shutdownEvent struct{ done chan struct{} }

type initResultEvent struct {
	epoch   int
	session ports.Session
	token   string
	err     error
}
type transportReadyEvent struct{ epoch int }
type transportDownEvent struct {
	epoch int
	err   error
}
type peerMessageEvent struct {
	epoch int
	msg   domain.PeerMessage
}
type connectTimeoutEvent struct{ epoch int }
type backoffElapsedEvent struct{ epoch int }
type syncDoneEvent struct {
	epoch int
	err   error
}

func (connectEvent) isEvent()          {}
func (manualReconnectEvent) isEvent()  {}
func (addressChangedEvent) isEvent()   {}
func (startRecordingEvent) isEvent()   {}
func (stopRecordingEvent) isEvent()    {}
func (responseReceivedEvent) isEvent() {}
func (configChangeEvent) isEvent()     {}
func (shutdownEvent) isEvent()         {}
func (initResultEvent) isEvent()       {}
func (transportReadyEvent) isEvent()   {}
func (transportDownEvent) isEvent()    {}
func (peerMessageEvent) isEvent()      {}
func (connectTimeoutEvent) isEvent()   {}
func (backoffElapsedEvent) isEvent()   {}
func (syncDoneEvent) isEvent()         {}
