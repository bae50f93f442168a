// Package health watches an established session for disconnection or
// degraded transport state. It reports, it never reconnects.
package health

import (
	"sync"

	"patter/internal/domain"
)

// Monitor collapses a session's transport notifications into at most one
// outward Disconnected signal. Ready notifications are forwarded as-is.
// Stop tears the watch down; no signal is delivered afterwards.
type Monitor struct {
	stop chan struct{}
	done chan struct{}

	signalOnce sync.Once
	stopOnce   sync.Once
}

// Watch starts observing events until the channel closes or Stop is called.
// onReady fires for every ready notification; onDisconnect fires at most
// once, the first time the transport degrades, closes, or the channel is
// closed by the session.
func Watch(events <-chan domain.TransportEvent, onReady func(), onDisconnect func(err error)) *Monitor {
	m := &Monitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(m.done)
		for {
			select {
			case <-m.stop:
				return
			case ev, ok := <-events:
				if !ok {
					m.disconnect(onDisconnect, nil)
					return
				}
				switch ev.State {
				case domain.TransportReady:
					select {
					case <-m.stop:
						return
					default:
					}
					onReady()
				case domain.TransportDegraded, domain.TransportClosed:
					m.disconnect(onDisconnect, ev.Err)
					return
				}
			}
		}
	}()

	return m
}

func (m *Monitor) disconnect(onDisconnect func(err error), err error) {
	select {
	case <-m.stop:
		return
	default:
	}
	m.signalOnce.Do(func() { onDisconnect(err) })
}

// Stop ends the watch. It blocks until no further callbacks can fire.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
