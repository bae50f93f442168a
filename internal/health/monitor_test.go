package health

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"patter/internal/domain"
)

func TestWatchForwardsReady(t *testing.T) {
	t.Parallel()

	events := make(chan domain.TransportEvent, 4)
	ready := make(chan struct{}, 4)
	m := Watch(events, func() { ready <- struct{}{} }, func(error) {})
	defer m.Stop()

	events <- domain.TransportEvent{State: domain.TransportReady}

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ready callback")
	}
}

func TestWatchCollapsesSignalsToOne(t *testing.T) {
	t.Parallel()

	events := make(chan domain.TransportEvent, 4)
	var signals atomic.Int32
	down := make(chan error, 4)
	m := Watch(events, func() {}, func(err error) {
		signals.Add(1)
		down <- err
	})

	wantErr := errors.New("link lost")
	events <- domain.TransportEvent{State: domain.TransportDegraded, Err: wantErr}
	events <- domain.TransportEvent{State: domain.TransportClosed}
	close(events)

	select {
	case err := <-down:
		if !errors.Is(err, wantErr) {
			t.Fatalf("unexpected disconnect error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for disconnect callback")
	}

	m.Stop()
	if got := signals.Load(); got != 1 {
		t.Fatalf("expected exactly one disconnect signal, got %d", got)
	}
}

func TestWatchChannelCloseIsDisconnect(t *testing.T) {
	t.Parallel()

	events := make(chan domain.TransportEvent)
	down := make(chan error, 1)
	m := Watch(events, func() {}, func(err error) { down <- err })
	defer m.Stop()

	close(events)

	select {
	case <-down:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for disconnect on channel close")
	}
}

func TestStopSuppressesLaterSignals(t *testing.T) {
	t.Parallel()

	events := make(chan domain.TransportEvent, 4)
	var signals atomic.Int32
	m := Watch(events, func() {}, func(error) { signals.Add(1) })

	m.Stop()
	events <- domain.TransportEvent{State: domain.TransportClosed}

	time.Sleep(50 * time.Millisecond)
	if got := signals.Load(); got != 0 {
		t.Fatalf("expected no signals after stop, got %d", got)
	}
}

func TestStopIsIdempotentAndBlocksUntilDone(t *testing.T) {
	t.Parallel()

	events := make(chan domain.TransportEvent)
	m := Watch(events, func() {}, func(error) {})
	m.Stop()
	m.Stop()
}
