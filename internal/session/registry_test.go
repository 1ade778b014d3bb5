package session

import (
	"net"
	"testing"
	"time"

	"github.com/netflowlabs/ipfixcollector/internal/bus"
)

func TestRegistryOpenIsIdempotentPerPeer(t *testing.T) {
	events := make(chan bus.Message, 8)
	r := NewRegistry(events, time.Minute)

	a := NewUDP(net.ParseIP("10.0.0.1"), 50000, net.ParseIP("10.0.0.2"), 4739, 5*time.Minute, 5*time.Minute)
	first := r.Open(a)

	b := NewUDP(net.ParseIP("10.0.0.1"), 50000, net.ParseIP("10.0.0.2"), 4739, 5*time.Minute, 5*time.Minute)
	second := r.Open(b)

	if first.ID != second.ID {
		t.Fatalf("expected repeated Open for the same peer to return the same session, got %s and %s", first.ID, second.ID)
	}

	select {
	case m := <-events:
		if m.Kind != bus.KindSessionEvent || m.SessionEvent.Kind != bus.SessionOpen {
			t.Fatalf("expected a single SessionOpen event, got %+v", m)
		}
	default:
		t.Fatal("expected a SessionOpen event to be emitted")
	}

	select {
	case m := <-events:
		t.Fatalf("expected no second SessionOpen event, got %+v", m)
	default:
	}
}

func TestRegistryCloseEmitsSessionClose(t *testing.T) {
	events := make(chan bus.Message, 8)
	r := NewRegistry(events, time.Minute)

	s := NewTCP(net.ParseIP("192.0.2.1"), 12345, net.ParseIP("192.0.2.2"), 4739)
	r.Open(s)
	<-events // drain the open event

	r.Close(s.ID, "peer reset")

	if _, ok := r.Get(s.ID); ok {
		t.Fatal("expected session to be removed from the registry after Close")
	}

	m := <-events
	if m.Kind != bus.KindSessionEvent || m.SessionEvent.Kind != bus.SessionClose {
		t.Fatalf("expected a SessionClose event, got %+v", m)
	}
	if m.SessionEvent.Reason != "peer reset" {
		t.Fatalf("expected close reason to be propagated, got %q", m.SessionEvent.Reason)
	}
}

func TestRegistrySweepAgesOutIdleUDPOnly(t *testing.T) {
	events := make(chan bus.Message, 8)
	r := NewRegistry(events, time.Millisecond)

	udp := NewUDP(net.ParseIP("10.0.0.1"), 1, net.ParseIP("10.0.0.2"), 2, time.Minute, time.Minute)
	tcp := NewTCP(net.ParseIP("10.0.0.3"), 1, net.ParseIP("10.0.0.4"), 2)
	r.Open(udp)
	r.Open(tcp)
	<-events
	<-events

	time.Sleep(5 * time.Millisecond)
	r.sweep(time.Now())

	if _, ok := r.Get(udp.ID); ok {
		t.Fatal("expected idle UDP session to be aged out")
	}
	if _, ok := r.Get(tcp.ID); !ok {
		t.Fatal("expected TCP session to survive the idle sweep")
	}
}
