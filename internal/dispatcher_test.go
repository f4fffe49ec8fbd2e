package internal

import "testing"

type countingSink struct {
	received [][]byte
	refuse   bool
}

func (s *countingSink) Deliver(payload []byte) bool {
	if s.refuse {
		return false
	}
	s.received = append(s.received, payload)
	return true
}

func TestDispatcherBroadcastRoom(t *testing.T) {
	registry := NewRegistry()
	metrics := NewMetrics()
	dispatcher := NewDispatcher(registry, metrics)

	sinks := map[string]*countingSink{"a": {}, "b": {}, "c": {}, "outside": {}}
	for id, sink := range sinks {
		registry.Register(id)
		dispatcher.Attach(id, sink)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := registry.SetIdentity(id, id, "lobby"); err != nil {
			t.Fatalf("SetIdentity: %v", err)
		}
	}
	sinks["b"].refuse = true

	delivered := dispatcher.BroadcastRoom("lobby", Activity{Type: TypeActivity, Name: "a", Room: "lobby"}, "a")
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(sinks["c"].received) != 1 || len(sinks["a"].received) != 0 || len(sinks["outside"].received) != 0 {
		t.Fatalf("unexpected recipients")
	}
	if got := metrics.Snapshot()["deliveries_dropped"]; got != uint64(1) {
		t.Fatalf("expected 1 dropped delivery, got %v", got)
	}

	if delivered := dispatcher.BroadcastAll(newRoomList(registry.ActiveRooms())); delivered != 3 {
		t.Fatalf("expected 3 deliveries, got %d", delivered)
	}
	if &sinks["a"].received[0][0] != &sinks["outside"].received[0][0] {
		t.Fatalf("broadcast should share one encoded payload")
	}
}

func TestDispatcherDetach(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, nil)
	sink := &countingSink{}
	registry.Register("a")
	dispatcher.Attach("a", sink)
	dispatcher.Detach("a")

	if delivered := dispatcher.SendTo("a", newWelcome("hi")); delivered != 0 {
		t.Fatalf("detached sink should not receive, got %d", delivered)
	}
	if len(dispatcher.Sinks()) != 0 {
		t.Fatalf("expected no sinks")
	}
	if delivered := dispatcher.BroadcastRoom("nobody-here", newWelcome("hi"), ""); delivered != 0 {
		t.Fatalf("empty room should deliver nothing")
	}
}
