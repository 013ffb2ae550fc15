package gatewaybus

import "testing"

func TestConnectWithEmptyURLReturnsNilBus(t *testing.T) {
	bus, err := Connect("")
	if err != nil {
		t.Fatalf("Connect(\"\"): %v", err)
	}
	if bus != nil {
		t.Error("expected a nil Bus for an empty URL")
	}
}

func TestNilBusOperationsAreNoOps(t *testing.T) {
	var bus *Bus

	// None of these should panic on a nil receiver.
	bus.Publish(EventNoteQueued, "!aaaaaaaa", "Q-0001", "")
	bus.Close()
}

func TestConnectRejectsUnreachableURL(t *testing.T) {
	bus, err := Connect("nats://127.0.0.1:1")
	if err == nil {
		t.Error("expected an error connecting to an unreachable NATS URL")
	}
	if bus != nil {
		t.Error("expected a nil Bus on connection failure")
	}
}
