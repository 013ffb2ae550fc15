package transport

import "testing"

func TestCanonicalAddress(t *testing.T) {
	got := CanonicalAddress(0xdeadbeef)
	want := "!deadbeef"
	if got != want {
		t.Errorf("CanonicalAddress() = %q, want %q", got, want)
	}
}

func TestDescalePosition(t *testing.T) {
	lat, lon := DescalePosition(404168000, -37038000)
	if lat < 40.416 || lat > 40.417 {
		t.Errorf("unexpected descaled lat: %f", lat)
	}
	if lon > -3.703 || lon < -3.704 {
		t.Errorf("unexpected descaled lon: %f", lon)
	}
}

func TestDryRunAdapterInjectTextDispatchesToSubscriber(t *testing.T) {
	adapter := NewDryRunAdapter()

	var got TextPacket
	received := false
	adapter.Subscribe(func(p TextPacket) {
		got = p
		received = true
	}, nil)

	adapter.InjectText("!aaaaaaaa", "hola")
	if !received {
		t.Fatal("expected the text handler to be invoked")
	}
	if got.From != "!aaaaaaaa" || got.Text != "hola" {
		t.Errorf("unexpected packet: %+v", got)
	}
	if got.DeviceUptime != nil {
		t.Errorf("expected nil DeviceUptime for plain InjectText, got %v", got.DeviceUptime)
	}
}

func TestDryRunAdapterInjectPositionDispatchesToSubscriber(t *testing.T) {
	adapter := NewDryRunAdapter()

	var got PositionPacket
	adapter.Subscribe(nil, func(p PositionPacket) {
		got = p
	})

	adapter.InjectPosition("!bbbbbbbb", 1.5, 2.5)
	if got.From != "!bbbbbbbb" || got.Lat != 1.5 || got.Lon != 2.5 {
		t.Errorf("unexpected packet: %+v", got)
	}
}

func TestDryRunAdapterStopDisablesSends(t *testing.T) {
	adapter := NewDryRunAdapter()
	if err := adapter.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if adapter.IsConnected() {
		t.Error("expected IsConnected to be false after Stop")
	}
	if adapter.SendDM("!cccccccc", "hi") {
		t.Error("expected SendDM to fail while disconnected")
	}
	if adapter.SendBroadcast("hi") {
		t.Error("expected SendBroadcast to fail while disconnected")
	}
}
