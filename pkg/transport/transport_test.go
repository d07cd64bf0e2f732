package transport

import "testing"

func TestBuiltins(t *testing.T) {
	tests := []struct {
		tr        Transport
		name      string
		streaming bool
		port      int
		supported bool
		http      bool
	}{
		{TCP, "tcp", true, 8080, true, false},
		{WebSocket, "websocket", true, 8081, true, true},
		{HTTPPolling, "http", false, 8081, true, true},
		{HTTPLongPolling, "http-long", false, 8081, true, true},
		{RUDP, "rudp", true, 9090, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tr.Name(); got != tc.name {
				t.Errorf("Name() = %q, want %q", got, tc.name)
			}
			if got := tc.tr.Streaming(); got != tc.streaming {
				t.Errorf("Streaming() = %v, want %v", got, tc.streaming)
			}
			if got := tc.tr.DefaultPort(); got != tc.port {
				t.Errorf("DefaultPort() = %d, want %d", got, tc.port)
			}
			if got := tc.tr.Supported(); got != tc.supported {
				t.Errorf("Supported() = %v, want %v", got, tc.supported)
			}
			if got := tc.tr.HTTP(); got != tc.http {
				t.Errorf("HTTP() = %v, want %v", got, tc.http)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	if tr, ok := Lookup(" WebSocket "); !ok || tr != WebSocket {
		t.Errorf("Lookup(WebSocket) = %v, %v", tr, ok)
	}
	if _, ok := Lookup("sctp"); ok {
		t.Error("Lookup(sctp) succeeded")
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, tr := range All() {
		text, err := tr.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Transport
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != tr {
			t.Errorf("UnmarshalText(%q) = %v, want %v", text, got, tr)
		}
	}

	var bad Transport
	if err := bad.UnmarshalText([]byte("carrier-pigeon")); err == nil {
		t.Error("UnmarshalText(carrier-pigeon) error = nil")
	}
}

func TestLayerString(t *testing.T) {
	if got := RUDP.Layer().String(); got != "udp" {
		t.Errorf("RUDP.Layer() = %q, want udp", got)
	}
	if got := Layer(7).String(); got != "layer(7)" {
		t.Errorf("Layer(7).String() = %q", got)
	}
}
