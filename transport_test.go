package signalr

import (
	"math"
	"testing"
	"time"
)

func TestStateTransitionsLegal(t *testing.T) {
	tr := newTransport("http://example.com", defaultOptions(), func(Message) error { return nil }, nil, nil)

	tr.setState(StateConnecting)
	if tr.State() != StateConnecting {
		t.Fatalf("expected Connecting, got %s", tr.State())
	}
	tr.setState(StateConnected)
	if tr.State() != StateConnected {
		t.Fatalf("expected Connected, got %s", tr.State())
	}
	tr.setState(StateReconnecting)
	tr.setState(StateConnecting)
	tr.setState(StateDisconnected)
	if tr.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %s", tr.State())
	}
}

func TestIllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an illegal transition")
		}
	}()
	tr := newTransport("http://example.com", defaultOptions(), func(Message) error { return nil }, nil, nil)
	// Disconnected -> Connected is not a legal direct edge.
	tr.setState(StateConnected)
}

func TestOpenCloseCallbacksFireOnConnectedEdges(t *testing.T) {
	opened, closed := 0, 0
	tr := newTransport("http://example.com", defaultOptions(), func(Message) error { return nil },
		func() { opened++ }, func() { closed++ })

	tr.setState(StateConnecting)
	tr.setState(StateConnected)
	if opened != 1 {
		t.Errorf("expected onOpen once, got %d", opened)
	}
	tr.setState(StateReconnecting)
	if closed != 1 {
		t.Errorf("expected onClose once, got %d", closed)
	}
	tr.setState(StateConnecting)
	tr.setState(StateConnected)
	if opened != 2 {
		t.Errorf("expected onOpen twice total, got %d", opened)
	}
}

// TestSocketOpenBackoff_S7 matches spec.md scenario S7's literal expected
// delays: the second attempt (k=2) backs off roughly 3.1s, the third (k=3)
// roughly 5.0s, both well under the 60s cap.
func TestSocketOpenBackoff_S7(t *testing.T) {
	d2 := socketOpenBackoff(2)
	want2 := 1.92 * math.Pow(1.618, 1)
	if math.Abs(d2.Seconds()-want2) > 0.001 {
		t.Errorf("k=2 backoff = %v, want ~%.3fs", d2, want2)
	}

	d3 := socketOpenBackoff(3)
	want3 := 1.92 * math.Pow(1.618, 2)
	if math.Abs(d3.Seconds()-want3) > 0.001 {
		t.Errorf("k=3 backoff = %v, want ~%.3fs", d3, want3)
	}
}

func TestSocketOpenBackoffFirstAttemptIsJittered(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := socketOpenBackoff(1)
		if d < 0 || d >= 5*time.Second {
			t.Fatalf("k=1 backoff %v out of [0,5)s range", d)
		}
	}
}

func TestSocketOpenBackoffCapsAtSixtySeconds(t *testing.T) {
	d := socketOpenBackoff(20)
	if d > 60*time.Second {
		t.Errorf("backoff %v exceeds the 60s cap", d)
	}
}
