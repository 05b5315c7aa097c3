package signalr

import "testing"

func TestReplaceScheme(t *testing.T) {
	cases := []struct {
		in   string
		ws   bool
		want string
	}{
		{"http://example.com/chat", true, "ws://example.com/chat"},
		{"https://example.com/chat", true, "wss://example.com/chat"},
		{"ws://example.com/chat", false, "http://example.com/chat"},
		{"wss://example.com/chat", false, "https://example.com/chat"},
		{"ws://example.com/chat", true, "ws://example.com/chat"},
	}
	for _, c := range cases {
		got, err := ReplaceScheme(c.in, c.ws)
		if err != nil {
			t.Fatalf("ReplaceScheme(%q, %v): %v", c.in, c.ws, err)
		}
		if got != c.want {
			t.Errorf("ReplaceScheme(%q, %v) = %q, want %q", c.in, c.ws, got, c.want)
		}
	}
}

func TestNegotiateURL(t *testing.T) {
	got, err := NegotiateURL("ws://example.com/chat/")
	if err != nil {
		t.Fatal(err)
	}
	want := "http://example.com/chat/negotiate"
	if got != want {
		t.Errorf("NegotiateURL = %q, want %q", got, want)
	}
}

// TestConnectionURL_S5 is spec.md scenario S5: the "id" query parameter is
// overwritten, not appended, and url.Values.Encode()'s alphabetical key
// ordering happens to place "foo" before "id".
func TestConnectionURL_S5(t *testing.T) {
	got, err := ConnectionURL("http://example.com/chat?foo=bar&id=stale", []string{"abc123"})
	if err != nil {
		t.Fatal(err)
	}
	want := "ws://example.com/chat?foo=bar&id=abc123"
	if got != want {
		t.Errorf("ConnectionURL = %q, want %q", got, want)
	}
}

func TestConnectionURL_MultiValue(t *testing.T) {
	got, err := ConnectionURL("http://example.com/chat", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	want := "ws://example.com/chat?id=a&id=b"
	if got != want {
		t.Errorf("ConnectionURL = %q, want %q", got, want)
	}
}
