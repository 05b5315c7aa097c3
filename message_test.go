package signalr

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestToWireOmitsAbsentResultAndError(t *testing.T) {
	m := NewCompletionClientStream("42", nil)
	w := m.toWire()
	b, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, `"result"`) || strings.Contains(s, `"error"`) {
		t.Errorf("void completion must omit result/error entirely, got %s", s)
	}
}

func TestToWireNullResultIsExplicit(t *testing.T) {
	m := NewCompletionResult("1", nil, nil)
	w := m.toWire()
	b, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"result":null`) {
		t.Errorf("a present-but-nil result must serialize as null, got %s", string(b))
	}
}

func TestCompletionResultAndErrorAreExclusive(t *testing.T) {
	m := NewCompletionError("1", "boom", nil)
	w := m.toWire()
	if w.Result != nil {
		t.Errorf("completion with error must not carry a result")
	}
}

func TestIsVoidCompletion(t *testing.T) {
	if !NewCompletionClientStream("1", nil).IsVoidCompletion() {
		t.Error("client-stream flush should be void")
	}
	if NewCompletionResult("1", json.RawMessage("1"), nil).IsVoidCompletion() {
		t.Error("completion with a result should not be void")
	}
}

func TestFromWireRoundTripsInvocation(t *testing.T) {
	orig := NewInvocation("abc", "Send", []json.RawMessage{json.RawMessage(`"hi"`)}, map[string]string{"x": "y"})
	b, err := json.Marshal(orig.toWire())
	if err != nil {
		t.Fatal(err)
	}
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatal(err)
	}
	got := fromWire(w)
	if got.InvocationID != orig.InvocationID || got.Target != orig.Target {
		t.Errorf("round trip mismatch: %+v vs %+v", got, orig)
	}
}
