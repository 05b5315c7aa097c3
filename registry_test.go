package signalr

import (
	"encoding/json"
	"testing"
)

func TestHandlerTableDispatchOrder(t *testing.T) {
	table := newHandlerTable()
	var order []int
	table.add("Foo", func([]json.RawMessage) (interface{}, bool) { order = append(order, 1); return nil, false })
	table.add("Foo", func([]json.RawMessage) (interface{}, bool) { order = append(order, 2); return nil, false })
	table.add("Foo", func([]json.RawMessage) (interface{}, bool) { order = append(order, 3); return nil, false })

	for _, h := range table.get("Foo") {
		h(nil)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("handlers fired out of registration order: %v", order)
	}
}

func TestHandlerTableUnknownEventReturnsEmpty(t *testing.T) {
	table := newHandlerTable()
	if got := table.get("Nope"); len(got) != 0 {
		t.Errorf("expected no handlers, got %d", len(got))
	}
}

func TestInvocationRegistryPopIsOneShot(t *testing.T) {
	r := newInvocationRegistry()
	fired := 0
	r.addInvocation("1", func(Message) { fired++ })

	cb, ok := r.popInvocation("1")
	if !ok {
		t.Fatal("expected the invocation to be present")
	}
	cb(Message{})

	// Duplicate Completion for the same id: spec.md's invariant is that the
	// second resolution is rejected, not silently re-delivered.
	_, ok = r.popInvocation("1")
	if ok {
		t.Error("a second pop for the same invocation id must report not-found")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestInvocationRegistryClearDiscardsSilently(t *testing.T) {
	r := newInvocationRegistry()
	fired := false
	r.addInvocation("1", func(Message) { fired = true })
	r.addStream("2", StreamObserver{OnNext: func(json.RawMessage) { fired = true }})

	r.clear()

	if _, ok := r.popInvocation("1"); ok {
		t.Error("expected invocation to be gone after clear")
	}
	if _, ok := r.getStream("2"); ok {
		t.Error("expected stream to be gone after clear")
	}
	if fired {
		t.Error("clear must not invoke any callback")
	}
}

func TestStreamObserverOnNextFiresRepeatedly(t *testing.T) {
	r := newInvocationRegistry()
	var items []string
	r.addStream("s1", StreamObserver{
		OnNext: func(item json.RawMessage) { items = append(items, string(item)) },
	})

	obs, ok := r.getStream("s1")
	if !ok {
		t.Fatal("expected stream to be registered")
	}
	obs.OnNext(json.RawMessage(`"a"`))
	obs.OnNext(json.RawMessage(`"b"`))

	if len(items) != 2 {
		t.Errorf("expected OnNext to fire twice, got %d", len(items))
	}
}
