package signalr

import (
	"encoding/json"
	"sync"
)

// InvocationCallback is invoked exactly once when the matching Completion
// arrives, or dropped silently if the connection closes first.
type InvocationCallback func(Message)

// StreamObserver is the triple of callbacks registered for a streaming
// invocation. OnNext may fire many times; OnComplete or OnError fire at
// most once, whichever terminates the stream.
type StreamObserver struct {
	OnNext     func(item json.RawMessage)
	OnComplete func(Message)
	OnError    func(Message)
}

// handlerTable maps an event name to an ordered list of callbacks.
// Insertion order is dispatch order, matching spec.md §3 ("first-registered
// fires first") — grounded on the teacher's mutex-guarded map-of-slices
// shape in internal/ws/progress.go's Hub.clients.
type handlerTable struct {
	mu       sync.RWMutex
	handlers map[string][]func([]json.RawMessage) (interface{}, bool)
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[string][]func([]json.RawMessage) (interface{}, bool))}
}

// add appends a handler for event, preserving registration order.
func (t *handlerTable) add(event string, fn func([]json.RawMessage) (interface{}, bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = append(t.handlers[event], fn)
}

// get returns a snapshot of the handlers registered for event, in
// registration order.
func (t *handlerTable) get(event string) []func([]json.RawMessage) (interface{}, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]func([]json.RawMessage) (interface{}, bool), len(t.handlers[event]))
	copy(out, t.handlers[event])
	return out
}

// invocationRegistry correlates server replies and streamed items with
// caller callbacks, keyed by invocation id. Entries are created on
// Send/Stream, removed on the terminal message for that id, and silently
// discarded (not invoked) on disconnect.
type invocationRegistry struct {
	mu      sync.Mutex
	pending map[string]InvocationCallback
	streams map[string]StreamObserver
}

func newInvocationRegistry() *invocationRegistry {
	return &invocationRegistry{
		pending: make(map[string]InvocationCallback),
		streams: make(map[string]StreamObserver),
	}
}

func (r *invocationRegistry) addInvocation(id string, cb InvocationCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = cb
}

func (r *invocationRegistry) addStream(id string, obs StreamObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = obs
}

// popInvocation removes and returns the callback registered for id, and
// whether one was present. A second call for the same id (e.g. a
// duplicate Completion) returns ok=false.
func (r *invocationRegistry) popInvocation(id string) (InvocationCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return cb, ok
}

func (r *invocationRegistry) getStream(id string) (StreamObserver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.streams[id]
	return obs, ok
}

func (r *invocationRegistry) popStream(id string) (StreamObserver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	return obs, ok
}

// clear discards every pending invocation and stream without invoking
// them, per spec.md §3's disconnect lifecycle rule.
func (r *invocationRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]InvocationCallback)
	r.streams = make(map[string]StreamObserver)
}
