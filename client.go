package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Client is a SignalR hub connection. Zero value is not usable; construct
// with New. A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	url  string
	opts *options

	invocations *invocationRegistry
	handlers    *handlerTable

	transport *transport

	mu        sync.Mutex
	onOpenCB  func()
	onCloseCB func()
	onErrCB   func(Message)
}

// New constructs a Client targeting url (an http(s) or ws(s) endpoint; the
// scheme is normalized as needed for negotiate and for the WebSocket
// upgrade). The connection is not opened until Run is called.
func New(url string, opts ...Option) *Client {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}

	c := &Client{
		url:         url,
		opts:        o,
		invocations: newInvocationRegistry(),
		handlers:    newHandlerTable(),
	}
	c.transport = newTransport(url, o, c.dispatch, c.handleOpen, c.handleClose)
	return c
}

// On registers fn to be invoked for every Invocation targeting event, in
// registration order. If WithClientResults is enabled and fn returns
// (result, true), result is sent back to the server as a Completion.
func (c *Client) On(event string, fn func(arguments []json.RawMessage) (result interface{}, ok bool)) {
	c.handlers.add(event, fn)
}

// OnOpen registers a callback fired every time the connection transitions
// into Connected (initial connect and every reconnect).
func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpenCB = fn
	c.mu.Unlock()
}

// OnClose registers a callback fired every time the connection leaves
// Connected.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	c.onCloseCB = fn
	c.mu.Unlock()
}

// OnError registers the sink for every Completion that arrives with an
// error; it is called before the matching per-call callback. At most one
// sink may be registered. Without a sink, an error Completion is a fatal
// ServerError that ends Run.
func (c *Client) OnError(fn func(Message)) {
	c.mu.Lock()
	c.onErrCB = fn
	c.mu.Unlock()
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	cb := c.onOpenCB
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleClose() {
	c.invocations.clear()
	c.mu.Lock()
	cb := c.onCloseCB
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Run drives the connection until ctx is cancelled or a fatal error occurs
// (authorization failure, an unexpected negotiate status, exhausted
// negotiate retry budget, a fatal handshake rejection, or a fatal
// ServerError raised while dispatching a message). It blocks for the lifetime of the connection,
// transparently reconnecting on transient failures.
func (c *Client) Run(ctx context.Context) error {
	return c.transport.run(ctx)
}

// Send invokes target on the server. It always mints a fresh invocation id;
// onInvocation may be nil for a fire-and-forget call, or supplied to
// receive the matching Completion exactly once. onInvocation is never
// called if the connection closes first.
func (c *Client) Send(ctx context.Context, target string, arguments []interface{}, onInvocation InvocationCallback) error {
	args, err := marshalArguments(arguments)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	c.invocations.addInvocation(id, onInvocation)
	if err := c.transport.send(ctx, NewInvocation(id, target, args, nil)); err != nil {
		c.invocations.popInvocation(id)
		return err
	}
	return nil
}

// SendRaw transmits raw verbatim as a single frame, bypassing the typed
// message algebra entirely (the "thin JSON" escape hatch). It only works
// with the JSON protocol; configuring WithProtocol(NewMessagePackProtocol())
// makes it fail at write time.
func (c *Client) SendRaw(ctx context.Context, raw json.RawMessage) error {
	return c.transport.send(ctx, NewJSONMessage(raw))
}

// Stream opens a server-to-client stream on target, delivering items and
// the terminal event to observer.
func (c *Client) Stream(ctx context.Context, target string, arguments []interface{}, observer StreamObserver) error {
	args, err := marshalArguments(arguments)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	c.invocations.addStream(id, observer)
	if err := c.transport.send(ctx, NewStreamInvocation(id, target, args, nil)); err != nil {
		c.invocations.popStream(id)
		return err
	}
	return nil
}

// CancelStream sends CancelInvocation for a stream previously opened with
// Stream, and stops routing further items to its observer.
func (c *Client) CancelStream(ctx context.Context, invocationID string) error {
	c.invocations.popStream(invocationID)
	return c.transport.send(ctx, NewCancelInvocation(invocationID, nil))
}

// ClientStream begins a client-to-server streaming invocation of target and
// returns a handle for pushing items. The caller must call Complete to
// terminate the stream.
func (c *Client) ClientStream(ctx context.Context, target string, arguments []interface{}) (*ClientStreamHandle, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	streamID := uuid.NewString()
	h := &ClientStreamHandle{client: c, streamID: streamID}
	if err := c.transport.send(ctx, NewInvocationClientStream([]string{streamID}, target, args, nil)); err != nil {
		return nil, err
	}
	return h, nil
}

// ClientStreamHandle pushes items for one client-to-server stream.
type ClientStreamHandle struct {
	client   *Client
	streamID string

	mu   sync.Mutex
	done bool
}

// Send pushes one item onto the stream.
func (h *ClientStreamHandle) Send(ctx context.Context, item interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return &errProgrammer{msg: "client stream already completed"}
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("signalr: marshal stream item: %w", err)
	}
	return h.client.transport.send(ctx, NewStreamItem(h.streamID, raw, nil))
}

// Complete flushes the stream with a successful completion. Safe to call
// at most once; calling it on an already-completed handle is a no-op.
func (h *ClientStreamHandle) Complete(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	h.done = true
	return h.client.transport.send(ctx, NewCompletionClientStream(h.streamID, nil))
}

func marshalArguments(arguments []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(arguments))
	for i, a := range arguments {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("signalr: marshal argument %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// dispatch implements the per-variant message routing of spec.md §4.5. It
// is the messageHandler passed to the transport.
func (c *Client) dispatch(msg Message) error {
	switch msg.Type {
	case TypePing:
		return nil

	case TypeInvocation:
		c.invokeHandlers(msg)
		return nil

	case TypeStreamItem:
		if obs, ok := c.invocations.getStream(msg.InvocationID); ok && obs.OnNext != nil {
			obs.OnNext(msg.Item)
		}
		return nil

	case TypeCompletion:
		if msg.HasError {
			c.mu.Lock()
			sink := c.onErrCB
			c.mu.Unlock()
			if sink == nil {
				return &ServerError{Message: fmt.Sprintf("completion error with no error sink registered: %s", msg.Error), Fatal: true}
			}
			sink(msg)
		}
		if cb, ok := c.invocations.popInvocation(msg.InvocationID); ok {
			if cb != nil {
				cb(msg)
			}
			return nil
		}
		if obs, ok := c.invocations.popStream(msg.InvocationID); ok {
			if msg.HasError && obs.OnError != nil {
				obs.OnError(msg)
			} else if obs.OnComplete != nil {
				obs.OnComplete(msg)
			}
			return nil
		}
		return fmt.Errorf("signalr: completion for %q: %w", msg.InvocationID, ErrDuplicateCompletion)

	case TypeCancelInvocation:
		if obs, ok := c.invocations.popStream(msg.InvocationID); ok && obs.OnError != nil {
			obs.OnError(msg)
		}
		return nil

	case TypeStreamInvocation:
		// Client-to-server streaming only; the client never receives one.
		return nil

	case TypeClose:
		if msg.HasError && msg.Error != "" {
			return &ServerError{Message: msg.Error}
		}
		return fmt.Errorf("signalr: server closed the connection")

	case TypeInvocationBindingFailure:
		return &ServerError{Message: msg.Diagnostic}

	default:
		return &ServerError{Message: fmt.Sprintf("unknown message type %d", msg.Type), Fatal: true}
	}
}

func (c *Client) invokeHandlers(msg Message) {
	handlers := c.handlers.get(msg.Target)
	for _, h := range handlers {
		result, ok := h(msg.Arguments)
		if c.opts.clientResults && msg.InvocationID != "" && ok {
			raw, err := json.Marshal(result)
			if err != nil {
				continue
			}
			_ = c.transport.send(context.Background(), NewCompletionResult(msg.InvocationID, raw, nil))
		}
	}
}
