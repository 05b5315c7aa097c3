package signalr

import "encoding/json"

// MessageType is the numeric `type` tag on the wire. Client-stream
// variants reuse tags 1 and 2 of the base protocol; they are
// distinguished structurally (InvocationClientStream carries StreamIDs,
// CompletionClientStream carries neither Result nor Error).
type MessageType int

const (
	TypeInvocation              MessageType = 1
	TypeStreamItem              MessageType = 2
	TypeCompletion              MessageType = 3
	TypeStreamInvocation        MessageType = 4
	TypeCancelInvocation        MessageType = 5
	TypePing                    MessageType = 6
	TypeClose                   MessageType = 7
	TypeInvocationBindingFailure MessageType = -1
)

// Message is a tagged sum over every hub message variant. Only the fields
// relevant to Type are populated; callers should use the New* constructors
// rather than building one by hand.
type Message struct {
	Type MessageType

	InvocationID string
	Target       string
	Arguments    []json.RawMessage
	Headers      map[string]string

	Item json.RawMessage

	Result    json.RawMessage
	HasResult bool
	Error     string
	HasError  bool

	StreamIDs []string

	AllowReconnect bool
	HasAllowReconnect bool

	// Diagnostic carries a human-readable description for
	// InvocationBindingFailure. Never sent on the wire.
	Diagnostic string

	// Raw carries the opaque payload for the "thin JSON" JSONMessage
	// escape hatch, bypassing typed parsing entirely.
	Raw json.RawMessage
	IsRaw bool
}

// NewJSONMessage builds the "thin JSON" escape hatch: raw is emitted
// verbatim on the wire, bypassing every typed field and the Completion
// result/error handling of toWire entirely. JSON protocol only.
func NewJSONMessage(raw json.RawMessage) Message {
	return Message{Raw: raw, IsRaw: true}
}

// NewInvocation builds an Invocation message (type 1).
func NewInvocation(invocationID, target string, arguments []json.RawMessage, headers map[string]string) Message {
	return Message{Type: TypeInvocation, InvocationID: invocationID, Target: target, Arguments: arguments, Headers: headers}
}

// NewStreamInvocation builds a StreamInvocation message (type 4).
func NewStreamInvocation(invocationID, target string, arguments []json.RawMessage, headers map[string]string) Message {
	return Message{Type: TypeStreamInvocation, InvocationID: invocationID, Target: target, Arguments: arguments, Headers: headers}
}

// NewInvocationClientStream builds a client->server streaming invocation
// (also wire type 1, distinguished by a non-empty StreamIDs).
func NewInvocationClientStream(streamIDs []string, target string, arguments []json.RawMessage, headers map[string]string) Message {
	return Message{Type: TypeInvocation, StreamIDs: streamIDs, Target: target, Arguments: arguments, Headers: headers}
}

// NewStreamItem builds a StreamItem message (type 2).
func NewStreamItem(invocationID string, item json.RawMessage, headers map[string]string) Message {
	return Message{Type: TypeStreamItem, InvocationID: invocationID, Item: item, Headers: headers}
}

// NewCompletionResult builds a Completion carrying a successful result.
// result may be nil for a void invocation.
func NewCompletionResult(invocationID string, result json.RawMessage, headers map[string]string) Message {
	return Message{Type: TypeCompletion, InvocationID: invocationID, Result: result, HasResult: true, Headers: headers}
}

// NewCompletionError builds a Completion carrying a server-side error.
func NewCompletionError(invocationID, errMsg string, headers map[string]string) Message {
	return Message{Type: TypeCompletion, InvocationID: invocationID, Error: errMsg, HasError: true, Headers: headers}
}

// NewCompletionClientStream builds a client-stream flush Completion
// (client->server, carries neither Result nor Error).
func NewCompletionClientStream(invocationID string, headers map[string]string) Message {
	return Message{Type: TypeCompletion, InvocationID: invocationID, Headers: headers}
}

// NewCancelInvocation builds a CancelInvocation message (type 5).
func NewCancelInvocation(invocationID string, headers map[string]string) Message {
	return Message{Type: TypeCancelInvocation, InvocationID: invocationID, Headers: headers}
}

// NewPing builds a Ping message (type 6).
func NewPing() Message {
	return Message{Type: TypePing}
}

// NewClose builds a Close message (type 7).
func NewClose(errMsg string, allowReconnect bool) Message {
	m := Message{Type: TypeClose}
	if errMsg != "" {
		m.Error = errMsg
		m.HasError = true
	}
	m.AllowReconnect = allowReconnect
	m.HasAllowReconnect = true
	return m
}

// NewInvocationBindingFailure builds a diagnostic-only message never sent
// on the wire.
func NewInvocationBindingFailure(diagnostic string) Message {
	return Message{Type: TypeInvocationBindingFailure, Diagnostic: diagnostic}
}

// IsVoidCompletion reports whether a Completion carries neither a result
// nor an error (the client-stream flush shape, or a void invocation
// completion before a result is attached).
func (m Message) IsVoidCompletion() bool {
	return m.Type == TypeCompletion && !m.HasResult && !m.HasError
}

// wireMessage is the on-wire JSON shape: camelCase keys, `type` first,
// absent optional fields omitted rather than null-valued (except
// Completion's Result/Error, handled explicitly by the JSON protocol).
type wireMessage struct {
	Type           MessageType         `json:"type"`
	InvocationID   string              `json:"invocationId,omitempty"`
	Target         string              `json:"target,omitempty"`
	Arguments      []json.RawMessage   `json:"arguments,omitempty"`
	Headers        map[string]string   `json:"headers,omitempty"`
	Item           json.RawMessage     `json:"item,omitempty"`
	Result         json.RawMessage     `json:"result,omitempty"`
	Error          string              `json:"error,omitempty"`
	StreamIDs      []string            `json:"streamIds,omitempty"`
	AllowReconnect *bool               `json:"allowReconnect,omitempty"`
}

func (m Message) toWire() wireMessage {
	w := wireMessage{
		Type:         m.Type,
		InvocationID: m.InvocationID,
		Target:       m.Target,
		Arguments:    m.Arguments,
		Headers:      m.Headers,
		Item:         m.Item,
		StreamIDs:    m.StreamIDs,
	}
	if m.HasResult {
		w.Result = m.Result
		if w.Result == nil {
			w.Result = json.RawMessage("null")
		}
	}
	if m.HasError {
		w.Error = m.Error
	}
	if m.HasAllowReconnect {
		ar := m.AllowReconnect
		w.AllowReconnect = &ar
	}
	return w
}

func fromWire(w wireMessage) Message {
	m := Message{
		Type:         w.Type,
		InvocationID: w.InvocationID,
		Target:       w.Target,
		Arguments:    w.Arguments,
		Headers:      w.Headers,
		Item:         w.Item,
		StreamIDs:    w.StreamIDs,
	}
	switch w.Type {
	case TypeCompletion:
		if w.Error != "" {
			m.Error = w.Error
			m.HasError = true
		} else if w.Result != nil {
			m.Result = w.Result
			m.HasResult = true
		}
	case TypeClose:
		if w.Error != "" {
			m.Error = w.Error
			m.HasError = true
		}
	}
	if w.AllowReconnect != nil {
		m.AllowReconnect = *w.AllowReconnect
		m.HasAllowReconnect = true
	}
	return m
}

// HandshakeRequest is the client's opening message: `{protocol, version}`.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's reply to HandshakeRequest.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}
