package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackProtocol implements Protocol over MessagePack-packed arrays,
// each prefixed with an unsigned LEB128 varint byte length. The positional
// array layout per message type follows spec.md §4.3.2; encoding iterates
// a fixed attribute order emitting only the fields present on the variant.
//
// Grounded on other_examples' ArchangelSDY websocket-bench
// benchmark/signalr_common.go ParseBinaryMessage, which decodes the same
// varint length prefix by hand; this client uses the same LEB128 algorithm
// but a dedicated varint helper (varint.go) instead of inlining it.
type MessagePackProtocol struct{}

// NewMessagePackProtocol constructs the binary protocol variant.
func NewMessagePackProtocol() *MessagePackProtocol { return &MessagePackProtocol{} }

func (*MessagePackProtocol) Name() string                  { return "messagepack" }
func (*MessagePackProtocol) Version() int                   { return 1 }
func (*MessagePackProtocol) TransferFormat() TransferFormat { return TransferFormatBinary }

func (p *MessagePackProtocol) WriteHandshakeRequest() ([]byte, error) {
	// The handshake request itself is always JSON, even for the
	// MessagePack protocol variant: the server has not yet agreed on a
	// binary format when it is sent.
	b, err := json.Marshal(handshakeRequest(p.Name()))
	if err != nil {
		return nil, fmt.Errorf("signalr: marshal handshake request: %w", err)
	}
	return append(b, recordSeparator), nil
}

func (p *MessagePackProtocol) ParseHandshakeResponse(data []byte) (*HandshakeResponse, []Message, error) {
	idx := bytes.IndexByte(data, recordSeparator)
	if idx < 0 {
		return nil, nil, fmt.Errorf("signalr: handshake frame missing record separator")
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(data[:idx], &resp); err != nil {
		return nil, nil, fmt.Errorf("signalr: decode handshake response: %w", err)
	}

	var pipelined []Message
	if rest := data[idx+1:]; len(rest) > 0 {
		msgs, err := p.ParseMessages(rest)
		if err != nil {
			return nil, nil, err
		}
		pipelined = msgs
	}
	return &resp, pipelined, nil
}

const (
	resultKindError   = 1
	resultKindVoid    = 2
	resultKindNonVoid = 3
)

func (p *MessagePackProtocol) WriteMessage(msg Message) ([]byte, error) {
	if msg.IsRaw {
		return nil, fmt.Errorf("signalr: JSONMessage escape hatch is JSON-protocol only")
	}

	var arr []interface{}

	switch msg.Type {
	case TypeInvocation:
		args, err := rawToInterfaces(msg.Arguments)
		if err != nil {
			return nil, err
		}
		arr = []interface{}{int(TypeInvocation), headersOrEmpty(msg.Headers), msg.InvocationID, msg.Target, args, msg.StreamIDs}

	case TypeStreamInvocation:
		args, err := rawToInterfaces(msg.Arguments)
		if err != nil {
			return nil, err
		}
		arr = []interface{}{int(TypeStreamInvocation), headersOrEmpty(msg.Headers), msg.InvocationID, msg.Target, args, msg.StreamIDs}

	case TypeStreamItem:
		item, err := rawToInterface(msg.Item)
		if err != nil {
			return nil, err
		}
		arr = []interface{}{int(TypeStreamItem), headersOrEmpty(msg.Headers), msg.InvocationID, item}

	case TypeCompletion:
		kind := resultKindVoid
		var payload interface{}
		if msg.HasError {
			kind = resultKindError
			payload = msg.Error
		} else if msg.HasResult {
			kind = resultKindNonVoid
			v, err := rawToInterface(msg.Result)
			if err != nil {
				return nil, err
			}
			payload = v
		}
		if kind == resultKindVoid {
			arr = []interface{}{int(TypeCompletion), headersOrEmpty(msg.Headers), msg.InvocationID, kind}
		} else {
			arr = []interface{}{int(TypeCompletion), headersOrEmpty(msg.Headers), msg.InvocationID, kind, payload}
		}

	case TypeCancelInvocation:
		arr = []interface{}{int(TypeCancelInvocation), headersOrEmpty(msg.Headers), msg.InvocationID}

	case TypePing:
		arr = []interface{}{int(TypePing)}

	case TypeClose:
		if msg.HasError {
			arr = []interface{}{int(TypeClose), msg.Error, msg.AllowReconnect}
		} else {
			arr = []interface{}{int(TypeClose), nil}
		}

	default:
		return nil, fmt.Errorf("signalr: messagepack: cannot encode message type %d", msg.Type)
	}

	body, err := msgpack.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("signalr: messagepack marshal: %w", err)
	}

	framed := make([]byte, 0, len(body)+5)
	framed = appendVarint(framed, uint64(len(body)))
	framed = append(framed, body...)
	return framed, nil
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func (p *MessagePackProtocol) ParseMessages(data []byte) ([]Message, error) {
	var messages []Message
	for len(data) > 0 {
		n, consumed, err := readVarint(data)
		if err != nil {
			return nil, fmt.Errorf("signalr: messagepack: read length prefix: %w", err)
		}
		data = data[consumed:]
		if uint64(len(data)) < n {
			return nil, fmt.Errorf("signalr: messagepack: frame truncated: want %d bytes, have %d", n, len(data))
		}
		frame := data[:n]
		data = data[n:]

		msg, err := decodeMsgpackFrame(frame)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func decodeMsgpackFrame(frame []byte) (Message, error) {
	var raw []msgpack.RawMessage
	if err := msgpack.Unmarshal(frame, &raw); err != nil {
		return Message{}, fmt.Errorf("signalr: messagepack unmarshal: %w", err)
	}
	if len(raw) == 0 {
		return Message{}, fmt.Errorf("signalr: messagepack: empty array")
	}

	var typ int
	if err := msgpack.Unmarshal(raw[0], &typ); err != nil {
		return Message{}, fmt.Errorf("signalr: messagepack: decode type: %w", err)
	}

	switch MessageType(typ) {
	case TypeInvocation, TypeStreamInvocation:
		if len(raw) < 5 {
			return Message{}, fmt.Errorf("signalr: messagepack: invocation array too short")
		}
		headers, err := decodeHeaders(raw[1])
		if err != nil {
			return Message{}, err
		}
		var invocationID, target string
		_ = msgpack.Unmarshal(raw[2], &invocationID)
		if err := msgpack.Unmarshal(raw[3], &target); err != nil {
			return Message{}, fmt.Errorf("signalr: messagepack: decode target: %w", err)
		}
		args, err := decodeArguments(raw[4])
		if err != nil {
			return Message{}, err
		}
		var streamIDs []string
		if len(raw) > 5 {
			_ = msgpack.Unmarshal(raw[5], &streamIDs)
		}
		m := Message{Type: MessageType(typ), InvocationID: invocationID, Target: target, Arguments: args, Headers: headers, StreamIDs: streamIDs}
		return m, nil

	case TypeStreamItem:
		if len(raw) < 4 {
			return Message{}, fmt.Errorf("signalr: messagepack: streamitem array too short")
		}
		headers, err := decodeHeaders(raw[1])
		if err != nil {
			return Message{}, err
		}
		var invocationID string
		if err := msgpack.Unmarshal(raw[2], &invocationID); err != nil {
			return Message{}, fmt.Errorf("signalr: messagepack: decode invocationId: %w", err)
		}
		item, err := rawJSONFromMsgpack(raw[3])
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeStreamItem, InvocationID: invocationID, Item: item, Headers: headers}, nil

	case TypeCompletion:
		if len(raw) < 4 {
			return Message{}, fmt.Errorf("signalr: messagepack: completion array too short")
		}
		headers, err := decodeHeaders(raw[1])
		if err != nil {
			return Message{}, err
		}
		var invocationID string
		if err := msgpack.Unmarshal(raw[2], &invocationID); err != nil {
			return Message{}, fmt.Errorf("signalr: messagepack: decode invocationId: %w", err)
		}
		var kind int
		if err := msgpack.Unmarshal(raw[3], &kind); err != nil {
			return Message{}, fmt.Errorf("signalr: messagepack: decode resultKind: %w", err)
		}
		m := Message{Type: TypeCompletion, InvocationID: invocationID, Headers: headers}
		switch kind {
		case resultKindError:
			var errMsg string
			if len(raw) > 4 {
				_ = msgpack.Unmarshal(raw[4], &errMsg)
			}
			m.Error = errMsg
			m.HasError = true
		case resultKindVoid:
			// neither Result nor Error
		case resultKindNonVoid:
			if len(raw) < 5 {
				return Message{}, fmt.Errorf("signalr: messagepack: non-void completion missing payload")
			}
			result, err := rawJSONFromMsgpack(raw[4])
			if err != nil {
				return Message{}, err
			}
			m.Result = result
			m.HasResult = true
		default:
			return Message{}, fmt.Errorf("signalr: messagepack: unknown result kind %d", kind)
		}
		return m, nil

	case TypeCancelInvocation:
		if len(raw) < 3 {
			return Message{}, fmt.Errorf("signalr: messagepack: cancel array too short")
		}
		headers, err := decodeHeaders(raw[1])
		if err != nil {
			return Message{}, err
		}
		var invocationID string
		if err := msgpack.Unmarshal(raw[2], &invocationID); err != nil {
			return Message{}, fmt.Errorf("signalr: messagepack: decode invocationId: %w", err)
		}
		return Message{Type: TypeCancelInvocation, InvocationID: invocationID, Headers: headers}, nil

	case TypePing:
		return Message{Type: TypePing}, nil

	case TypeClose:
		m := Message{Type: TypeClose}
		if len(raw) > 1 {
			var errMsg *string
			if err := msgpack.Unmarshal(raw[1], &errMsg); err == nil && errMsg != nil {
				m.Error = *errMsg
				m.HasError = true
			}
		}
		if len(raw) > 2 {
			var allow bool
			if err := msgpack.Unmarshal(raw[2], &allow); err == nil {
				m.AllowReconnect = allow
				m.HasAllowReconnect = true
			}
		}
		return m, nil

	default:
		return Message{}, fmt.Errorf("signalr: messagepack: unknown message type %d", typ)
	}
}

func decodeHeaders(raw msgpack.RawMessage) (map[string]string, error) {
	var headers map[string]string
	if err := msgpack.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("signalr: messagepack: decode headers: %w", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}
	return headers, nil
}

func decodeArguments(raw msgpack.RawMessage) ([]json.RawMessage, error) {
	var items []msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("signalr: messagepack: decode arguments: %w", err)
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		j, err := rawJSONFromMsgpack(it)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// rawJSONFromMsgpack round-trips a single MessagePack-encoded value
// through a generic interface{} and back out as JSON, so Message's
// Arguments/Item/Result fields stay codec-agnostic json.RawMessage.
func rawJSONFromMsgpack(raw msgpack.RawMessage) (json.RawMessage, error) {
	var v interface{}
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("signalr: messagepack: decode value: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signalr: messagepack: re-encode value as json: %w", err)
	}
	return b, nil
}

func rawToInterface(raw json.RawMessage) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("signalr: decode json value for messagepack: %w", err)
	}
	return v, nil
}

func rawToInterfaces(raws []json.RawMessage) ([]interface{}, error) {
	out := make([]interface{}, 0, len(raws))
	for _, r := range raws {
		v, err := rawToInterface(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
