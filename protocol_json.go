package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator (0x1E, ASCII RS) terminates every JSON-protocol frame.
// Grounded on the teacher's internal/ws/progress.go, which uses the same
// byte for the server side of this framing.
const recordSeparator = 0x1e

// JSONProtocol implements Protocol over line-delimited JSON, each frame
// terminated (not separated) by recordSeparator.
type JSONProtocol struct{}

// NewJSONProtocol returns the default protocol used when none is
// configured.
func NewJSONProtocol() *JSONProtocol { return &JSONProtocol{} }

func (*JSONProtocol) Name() string                      { return "json" }
func (*JSONProtocol) Version() int                       { return 1 }
func (*JSONProtocol) TransferFormat() TransferFormat     { return TransferFormatText }

func (p *JSONProtocol) WriteHandshakeRequest() ([]byte, error) {
	b, err := json.Marshal(handshakeRequest(p.Name()))
	if err != nil {
		return nil, fmt.Errorf("signalr: marshal handshake request: %w", err)
	}
	return append(b, recordSeparator), nil
}

func (p *JSONProtocol) ParseHandshakeResponse(data []byte) (*HandshakeResponse, []Message, error) {
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

func (p *JSONProtocol) WriteMessage(msg Message) ([]byte, error) {
	if msg.IsRaw {
		return append(append([]byte(nil), msg.Raw...), recordSeparator), nil
	}
	b, err := json.Marshal(msg.toWire())
	if err != nil {
		return nil, fmt.Errorf("signalr: marshal message: %w", err)
	}
	return append(b, recordSeparator), nil
}

func (p *JSONProtocol) ParseMessages(data []byte) ([]Message, error) {
	parts := bytes.Split(data, []byte{recordSeparator})

	var messages []Message
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		msg, err := decodeJSONMessage(part)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func decodeJSONMessage(data []byte) (Message, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("signalr: decode message type: %w", err)
	}

	switch probe.Type {
	case TypeInvocation, TypeStreamItem, TypeCompletion, TypeStreamInvocation,
		TypeCancelInvocation, TypePing, TypeClose:
		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, fmt.Errorf("signalr: decode message body: %w", err)
		}
		return fromWire(w), nil
	default:
		return Message{}, fmt.Errorf("signalr: unknown message type %d", probe.Type)
	}
}
