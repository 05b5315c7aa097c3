// Package testhub is a minimal SignalR-protocol server used only by this
// module's own tests. It implements just enough of negotiate, the JSON
// handshake, and a handful of hub methods to exercise the client against a
// real WebSocket round trip. It is not part of the public API.
package testhub

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	recordSeparator = '\x1e'
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
)

const (
	typeInvocation       = 1
	typeStreamItem       = 2
	typeCompletion       = 3
	typeStreamInvocation = 4
	typeCancelInvocation = 5
	typePing             = 6
	typeClose            = 7
)

type wireMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Item         json.RawMessage   `json:"item,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type negotiateResponse struct {
	ConnectionID        string         `json:"connectionId"`
	NegotiateVersion    int            `json:"negotiateVersion"`
	AvailableTransports []transportDef `json:"availableTransports"`
}

type transportDef struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// Hub is a throwaway SignalR server: one /negotiate POST endpoint and one
// WebSocket endpoint. It understands five hub methods for test purposes —
// "Echo" (unary, completes with its single argument), "Fail" (unary,
// completes with an error), "CloseMe" (sends a server-initiated Close with
// an error), "DoubleComplete" (sends two Completions for the same
// invocation id, exercising the duplicate-Completion error path), and
// "Counter" (streaming, emits N StreamItems then completes) — plus
// unauthenticated vs. authenticated mode for exercising the 401 negotiate
// path.
type Hub struct {
	mu           sync.Mutex
	requireToken string
}

// NewHub builds a Hub. If requireToken is non-empty, negotiate requires an
// "Authorization: Bearer <requireToken>" header and returns 401 otherwise.
func NewHub(requireToken string) *Hub {
	return &Hub{requireToken: requireToken}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleNegotiate serves the SignalR negotiate handshake.
func (h *Hub) HandleNegotiate(c echo.Context) error {
	if h.requireToken != "" {
		got := c.Request().Header.Get("Authorization")
		if got != "Bearer "+h.requireToken {
			return c.NoContent(http.StatusUnauthorized)
		}
	}
	return c.JSON(http.StatusOK, negotiateResponse{
		ConnectionID:     uuid.New().String(),
		NegotiateVersion: 1,
		AvailableTransports: []transportDef{
			{Transport: "WebSockets", TransferFormats: []string{"Text"}},
		},
	})
}

// HandleWebSocket upgrades the connection, performs the JSON handshake,
// and serves hub invocations until the client disconnects.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := h.handshake(conn); err != nil {
		log.Warn().Err(err).Msg("testhub: handshake failed")
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		for _, part := range splitFrames(data) {
			if len(part) == 0 {
				continue
			}
			var m wireMessage
			if err := json.Unmarshal(part, &m); err != nil {
				continue
			}
			h.handle(conn, m)
		}
	}
}

func (h *Hub) handshake(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	conn.SetReadDeadline(time.Time{})

	if len(msg) > 0 && msg[len(msg)-1] == byte(recordSeparator) {
		msg = msg[:len(msg)-1]
	}
	var req struct {
		Protocol string `json:"protocol"`
		Version  int    `json:"version"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, append([]byte("{}"), recordSeparator))
}

func (h *Hub) handle(conn *websocket.Conn, m wireMessage) {
	switch m.Type {
	case typePing:
		h.send(conn, wireMessage{Type: typePing})

	case typeInvocation:
		switch m.Target {
		case "Echo":
			var result json.RawMessage
			if len(m.Arguments) > 0 {
				result = m.Arguments[0]
			} else {
				result = json.RawMessage("null")
			}
			h.send(conn, wireMessage{Type: typeCompletion, InvocationID: m.InvocationID, Result: result})
		case "Fail":
			h.send(conn, wireMessage{Type: typeCompletion, InvocationID: m.InvocationID, Error: "boom"})
		case "CloseMe":
			h.send(conn, wireMessage{Type: typeClose, Error: "server requested close"})
		case "DoubleComplete":
			h.send(conn, wireMessage{Type: typeCompletion, InvocationID: m.InvocationID, Result: json.RawMessage("null")})
			h.send(conn, wireMessage{Type: typeCompletion, InvocationID: m.InvocationID, Result: json.RawMessage("null")})
		default:
			// Unknown target: no completion, mirroring a void hub method.
		}

	case typeStreamInvocation:
		if m.Target == "Counter" {
			go h.streamCounter(conn, m.InvocationID)
		}

	case typeCancelInvocation, typeClose:
		// Nothing to clean up in this minimal hub.
	}
}

func (h *Hub) streamCounter(conn *websocket.Conn, invocationID string) {
	for i := 0; i < 3; i++ {
		item, _ := json.Marshal(strconv.Itoa(i))
		h.send(conn, wireMessage{Type: typeStreamItem, InvocationID: invocationID, Item: item})
		time.Sleep(5 * time.Millisecond)
	}
	h.send(conn, wireMessage{Type: typeCompletion, InvocationID: invocationID})
}

func (h *Hub) send(conn *websocket.Conn, m wireMessage) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	data = append(data, recordSeparator)

	h.mu.Lock()
	defer h.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func splitFrames(data []byte) [][]byte {
	var parts [][]byte
	start := 0
	for i, b := range data {
		if b == byte(recordSeparator) {
			parts = append(parts, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		parts = append(parts, data[start:])
	}
	return parts
}

// NewServer wires a Hub onto a fresh echo.Echo and returns it unstarted, so
// tests can httptest.NewServer(srv) and point the client at its URL.
func NewServer(h *Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.POST("/chat/negotiate", h.HandleNegotiate)
	e.GET("/chat", h.HandleWebSocket)
	return e
}
