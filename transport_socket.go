package signalr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// dialAndHandshake opens the WebSocket, exchanges the protocol handshake,
// and dispatches any messages pipelined in the same frame as the handshake
// response. A handshake-level rejection (HandshakeResponse.Error non-empty)
// is fatal, as is a fatal *ServerError returned while dispatching the
// pipelined messages; every other failure on this path is a retryable
// socket-open failure.
func (t *transport) dialAndHandshake(ctx context.Context, wsURL string, headers http.Header) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("signalr: websocket dial failed (status %d): %w", status, err)
	}
	conn.SetReadLimit(t.opts.maxSize)
	pongWait := t.opts.pingInterval * 3
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	reqBytes, err := t.opts.protocol.WriteHandshakeRequest()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signalr: encode handshake request: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.connectionTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signalr: write handshake request: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(t.opts.connectionTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signalr: read handshake response: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	handshakeResp, pipelined, err := t.opts.protocol.ParseHandshakeResponse(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signalr: parse handshake response: %w", err)
	}
	if handshakeResp.Error != "" {
		_ = conn.Close()
		return nil, &ServerError{Message: handshakeResp.Error, Fatal: true}
	}

	for _, msg := range pipelined {
		if err := t.onMessage(msg); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

// serve runs the receive loop, the keepalive ticker and the WebSocket ping
// loop for one connection, returning when any of them exits (peer close,
// write failure, or ctx cancellation). The three goroutines share nothing
// but the socket and the write mutex, matching spec.md §9's send/receive
// concurrency contract.
func (t *transport) serve(ctx context.Context, conn *websocket.Conn) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		errCh <- t.receiveLoop(conn)
	}()
	go func() {
		errCh <- t.keepaliveLoop(serveCtx, conn)
	}()
	go func() {
		errCh <- t.wsPingLoop(serveCtx, conn)
	}()

	err := <-errCh
	cancel()
	_ = conn.Close()
	<-errCh
	<-errCh
	return err
}

// receiveLoop reads frames off the socket, decodes them, and forwards each
// decoded Message to onMessage in wire order.
func (t *transport) receiveLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("signalr: read: %w", err)
		}

		msgs, err := t.opts.protocol.ParseMessages(data)
		if err != nil {
			return fmt.Errorf("signalr: decode frame: %w", err)
		}
		for _, msg := range msgs {
			if err := t.onMessage(msg); err != nil {
				return err
			}
		}
	}
}

// keepaliveLoop sends a protocol Ping on a fixed cadence until ctx is
// cancelled or a write fails.
func (t *transport) keepaliveLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.writeMessage(conn, NewPing()); err != nil {
				return fmt.Errorf("signalr: keepalive: %w", err)
			}
		}
	}
}

// wsPingLoop sends native WebSocket ping control frames on pingInterval,
// independent of the protocol-level Ping sent by keepaliveLoop. Grounded on
// the teacher's writePump ticker-driven PingMessage writes; the matching
// SetPongHandler/read-deadline reset lives in dialAndHandshake.
func (t *transport) wsPingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.opts.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(t.opts.connectionTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("signalr: websocket ping: %w", err)
			}
		}
	}
}

// writeMessage serializes writes across the receive and keepalive
// goroutines and any caller of Send.
func (t *transport) writeMessage(conn *websocket.Conn, msg Message) error {
	data, err := t.opts.protocol.WriteMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.connectionTimeout))
	return conn.WriteMessage(wsMessageType(t.opts.protocol), data)
}

// send waits for the connection to be ready (bounded by connectionTimeout),
// then writes msg. If no connection becomes ready before the deadline it
// returns a programmer error; if the connection was ready but has since
// been dropped, it returns ErrConnectionClosed.
func (t *transport) send(ctx context.Context, msg Message) error {
	select {
	case <-t.readyChan():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.opts.connectionTimeout):
		return &errProgrammer{msg: "send timed out waiting for an open connection"}
	}

	conn := t.currentConn()
	if conn == nil {
		return ErrConnectionClosed
	}
	return t.writeMessage(conn, msg)
}
