package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default values for spec.md §6's configuration table.
const (
	defaultPingInterval          = 10 * time.Second
	defaultConnectionTimeout     = 10 * time.Second
	defaultNegotiateInitialDelay = 1 * time.Second

	// keepaliveInterval is the fixed cadence at which the transport sends
	// protocol-level Ping frames, independent of pingInterval — spec.md
	// §9.3 documents this divergence as intentional.
	keepaliveInterval = 10 * time.Second

	// socketOpenBackoffSeed/Multiplier/Cap implement spec.md §4.4's
	// socket-open-failure backoff: seeded at 1.92s, multiplied by the
	// golden ratio, capped at 60s.
	socketOpenBackoffSeed       = 1.92
	socketOpenBackoffMultiplier = 1.618
	socketOpenBackoffCap        = 60 * time.Second
	socketOpenInitialJitterMax  = 5 * time.Second
)

// ConnectionState is one node of the transport's finite state machine
// (spec.md §4.4).
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// transitions enumerates the legal edges of the state graph. An attempt to
// move outside this table is a fatal programmer error (spec.md §4.4).
var transitions = map[ConnectionState]map[ConnectionState]bool{
	StateDisconnected:  {StateConnecting: true},
	StateConnecting:    {StateConnected: true, StateReconnecting: true, StateDisconnected: true},
	StateConnected:     {StateReconnecting: true, StateDisconnected: true},
	StateReconnecting:  {StateConnecting: true, StateDisconnected: true},
}

// messageHandler is how the transport forwards decoded messages up to the
// facade. Returning an error from it (e.g. on a Close-with-error message)
// aborts the current connection and triggers reconnect; a *ServerError with
// Fatal set ends run instead.
type messageHandler func(Message) error

// transport owns the socket for one connect cycle at a time and drives the
// negotiate/connect/handshake/run state machine of spec.md §4.4.
type transport struct {
	url  string
	opts *options
	log  Logger

	httpClient *http.Client
	dialer     *websocket.Dialer

	onMessage messageHandler
	onOpen    func()
	onClose   func()

	mu    sync.Mutex
	state ConnectionState
	conn  *websocket.Conn
	ready chan struct{}

	writeMu sync.Mutex
}

func newTransport(url string, opts *options, onMessage messageHandler, onOpen, onClose func()) *transport {
	return &transport{
		url:  url,
		opts: opts,
		log:  opts.logger,
		httpClient: &http.Client{
			Timeout: opts.connectionTimeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.connectionTimeout,
		},
		onMessage: onMessage,
		onOpen:    onOpen,
		onClose:   onClose,
		state:     StateDisconnected,
		ready:     make(chan struct{}),
	}
}

func (t *transport) setState(next ConnectionState) {
	t.mu.Lock()
	cur := t.state
	allowed := transitions[cur][next]
	if !allowed && cur != next {
		t.mu.Unlock()
		panic(fmt.Sprintf("signalr: illegal state transition %s -> %s", cur, next))
	}

	leavingConnected := cur == StateConnected && next != StateConnected
	enteringConnected := next == StateConnected && cur != StateConnected

	t.state = next
	if enteringConnected {
		close(t.ready)
	}
	if leavingConnected {
		t.ready = make(chan struct{})
	}
	t.mu.Unlock()

	if enteringConnected && t.onOpen != nil {
		t.onOpen()
	}
	if leavingConnected && t.onClose != nil {
		t.onClose()
	}
}

// State returns the current connection state.
func (t *transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *transport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *transport) readyChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *transport) setConn(c *websocket.Conn) {
	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()
}

// Run drives negotiate -> connect -> handshake -> serve, reconnecting with
// backoff on soft failures, returning the terminal error (if any) when the
// state machine reaches Disconnected for good.
func (t *transport) run(ctx context.Context) error {
	socketFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			t.setState(StateDisconnected)
			return err
		}

		t.setState(StateConnecting)

		wsURL, headers, err := t.negotiateWithRetry(ctx)
		if err != nil {
			t.setState(StateDisconnected)
			return err
		}

		conn, err := t.dialAndHandshake(ctx, wsURL, headers)
		if err != nil {
			var srvErr *ServerError
			if errors.As(err, &srvErr) && srvErr.Fatal {
				t.setState(StateDisconnected)
				return err
			}
			if ctx.Err() != nil {
				t.setState(StateDisconnected)
				return ctx.Err()
			}

			socketFailures++
			delay := socketOpenBackoff(socketFailures)
			t.log.Warn("signalr: socket open failed, backing off", map[string]interface{}{
				"attempt": socketFailures,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
			t.setState(StateReconnecting)
			select {
			case <-ctx.Done():
				t.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		socketFailures = 0
		t.setConn(conn)
		t.setState(StateConnected)

		serveErr := t.serve(ctx, conn)
		t.setConn(nil)

		if ctx.Err() != nil {
			t.setState(StateDisconnected)
			_ = conn.Close()
			return ctx.Err()
		}

		var srvErr *ServerError
		if errors.As(serveErr, &srvErr) && srvErr.Fatal {
			t.setState(StateDisconnected)
			return serveErr
		}

		t.log.Info("signalr: connection lost, reconnecting", map[string]interface{}{
			"error": fmt.Sprint(serveErr),
		})
		t.setState(StateReconnecting)
	}
}

// negotiateResponsePayload mirrors the 200-response schema of spec.md §6.
type negotiateResponsePayload struct {
	ConnectionID string `json:"connectionId"`
	URL          string `json:"url"`
	AccessToken  string `json:"accessToken"`
}

func (t *transport) negotiateWithRetry(ctx context.Context) (string, http.Header, error) {
	if t.opts.skipNegotiation {
		wsURL, err := ReplaceScheme(t.url, true)
		if err != nil {
			return "", nil, err
		}
		return wsURL, t.buildHeaders(), nil
	}

	delay := t.opts.negotiateRetryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= t.opts.negotiateRetryCount; attempt++ {
		wsURL, headers, err := t.negotiateOnce(ctx)
		if err == nil {
			return wsURL, headers, nil
		}

		var authErr *AuthorizationError
		var connErr *ConnectionError
		if errors.As(err, &authErr) || errors.As(err, &connErr) {
			return "", nil, err
		}

		lastErr = err
		t.log.Warn("signalr: negotiate failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * t.opts.negotiateRetryMultiplier)
	}

	return "", nil, &NegotiationFailure{Attempt: t.opts.negotiateRetryCount, Err: lastErr}
}

func (t *transport) negotiateOnce(ctx context.Context) (string, http.Header, error) {
	negURL, err := NegotiateURL(t.url)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("signalr: build negotiate request: %w", err)
	}
	headers := t.buildHeaders()
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("signalr: negotiate request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", nil, fmt.Errorf("signalr: read negotiate response: %w", err)
		}
		var payload negotiateResponsePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", nil, fmt.Errorf("signalr: decode negotiate response: %w", err)
		}
		t.log.Debug("signalr: negotiate response", map[string]interface{}{"body": string(body)})

		if payload.URL != "" && payload.AccessToken != "" {
			wsURL, err := ReplaceScheme(payload.URL, true)
			if err != nil {
				return "", nil, err
			}
			headers.Set("Authorization", "Bearer "+payload.AccessToken)
			return wsURL, headers, nil
		}
		if payload.ConnectionID != "" {
			wsURL, err := ConnectionURL(t.url, []string{payload.ConnectionID})
			if err != nil {
				return "", nil, err
			}
			return wsURL, headers, nil
		}
		wsURL, err := ReplaceScheme(t.url, true)
		if err != nil {
			return "", nil, err
		}
		return wsURL, headers, nil

	case http.StatusUnauthorized:
		return "", nil, &AuthorizationError{URL: negURL}

	default:
		return "", nil, &ConnectionError{URL: negURL, Status: resp.StatusCode}
	}
}

// buildHeaders clones the user-supplied headers and, if an access token
// factory is configured, invokes it and sets Authorization.
func (t *transport) buildHeaders() http.Header {
	headers := make(http.Header, len(t.opts.headers)+1)
	for k, v := range t.opts.headers {
		headers[k] = append([]string(nil), v...)
	}
	if t.opts.accessTokenFactory != nil {
		if token, err := t.opts.accessTokenFactory(); err == nil && token != "" {
			headers.Set("Authorization", "Bearer "+token)
		} else if err != nil {
			t.log.Warn("signalr: access token factory failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return headers
}

// socketOpenBackoff implements spec.md §4.4's backoff for the k-th
// consecutive socket-open failure: k==1 is a uniform jitter in [0,5)s;
// k>=2 is 1.92 * 1.618^(k-1), capped at 60s.
func socketOpenBackoff(k int) time.Duration {
	if k <= 1 {
		return time.Duration(rand.Float64() * float64(socketOpenInitialJitterMax))
	}
	d := socketOpenBackoffSeed * math.Pow(socketOpenBackoffMultiplier, float64(k-1))
	capped := math.Min(d, socketOpenBackoffCap.Seconds())
	return time.Duration(capped * float64(time.Second))
}

func wsMessageType(p Protocol) int {
	if p.TransferFormat() == TransferFormatBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
