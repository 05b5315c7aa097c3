package signalr

import (
	"net/http"
	"time"
)

// options collects every constructor parameter from spec.md §4.5/§6,
// expressed as functional options rather than a kwargs dict — idiomatic
// for a Go constructor, grounded in how the teacher's NewManager/NewClient
// constructors take explicit typed parameters (internal/job/manager.go,
// internal/service/suwayomi/client.go).
type options struct {
	protocol Protocol
	headers  http.Header

	pingInterval      time.Duration
	connectionTimeout time.Duration
	maxSize           int64

	accessTokenFactory func() (string, error)
	skipNegotiation    bool

	negotiateRetryCount        int
	negotiateRetryInitialDelay time.Duration
	negotiateRetryMultiplier   float64

	clientResults bool
	logger        Logger
}

func defaultOptions() *options {
	return &options{
		protocol:                   NewJSONProtocol(),
		headers:                    make(http.Header),
		pingInterval:               defaultPingInterval,
		connectionTimeout:          defaultConnectionTimeout,
		maxSize:                    1 << 20, // 2^20, 1 MiB
		negotiateRetryCount:        10,
		negotiateRetryInitialDelay: defaultNegotiateInitialDelay,
		negotiateRetryMultiplier:   1.1,
		logger:                     NewNopLogger(),
	}
}

// Option configures a Client at construction time.
type Option func(*options)

// WithProtocol selects the wire codec. Defaults to JSON.
func WithProtocol(p Protocol) Option {
	return func(o *options) { o.protocol = p }
}

// WithHeaders sets HTTP headers sent on both the negotiate request and the
// WebSocket handshake.
func WithHeaders(h http.Header) Option {
	return func(o *options) {
		cloned := make(http.Header, len(h))
		for k, v := range h {
			cloned[k] = append([]string(nil), v...)
		}
		o.headers = cloned
	}
}

// WithPingInterval sets the interval at which native WebSocket ping control
// frames are sent; the read deadline waiting for pongs is three times this
// value. Default 10s. Note this does not affect the fixed 10s protocol-level
// Ping keepalive cadence (spec.md §9.3 — intentional).
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithConnectionTimeout bounds the negotiate connect phase, the WebSocket
// open handshake, and Send's wait-for-ready. Default 10s.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) { o.connectionTimeout = d }
}

// WithMaxSize sets the maximum inbound WebSocket frame size. Default 1 MiB.
func WithMaxSize(n int64) Option {
	return func(o *options) { o.maxSize = n }
}

// WithAccessTokenFactory registers a callback invoked once per connect
// attempt; its return value is injected as an Authorization: Bearer header.
func WithAccessTokenFactory(f func() (string, error)) Option {
	return func(o *options) { o.accessTokenFactory = f }
}

// WithSkipNegotiation bypasses the negotiate step and connects directly to
// the configured URL.
func WithSkipNegotiation(skip bool) Option {
	return func(o *options) { o.skipNegotiation = skip }
}

// WithNegotiateRetry overrides the negotiate-phase retry budget: count
// attempts with delay scaled by multiplier after each failure.
func WithNegotiateRetry(count int, initialDelay time.Duration, multiplier float64) Option {
	return func(o *options) {
		o.negotiateRetryCount = count
		o.negotiateRetryInitialDelay = initialDelay
		o.negotiateRetryMultiplier = multiplier
	}
}

// WithClientResults enables the "client results" mode of spec.md §9 open
// question 1: when set, the result of an On handler that returns ok=true is
// sent back to the server as a Completion (a nil result is sent as null).
// Default off.
func WithClientResults(enabled bool) Option {
	return func(o *options) { o.clientResults = enabled }
}

// WithLogger installs a Logger. Default discards everything.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
