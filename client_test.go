package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/technobecet/signalr-go/internal/testhub"
)

func startTestHub(t *testing.T, requireToken string) (*httptest.Server, string) {
	t.Helper()
	hub := testhub.NewHub(requireToken)
	srv := httptest.NewServer(testhub.NewServer(hub))
	t.Cleanup(srv.Close)

	url := "http" + strings.TrimPrefix(srv.URL, "http") + "/chat"
	return srv, url
}

// runAndWaitOpen registers OnOpen before starting Run, so there is no race
// between the connection opening and the test observing it.
func runAndWaitOpen(t *testing.T, client *Client, ctx context.Context) <-chan error {
	t.Helper()
	opened := make(chan struct{})
	client.OnOpen(func() { close(opened) })

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- client.Run(ctx) }()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection to open")
	}
	return runErrCh
}

func TestClientInvokeEcho(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := runAndWaitOpen(t, client, ctx)

	resultCh := make(chan Message, 1)
	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	err := client.Send(sendCtx, "Echo", []interface{}{"hello"}, func(m Message) {
		resultCh <- m
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	select {
	case m := <-resultCh:
		var got string
		if err := json.Unmarshal(m.Result, &got); err != nil {
			t.Fatal(err)
		}
		if got != "hello" {
			t.Errorf("Echo result = %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Echo completion")
	}

	cancel()
	<-runErrCh
}

// TestClientInvokeError exercises the mandatory error-sink path: every
// error Completion must reach OnError before the per-call callback sees it.
func TestClientInvokeError(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	sinkCh := make(chan Message, 1)
	client.OnError(func(m Message) { sinkCh <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := runAndWaitOpen(t, client, ctx)

	resultCh := make(chan Message, 1)
	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, "Fail", nil, func(m Message) { resultCh <- m }); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	select {
	case m := <-resultCh:
		if !m.HasError || m.Error != "boom" {
			t.Errorf("expected error completion 'boom', got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Fail completion")
	}

	select {
	case m := <-sinkCh:
		if m.Error != "boom" {
			t.Errorf("error sink saw %q, want %q", m.Error, "boom")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the error sink to fire")
	}

	cancel()
	<-runErrCh
}

// TestClientCompletionErrorWithoutSinkIsFatal exercises spec.md §4.5's
// rule that a Completion error with no registered OnError sink is a fatal
// runtime error: Run returns the ServerError directly, with no reconnect.
func TestClientCompletionErrorWithoutSinkIsFatal(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := runAndWaitOpen(t, client, ctx)

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, "Fail", nil, func(Message) {}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-runErrCh:
		var srvErr *ServerError
		if !errors.As(err, &srvErr) || !srvErr.Fatal {
			t.Errorf("expected a fatal *ServerError, got %T: %v", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the missing error sink to terminate Run")
	}
}

// TestClientDuplicateCompletionTerminatesReceiveLoop exercises spec.md §8
// invariant #7: a second Completion for an id that matches neither a
// pending invocation nor a stream raises ErrDuplicateCompletion, which
// tears down the current connection and reconnects (non-Fatal, unlike the
// missing-error-sink case).
func TestClientDuplicateCompletionTerminatesReceiveLoop(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	var opens int32
	firstOpen := make(chan struct{})
	reopened := make(chan struct{})
	client.OnOpen(func() {
		switch atomic.AddInt32(&opens, 1) {
		case 1:
			close(firstOpen)
		case 2:
			close(reopened)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- client.Run(ctx) }()

	select {
	case <-firstOpen:
	case err := <-runErrCh:
		t.Fatalf("Run exited before connecting: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the initial connection")
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, "DoubleComplete", nil, func(Message) {}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-reopened:
	case err := <-runErrCh:
		t.Fatalf("Run exited on a duplicate completion, want reconnect: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect after a duplicate completion")
	}

	cancel()
	<-runErrCh
}

// TestClientSendRaw exercises the "thin JSON" JSONMessage escape hatch: a
// caller-supplied raw frame reaches the wire verbatim, bypassing the typed
// message algebra. The test hub treats the frame as an ordinary Ping, so
// this only checks that the write itself succeeds.
func TestClientSendRaw(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := runAndWaitOpen(t, client, ctx)

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.SendRaw(sendCtx, json.RawMessage(`{"type":6}`)); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}

	cancel()
	<-runErrCh
}

// TestClientServerCloseTriggersReconnect exercises the soft-error path: a
// server-initiated Close carrying an error is a non-Fatal ServerError, so it
// tears down the current socket and reconnects rather than terminating Run.
func TestClientServerCloseTriggersReconnect(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	var opens int32
	firstOpen := make(chan struct{})
	reopened := make(chan struct{})
	client.OnOpen(func() {
		switch atomic.AddInt32(&opens, 1) {
		case 1:
			close(firstOpen)
		case 2:
			close(reopened)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- client.Run(ctx) }()

	select {
	case <-firstOpen:
	case err := <-runErrCh:
		t.Fatalf("Run exited before connecting: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the initial connection")
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, "CloseMe", nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-reopened:
	case err := <-runErrCh:
		t.Fatalf("Run exited on a soft close, want reconnect: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect after server-initiated close")
	}

	cancel()
	<-runErrCh
}

func TestClientStreamCounter(t *testing.T) {
	_, url := startTestHub(t, "")
	client := New(url, WithConnectionTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := runAndWaitOpen(t, client, ctx)

	var items []string
	done := make(chan struct{})
	observer := StreamObserver{
		OnNext:     func(item json.RawMessage) { items = append(items, string(item)) },
		OnComplete: func(Message) { close(done) },
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Stream(sendCtx, "Counter", nil, observer); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream completion")
	}

	if len(items) != 3 {
		t.Errorf("expected 3 stream items, got %d: %v", len(items), items)
	}

	cancel()
	<-runErrCh
}

// TestClientAuthorizationFailureSurfacesFromRun is spec.md scenario S6: a
// 401 from negotiate is fatal and is returned directly from Run, with no
// retry.
func TestClientAuthorizationFailureSurfacesFromRun(t *testing.T) {
	_, url := startTestHub(t, "secret-token")
	client := New(url, WithConnectionTimeout(2*time.Second))

	err := client.Run(context.Background())
	if err == nil {
		t.Fatal("expected an authorization error")
	}
	if _, ok := err.(*AuthorizationError); !ok {
		t.Errorf("expected *AuthorizationError, got %T: %v", err, err)
	}
}
