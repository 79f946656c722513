package mta

import (
	"bufio"
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestDefaultReconnectBackoff(t *testing.T) {
	if got := DefaultReconnectBackoff(0); got != 30*time.Second {
		t.Errorf("attempt 0 = %v, want 30s", got)
	}
	if got := DefaultReconnectBackoff(1); got != 60*time.Second {
		t.Errorf("attempt 1 = %v, want 60s", got)
	}
	if got := DefaultReconnectBackoff(100); got != 15*time.Minute {
		t.Errorf("attempt 100 = %v, want capped at 15m", got)
	}
}

func TestIsSourceError(t *testing.T) {
	if !isSourceError(syscall.EADDRNOTAVAIL) {
		t.Error("expected EADDRNOTAVAIL to be a source error")
	}
	if isSourceError(syscall.ECONNREFUSED) {
		t.Error("expected ECONNREFUSED not to be a source error")
	}
	if isSourceError(errors.New("some other failure")) {
		t.Error("expected a plain error not to be a source error")
	}
}

func TestIsRetryableSessionError(t *testing.T) {
	if !isRetryableSessionError(&connectError{errors.New("banner timeout")}) {
		t.Error("expected a plain connectError to be retryable")
	}
	if isRetryableSessionError(&connectError{syscall.EADDRNOTAVAIL}) {
		t.Error("expected a source-error connectError to not be retryable")
	}
	if !isRetryableSessionError(&sessionError{errors.New("peer reset")}) {
		t.Error("expected a plain sessionError to be retryable")
	}
	if isRetryableSessionError(&sessionError{syscall.EADDRNOTAVAIL}) {
		t.Error("expected a source-error sessionError to not be retryable")
	}
	if !isRetryableSessionError(errors.New("unrelated error")) {
		t.Error("expected an unclassified error to default to retryable")
	}
}

func TestServerNameFor(t *testing.T) {
	if got := serverNameFor(Route{Name: "mx.example.com", Addr: "203.0.113.10:25"}); got != "203.0.113.10" {
		t.Errorf("got %q, want the host portion of Addr", got)
	}
	if got := serverNameFor(Route{Name: "mx.example.com", Addr: "not-a-valid-addr"}); got != "mx.example.com" {
		t.Errorf("got %q, want Name as fallback", got)
	}
}

// TestSupervisorRunDeliversOverLoopback drives a Supervisor against a
// real TCP listener on loopback, scripting a minimal EHLO/QUIT
// conversation with no tasks queued.
func TestSupervisorRunDeliversOverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		conn.Write([]byte("220 mx.example.com ESMTP\r\n"))
		if _, err := r.ReadString('\n'); err != nil {
			serverDone <- err
			return
		}
		conn.Write([]byte("250 mx.example.com\r\n"))
		if _, err := r.ReadString('\n'); err != nil {
			serverDone <- err
			return
		}
		conn.Write([]byte("221 bye\r\n"))
		serverDone <- nil
	}()

	route := Route{
		Name:     "mx.example.com",
		Addr:     ln.Addr().String(),
		HeloName: "client.example.com",
		Policy:   SecurityOpportunistic,
	}
	rm := &testRouteManager{}
	config := SupervisorConfig{
		SessionConfig: testConfig(&testQueue{}, rm),
		MaxAttempts:   1,
	}
	supervisor := NewSupervisor(route, config)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := supervisor.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

// TestSupervisorExhaustsMaxAttempts dials an address nothing listens
// on, expecting the supervisor to report a route error once
// MaxAttempts connection failures have occurred.
func TestSupervisorExhaustsMaxAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing will be listening by the time the supervisor dials

	route := Route{Name: "mx.example.com", Addr: addr, Policy: SecurityOpportunistic}
	rm := &testRouteManager{}
	config := SupervisorConfig{
		SessionConfig: testConfig(&testQueue{}, rm),
		MaxAttempts:   2,
		Backoff:       func(int) time.Duration { return time.Millisecond },
	}
	supervisor := NewSupervisor(route, config)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := supervisor.Run(ctx); err == nil {
		t.Fatal("expected an error once MaxAttempts is exhausted")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.errs) != 1 {
		t.Errorf("expected exactly one RouteError report, got %d", len(rm.errs))
	}
}
