// Package testutil provides stub push services and sinks for deterministic tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Request is one call received by a PushStub.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// PushStub is an HTTP server that records every request and answers with a
// fixed status.
type PushStub struct {
	URL string

	mu       sync.Mutex
	status   int
	requests []Request
	server   *httptest.Server
}

// StartPushStub starts a stub answering 200 until SetStatus changes it.
func StartPushStub(t *testing.T) *PushStub {
	t.Helper()

	stub := &PushStub{status: http.StatusOK}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.serve))
	stub.URL = stub.server.URL
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *PushStub) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})
	status := s.status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// SetStatus changes the status returned to subsequent requests.
func (s *PushStub) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Requests returns a copy of the recorded requests.
func (s *PushStub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
