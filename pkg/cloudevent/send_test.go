package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"404 Not Found", &HTTPError{StatusCode: 404}, true},
		{"408 is retried", &HTTPError{StatusCode: 408}, false},
		{"429 is retried", &HTTPError{StatusCode: 429}, false},
		{"500 Internal Server Error", &HTTPError{StatusCode: 500}, false},
		{"wrapped 403", fmt.Errorf("deliver: %w", &HTTPError{StatusCode: 403}), true},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("Expected IsClientError(%v) = %v, got %v", tt.err, tt.expected, got)
			}
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	t.Parallel()
	if got := (&HTTPError{StatusCode: 503}).Error(); got != "HTTP 503" {
		t.Errorf("Expected %q, got %q", "HTTP 503", got)
	}
	if got := (&HTTPError{StatusCode: 400, Body: "bad"}).Error(); got != "HTTP 400: bad" {
		t.Errorf("Expected %q, got %q", "HTTP 400: bad", got)
	}
}

func TestSignature(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	sig := Signature(payload, "secret-key")
	if len(sig) != len("sha256=")+64 || sig[:7] != "sha256=" {
		t.Fatalf("Expected sha256=<64 hex>, got %q", sig)
	}
	if !Verify(payload, "secret-key", sig) {
		t.Error("Expected signature to verify")
	}
	if Verify(payload, "different-key", sig) {
		t.Error("Expected a different key to fail verification")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := New("packagemanager.status.work", "packagemanager/pm-1", "work", nil)
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid event, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*CloudEvent)
	}{
		{"missing type", func(e *CloudEvent) { e.Type = "" }},
		{"missing source", func(e *CloudEvent) { e.Source = "" }},
		{"missing id", func(e *CloudEvent) { e.ID = "" }},
		{"wrong specversion", func(e *CloudEvent) { e.SpecVersion = "0.3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := *valid
			tt.mutate(&ev)
			if err := ev.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	type captured struct {
		headers http.Header
		body    []byte
	}
	got := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{headers: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ev := New("packagemanager.status.package", "packagemanager/pm-1", "package", map[string]int{"changes": 2})
	if err := NewSender(5*time.Second).Send(context.Background(), server.URL, ev, "key"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	c := <-got
	if c.headers.Get("Ce-Type") != ev.Type || c.headers.Get("Ce-Id") != ev.ID {
		t.Errorf("Expected CloudEvent headers, got %v", c.headers)
	}
	if !Verify(c.body, "key", c.headers.Get(SignatureHeader)) {
		t.Error("Expected body signature to verify")
	}
	var decoded CloudEvent
	if err := json.Unmarshal(c.body, &decoded); err != nil {
		t.Fatalf("Expected JSON body, got %v", err)
	}
	if decoded.Subject != "package" {
		t.Errorf("Expected subject package, got %q", decoded.Subject)
	}
}

func TestSender_SendHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	ev := New("packagemanager.status.work", "packagemanager/pm-1", "", nil)
	err := NewSender(5*time.Second).Send(context.Background(), server.URL, ev, "")
	if !IsClientError(err) {
		t.Errorf("Expected a client error, got %v", err)
	}
}
