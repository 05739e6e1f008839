package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

func testEnvelope() *email.Envelope {
	return &email.Envelope{
		From:    "no-reply@example.com",
		To:      "ops@example.com",
		ReplyTo: "visitor@example.org",
		Subject: "Test",
		Body:    "Body",
	}
}

// newTokenServer returns a token endpoint that counts requests.
func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "test-token",
			ExpiresIn:   3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBuildSendMailRequest(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(testEnvelope())

	if req.Message.Subject != "Test" {
		t.Errorf("Subject: got %q, want %q", req.Message.Subject, "Test")
	}
	if req.Message.Body.ContentType != "text" {
		t.Errorf("Body.ContentType: got %q, want %q", req.Message.Body.ContentType, "text")
	}
	if req.Message.Body.Content != "Body" {
		t.Errorf("Body.Content: got %q, want %q", req.Message.Body.Content, "Body")
	}
	if len(req.Message.ToRecipients) != 1 || req.Message.ToRecipients[0].EmailAddress.Address != "ops@example.com" {
		t.Errorf("ToRecipients: got %+v", req.Message.ToRecipients)
	}
	if len(req.Message.ReplyTo) != 1 || req.Message.ReplyTo[0].EmailAddress.Address != "visitor@example.org" {
		t.Errorf("ReplyTo: got %+v", req.Message.ReplyTo)
	}
}

func TestBuildSendMailRequest_ReplyToDefaultsToSender(t *testing.T) {
	t.Parallel()

	env := testEnvelope()
	env.ReplyTo = ""

	req := buildSendMailRequest(env)
	if got := req.Message.ReplyTo[0].EmailAddress.Address; got != "no-reply@example.com" {
		t.Errorf("ReplyTo: got %q, want %q", got, "no-reply@example.com")
	}
}

func TestBuildSendMailRequest_JSONMarshaling(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(buildSendMailRequest(testEnvelope()))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	for _, want := range []string{`"toRecipients"`, `"replyTo"`, `"contentType":"text"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s: %s", want, data)
		}
	}
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	if p.Name() != "graph" {
		t.Errorf("Name: got %q, want %q", p.Name(), "graph")
	}
}

func TestProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Authorization header: got %q, want %q", r.Header.Get("Authorization"), "Bearer test-token")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type header: got %q, want %q", r.Header.Get("Content-Type"), "application/json")
		}

		var body sendMailRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Message.Subject != "Test" {
			t.Errorf("Subject in body: got %q, want %q", body.Message.Subject, "Test")
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(
		Config{
			TenantID:     "test-tenant",
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			Sender:       "sender@example.com",
		},
		graphServer.URL,
		tokenServer.URL,
		graphServer.Client(),
	)

	if err := p.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvider_SingleAttemptOnError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"forbidden", http.StatusForbidden},
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var tokenCalls, sendCalls atomic.Int32
			tokenServer := newTokenServer(t, &tokenCalls)

			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sendCalls.Add(1)
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(graphErrorResponse{
					Error: graphError{Code: "ErrorCode", Message: "rejected"},
				})
			}))
			defer graphServer.Close()

			p := newWithOverrides(Config{Sender: "s@example.com"}, graphServer.URL, tokenServer.URL, graphServer.Client())

			err := p.Send(context.Background(), testEnvelope())
			var se *sendError
			if !errors.As(err, &se) {
				t.Fatalf("expected sendError, got %v", err)
			}
			if se.statusCode != tt.status {
				t.Errorf("status: got %d, want %d", se.statusCode, tt.status)
			}
			if sendCalls.Load() != 1 {
				t.Errorf("send calls: got %d, want 1", sendCalls.Load())
			}
		})
	}
}

func TestProvider_UnauthorizedDropsToken(t *testing.T) {
	t.Parallel()

	var tokenCalls, sendCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sendCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(Config{Sender: "s@example.com"}, graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := p.Send(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if sendCalls.Load() != 1 {
		t.Fatalf("send calls after 401: got %d, want 1", sendCalls.Load())
	}

	if err := p.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("second send: unexpected error: %v", err)
	}
	if tokenCalls.Load() != 2 {
		t.Errorf("token calls: got %d, want 2", tokenCalls.Load())
	}
}

func TestProvider_TokenFailure(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unauthorized_client","error_description":"app not consented"}`))
	}))
	defer tokenServer.Close()

	var sendCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCalls.Add(1)
	}))
	defer graphServer.Close()

	p := newWithOverrides(Config{Sender: "s@example.com"}, graphServer.URL, tokenServer.URL, graphServer.Client())

	err := p.Send(context.Background(), testEnvelope())
	var te *tokenError
	if !errors.As(err, &te) || te.Code != "unauthorized_client" {
		t.Fatalf("expected *tokenError unauthorized_client, got %v", err)
	}
	if sendCalls.Load() != 0 {
		t.Errorf("send calls: got %d, want 0", sendCalls.Load())
	}
}

func TestProvider_InvalidEnvelope(t *testing.T) {
	t.Parallel()

	p := newWithOverrides(Config{}, "http://127.0.0.1:1", "http://127.0.0.1:1", http.DefaultClient)

	env := testEnvelope()
	env.ReplyTo = "a@example.com\r\nBcc: b@example.com"

	var be *email.BuildError
	if err := p.Send(context.Background(), env); !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
}

func TestSendError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *sendError
		want string
	}{
		{&sendError{statusCode: 400, code: "BadRequest", message: "Invalid recipient"}, "Graph API error (HTTP 400, BadRequest): Invalid recipient"},
		{&sendError{statusCode: 502, message: "bad gateway"}, "Graph API error (HTTP 502): bad gateway"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error(): got %q, want %q", got, tt.want)
		}
	}
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()
	var _ provider.Provider = (*Provider)(nil)
}
