package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/notify"
	"github.com/bazaarhq/livesync/internal/token"
)

func TestClient_FetchSnapshot(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]notify.Record{
			{ID: "n1", Kind: "order", Title: "Order shipped", CreatedAt: time.Now()},
			{ID: "n2", Kind: "out_of_stock", Title: "Back in stock soon"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, token.Static("abc123"), zap.NewNop())

	records, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if gotPath != "/v1/notifications" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer abc123" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestClient_FetchSnapshot_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, token.Static("abc123"), zap.NewNop())

	_, err := c.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_FetchSnapshot_TokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server without a credential")
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, failingTokens{}, zap.NewNop())
	if _, err := c.FetchSnapshot(context.Background()); err == nil {
		t.Fatal("expected error when credential resolution fails")
	}
}

func TestClient_MarkRead(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, token.Static("abc123"), zap.NewNop())

	if err := c.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/v1/notifications/n1/read" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClient_MarkRead_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such notification", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, token.Static("abc123"), zap.NewNop())

	err := c.MarkRead(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := New(srv.URL, 10*time.Second, token.Static("abc123"), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.FetchSnapshot(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", context.DeadlineExceeded
}
