package tool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPToolName(t *testing.T) {
	if got := NewHTTPTool().Name(); got != "http_request" {
		t.Errorf("Name = %q", got)
	}
}

func TestHTTPToolGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("header not forwarded: %q", r.Header.Get("X-Token"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"url":     server.URL,
		"headers": map[string]interface{}{"X-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusOK {
		t.Errorf("status = %v", out["status_code"])
	}
	if out["body"] != `{"ok":true}` {
		t.Errorf("body = %v", out["body"])
	}
	headers := out["headers"].(map[string]interface{})
	if headers["Content-Type"] != "application/json" {
		t.Errorf("content type = %v", headers["Content-Type"])
	}
}

func TestHTTPToolPostSendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		payload, _ := io.ReadAll(r.Body)
		if string(payload) != `{"name":"x"}` {
			t.Errorf("body = %s", payload)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"url":    server.URL,
		"method": "post", // case-insensitive
		"body":   `{"name":"x"}`,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusCreated {
		t.Errorf("status = %v", out["status_code"])
	}
}

func TestHTTPToolInputValidation(t *testing.T) {
	tool := NewHTTPTool()

	if _, err := tool.Call(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("missing url must fail")
	}
	if _, err := tool.Call(context.Background(), map[string]interface{}{"url": 42}); err == nil {
		t.Error("non-string url must fail")
	}
	_, err := tool.Call(context.Background(), map[string]interface{}{
		"url":    "http://localhost:1",
		"method": "DELETE",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported HTTP method") {
		t.Errorf("unsupported method: %v", err)
	}
}

func TestHTTPToolContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPTool().Call(ctx, map[string]interface{}{"url": server.URL})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
