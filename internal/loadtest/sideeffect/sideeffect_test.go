package sideeffect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCommand_Success(t *testing.T) {
	if err := NewCommand("echo route swapped", nil).Execute(context.Background()); err != nil {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestCommand_NonZeroExit(t *testing.T) {
	err := NewCommand("echo swap failed >&2; exit 3", nil).Execute(context.Background())
	if err == nil {
		t.Fatal("Execute() = nil, want error for exit 3")
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error = %q, want exit status", err)
	}
	if !strings.Contains(err.Error(), "swap failed") {
		t.Errorf("error = %q, want command output", err)
	}
}

func TestCommand_KilledAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewCommand("sleep 5", nil).Execute(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("command was not killed at the deadline")
	}
}

func TestCommand_Empty(t *testing.T) {
	if err := NewCommand("  ", nil).Execute(context.Background()); err == nil {
		t.Error("Execute() with empty command should fail")
	}
}

func TestOutputTail(t *testing.T) {
	long := strings.Repeat("x", maxOutputInError+100)
	got := outputTail([]byte(long))
	if !strings.HasPrefix(got, "...") || len(got) != maxOutputInError+3 {
		t.Errorf("outputTail() length = %d", len(got))
	}
	if outputTail([]byte("  \n")) != "" {
		t.Error("outputTail() of blank output should be empty")
	}
}

func TestWebhook_Success(t *testing.T) {
	type captured struct {
		method, contentType, token, body string
	}
	got := make(chan captured, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{r.Method, r.Header.Get("Content-Type"), r.Header.Get("X-Token"), string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook := NewWebhook(server.Client(), "", server.URL+"/swap", map[string]string{"X-Token": "abc"}, `{"route":"fast"}`)
	if err := hook.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	c := <-got
	if c.method != http.MethodPost {
		t.Errorf("method = %s, want POST", c.method)
	}
	if c.contentType != "application/json" {
		t.Errorf("Content-Type = %q", c.contentType)
	}
	if c.token != "abc" {
		t.Errorf("X-Token = %q", c.token)
	}
	if c.body != `{"route":"fast"}` {
		t.Errorf("body = %q", c.body)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "route table locked", http.StatusConflict)
	}))
	defer server.Close()

	err := NewWebhook(server.Client(), "put", server.URL, nil, "").Execute(context.Background())
	if err == nil {
		t.Fatal("Execute() = nil, want error for 409")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "route table locked") {
		t.Errorf("error = %q", err)
	}
}

func TestWebhook_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := NewWebhook(nil, "GET", url, nil, "").Execute(context.Background()); err == nil {
		t.Error("Execute() against a closed server should fail")
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("redis://:secret@cache:6380/2")
	if err != nil {
		t.Fatalf("redisOptions() error = %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Errorf("opts = addr %q, db %d", opts.Addr, opts.DB)
	}

	opts, err = redisOptions("10.0.0.5:6379")
	if err != nil || opts.Addr != "10.0.0.5:6379" {
		t.Errorf("plain address = %v, %v", opts, err)
	}

	opts, err = redisOptions("")
	if err != nil || opts.Addr != "localhost:6379" {
		t.Errorf("default address = %v, %v", opts, err)
	}

	if _, err := redisOptions("redis://cache:6379/notadb"); err == nil {
		t.Error("redisOptions() should reject an invalid db")
	}
}

func TestRedisPublish_RequiresChannel(t *testing.T) {
	if _, err := NewRedisPublish("localhost:6379", "", "swap"); err == nil {
		t.Error("NewRedisPublish() without channel should fail")
	}
}

func TestRedisPublish_Unreachable(t *testing.T) {
	hook, err := NewRedisPublish("127.0.0.1:1", "routes", "swap")
	if err != nil {
		t.Fatalf("NewRedisPublish() error = %v", err)
	}
	defer hook.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = hook.Execute(ctx)
	if err == nil {
		t.Fatal("Execute() against an unreachable server should fail")
	}
	if !strings.Contains(err.Error(), "routes") {
		t.Errorf("error = %q, want channel name", err)
	}
}
