package sideeffect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// Webhook calls an HTTP endpoint. Any status outside 2xx is an error.
type Webhook struct {
	client  *http.Client
	method  string
	url     string
	headers map[string]string
	body    string
}

// NewWebhook creates an HTTP callback hook. An empty method means POST and a
// nil client means http.DefaultClient.
func NewWebhook(client *http.Client, method, url string, headers map[string]string, body string) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	if method == "" {
		method = http.MethodPost
	}
	return &Webhook{
		client:  client,
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
	}
}

// Execute sends the request and checks the status.
func (w *Webhook) Execute(ctx context.Context) error {
	var body io.Reader
	if w.body != "" {
		body = strings.NewReader(w.body)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, body)
	if err != nil {
		return fmt.Errorf("webhook %s %s: %w", w.method, w.url, err)
	}
	for name, value := range w.headers {
		req.Header.Set(name, value)
	}
	if w.body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s %s: %w", w.method, w.url, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputInError))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("webhook %s %s: unexpected status %d: %s", w.method, w.url, resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook %s %s: unexpected status %d", w.method, w.url, resp.StatusCode)
	}
	return nil
}

var _ loadtest.SideEffect = (*Webhook)(nil)
