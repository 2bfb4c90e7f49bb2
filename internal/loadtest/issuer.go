package loadtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is a compiled request definition. Every string field is a
// template rendered per iteration.
type Request struct {
	Name    string
	Method  string
	URL     *Template
	Headers map[string]*Template
	Body    *Template
	Timeout time.Duration
	Checks  []Check
}

// RequestDefaults are applied to every request sent by an Issuer.
type RequestDefaults struct {
	Headers   map[string]string
	UserAgent string
	Variables map[string]string
}

// Issuer sends one HTTP request per iteration and evaluates its checks.
//
// An Issuer is safe for concurrent use; all virtual users share its client
// so connections are pooled.
type Issuer struct {
	client   *http.Client
	defaults RequestDefaults
}

// NewIssuer creates an issuer using client, or a default client if nil.
func NewIssuer(client *http.Client, defaults RequestDefaults) *Issuer {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &Issuer{client: client, defaults: defaults}
}

// Issue sends req for iteration it.
//
// Issue never returns an error: network failures and timeouts are recorded
// as failed checks on the result. If ctx is cancelled before a response is
// received the result is marked cancelled instead.
func (i *Issuer) Issue(ctx context.Context, it Iteration, req *Request) *IterationResult {
	result := newResult(it, req.Name)

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := i.build(reqCtx, it, req)
	if err != nil {
		result.Checks = failChecks(req.Checks, it, i.defaults.Variables, err.Error())
		return result.finish(OutcomeFailure, fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return i.networkFailure(ctx, result, it, req, httpReq, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.StatusCode = resp.StatusCode
	result.BytesReceived = int64(len(body))
	if err != nil {
		return i.networkFailure(ctx, result, it, req, httpReq, err)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	response := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   result.Duration,
	}

	checks := req.Checks
	if len(checks) == 0 {
		checks = []Check{DefaultCheck()}
	}
	result.Checks = make([]CheckResult, len(checks))
	for n, c := range checks {
		result.Checks[n] = c.evaluate(it, i.defaults.Variables, response)
	}

	result.Outcome = OutcomeSuccess
	if !result.ChecksPassed() {
		result.Outcome = OutcomeFailure
	}
	return result
}

func (i *Issuer) networkFailure(ctx context.Context, result *IterationResult, it Iteration, req *Request, httpReq *http.Request, err error) *IterationResult {
	if ctx.Err() != nil {
		return result.finish(OutcomeCancelled, ctx.Err())
	}
	netErr := &NetworkError{Method: httpReq.Method, URL: httpReq.URL.String(), Err: err}
	result.Checks = failChecks(req.Checks, it, i.defaults.Variables, netErr.Error())
	return result.finish(OutcomeFailure, netErr)
}

func (i *Issuer) build(ctx context.Context, it Iteration, req *Request) (*http.Request, error) {
	vars := i.defaults.Variables

	var body io.Reader
	if req.Body != nil {
		body = strings.NewReader(req.Body.Render(it, vars))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.Render(it, vars), body)
	if err != nil {
		return nil, err
	}

	for key, value := range i.defaults.Headers {
		httpReq.Header.Set(key, value)
	}
	if i.defaults.UserAgent != "" {
		httpReq.Header.Set("User-Agent", i.defaults.UserAgent)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value.Render(it, vars))
	}
	return httpReq, nil
}

// failChecks records every check as failed with detail.
func failChecks(checks []Check, it Iteration, vars map[string]string, detail string) []CheckResult {
	if len(checks) == 0 {
		checks = []Check{DefaultCheck()}
	}
	out := make([]CheckResult, len(checks))
	for n, c := range checks {
		out[n] = CheckResult{Name: c.render(it, vars), Detail: detail}
	}
	return out
}
