package loadtest_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

const ldContextLink = `<https://fiware.github.io/data-models/context.jsonld>; rel="http://www.w3.org/ns/json-ld#context"; type="application/ld+json"`

type capturedRequest struct {
	method, path, link, body, userAgent, accept string
}

func TestIssuer_PatchWithTemplates(t *testing.T) {
	captured := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		captured <- capturedRequest{
			method:    r.Method,
			path:      r.URL.Path,
			link:      r.Header.Get("Link"),
			body:      string(b),
			userAgent: r.Header.Get("User-Agent"),
			accept:    r.Header.Get("Accept"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	issuer := loadtest.NewIssuer(server.Client(), loadtest.RequestDefaults{
		Headers:   map[string]string{"Accept": "application/json"},
		UserAgent: "ldload-test",
		Variables: map[string]string{"baseUrl": server.URL},
	})

	req := &loadtest.Request{
		Name:   "update peopleCount",
		Method: http.MethodPatch,
		URL:    loadtest.MustParseTemplate("{{baseUrl}}/ngsi-ld/v1/entities/urn:ngsi-ld:ArtificialSensor:{{vu}}/attrs/peopleCount"),
		Headers: map[string]*loadtest.Template{
			"Content-Type": loadtest.MustParseTemplate("application/json"),
			"Link":         loadtest.MustParseTemplate(ldContextLink),
		},
		Body:   loadtest.MustParseTemplate(`{"type":"Property","value":{{iteration}}}`),
		Checks: []loadtest.Check{loadtest.NewCheck("VU {{vu}} updated", loadtest.StatusIn(204))},
	}

	it := loadtest.Iteration{Phase: "sensor", VU: loadtest.VirtualUser{ID: 4}, Number: 9}
	res := loadtest.NewRequestAction(issuer, req).Execute(context.Background(), it)

	if res.Outcome != loadtest.OutcomeSuccess {
		t.Fatalf("Outcome = %s, err = %v, checks = %+v", res.Outcome, res.Err, res.Checks)
	}
	got := <-captured
	if got.method != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", got.method)
	}
	if got.path != "/ngsi-ld/v1/entities/urn:ngsi-ld:ArtificialSensor:4/attrs/peopleCount" {
		t.Errorf("path = %q", got.path)
	}
	if got.link != ldContextLink {
		t.Errorf("Link header = %q", got.link)
	}
	if got.body != `{"type":"Property","value":9}` {
		t.Errorf("body = %q", got.body)
	}
	if got.userAgent != "ldload-test" || got.accept != "application/json" {
		t.Errorf("defaults not applied: UA=%q Accept=%q", got.userAgent, got.accept)
	}
	if res.StatusCode != 204 || res.VUID != 4 || res.Iteration != 9 || res.Phase != "sensor" {
		t.Errorf("result metadata = %+v", res)
	}
	if len(res.Checks) != 1 || res.Checks[0].Name != "VU 4 updated" || !res.Checks[0].Passed {
		t.Errorf("checks = %+v", res.Checks)
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
}

func TestIssuer_CreatedOrExists(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusCreated)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	issuer := loadtest.NewIssuer(server.Client(), loadtest.RequestDefaults{})
	req := &loadtest.Request{
		Name:   "create entity",
		Method: http.MethodPost,
		URL:    loadtest.MustParseTemplate(server.URL),
		Checks: []loadtest.Check{loadtest.NewCheck("created or exists", loadtest.StatusIn(201, 409))},
	}

	for _, code := range []int{http.StatusCreated, http.StatusConflict} {
		status.Store(int32(code))
		res := issuer.Issue(context.Background(), loadtest.Iteration{VU: loadtest.VirtualUser{ID: 1}}, req)
		if res.Outcome != loadtest.OutcomeSuccess {
			t.Errorf("status %d: Outcome = %s", code, res.Outcome)
		}
	}

	status.Store(http.StatusBadRequest)
	res := issuer.Issue(context.Background(), loadtest.Iteration{VU: loadtest.VirtualUser{ID: 1}}, req)
	if res.Outcome != loadtest.OutcomeFailure {
		t.Errorf("status 400: Outcome = %s", res.Outcome)
	}
	if res.Err != nil {
		t.Errorf("a failed check is not an error, got %v", res.Err)
	}
	if res.Checks[0].Detail == "" {
		t.Error("failed check should carry detail")
	}
}

func TestIssuer_DefaultCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	issuer := loadtest.NewIssuer(server.Client(), loadtest.RequestDefaults{})
	res := issuer.Issue(context.Background(), loadtest.Iteration{}, &loadtest.Request{
		Name: "get",
		URL:  loadtest.MustParseTemplate(server.URL),
	})

	if res.Outcome != loadtest.OutcomeFailure {
		t.Errorf("Outcome = %s, want failure for 404", res.Outcome)
	}
	if len(res.Checks) != 1 || res.Checks[0].Name != "status < 400" {
		t.Errorf("checks = %+v", res.Checks)
	}
}

func TestIssuer_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	issuer := loadtest.NewIssuer(nil, loadtest.RequestDefaults{})
	req := &loadtest.Request{
		Name:   "unreachable",
		URL:    loadtest.MustParseTemplate(url),
		Checks: []loadtest.Check{loadtest.NewCheck("a", loadtest.StatusIn(200)), loadtest.NewCheck("b", loadtest.StatusIn(200))},
	}

	res := issuer.Issue(context.Background(), loadtest.Iteration{}, req)
	if res.Outcome != loadtest.OutcomeFailure {
		t.Fatalf("Outcome = %s, want failure", res.Outcome)
	}

	var netErr *loadtest.NetworkError
	if !errors.As(res.Err, &netErr) {
		t.Fatalf("Err = %T %v, want *NetworkError", res.Err, res.Err)
	}
	if len(res.Checks) != 2 {
		t.Fatalf("len(Checks) = %d, want 2", len(res.Checks))
	}
	for _, c := range res.Checks {
		if c.Passed || !strings.Contains(c.Detail, "GET") {
			t.Errorf("check %+v should fail with detail", c)
		}
	}
}

func TestIssuer_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	issuer := loadtest.NewIssuer(server.Client(), loadtest.RequestDefaults{})
	res := issuer.Issue(context.Background(), loadtest.Iteration{}, &loadtest.Request{
		Name:    "slow",
		URL:     loadtest.MustParseTemplate(server.URL),
		Timeout: 50 * time.Millisecond,
	})

	if res.Outcome != loadtest.OutcomeFailure {
		t.Fatalf("Outcome = %s, want failure on timeout", res.Outcome)
	}
	var netErr *loadtest.NetworkError
	if !errors.As(res.Err, &netErr) || !netErr.Timeout() {
		t.Errorf("Err = %v, want timeout NetworkError", res.Err)
	}
}

func TestIssuer_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	issuer := loadtest.NewIssuer(server.Client(), loadtest.RequestDefaults{})
	res := issuer.Issue(ctx, loadtest.Iteration{}, &loadtest.Request{
		Name: "straggler",
		URL:  loadtest.MustParseTemplate(server.URL),
	})

	if res.Outcome != loadtest.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", res.Outcome)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}
