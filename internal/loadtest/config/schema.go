// Package config provides configuration parsing and validation for load test
// runs.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test run.
//
// Example YAML:
//
//	name: "route swap"
//	settings:
//	  baseUrl: "http://localhost:1026"
//	  timeout: 10s
//	scenarios:
//	  slowRoute:
//	    executor: constant-arrival-rate
//	    rate: 110
//	    duration: 10m
//	    preAllocatedVUs: 20
//	    maxVUs: 200
//	    request:
//	      method: PATCH
//	      url: "{{baseUrl}}/ngsi-ld/v1/entities/urn:sensor:{{vu}}/attrs"
//	  routeSwap:
//	    executor: fixed-iterations
//	    after: [slowRoute]
//	    sideEffect:
//	      type: command
//	      command: ./swap-route.sh
//	  fastRoute:
//	    after: [routeSwap]
//	    ...
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are available to every template as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios are the phases of the run, in declaration order
	Scenarios Scenarios `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is available to templates as {{baseUrl}} and prefixes
	// request URLs starting with "/"
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines one phase of a run.
type ScenarioConfig struct {
	// Name identifies the phase. When scenarios are written as a mapping it
	// is taken from the key.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Executor specifies the load generation strategy
	// Options: "constant-arrival-rate", "fixed-iterations"
	Executor string `json:"executor" yaml:"executor"`

	// Duration is how long to dispatch (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per TimeUnit (for arrival-rate executors)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate refers to (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs to pre-allocate (for arrival-rate executors)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the maximum number of VUs to scale up to (for arrival-rate executors)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Overload is what to do with a tick when all MaxVUs are busy: "drop" or "wait"
	Overload string `json:"overload,omitempty" yaml:"overload,omitempty"`

	// Iterations is the number of runs (for fixed-iterations executors)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds a fixed-iterations phase
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// GracefulStop is how long to wait for in-flight iterations to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime delays this scenario relative to the run start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// After lists phases that must terminate before this one starts
	After []string `json:"after,omitempty" yaml:"after,omitempty"`

	// Group chains phases sharing a group in declaration order
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// Request is the HTTP request issued per iteration
	Request *RequestConfig `json:"request,omitempty" yaml:"request,omitempty"`

	// SideEffect is the hook run per iteration, instead of a request
	SideEffect *SideEffectConfig `json:"sideEffect,omitempty" yaml:"sideEffect,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL template
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific header templates
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body template
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Checks validate the response. Without checks, status < 400 is checked.
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CheckConfig defines a response check.
type CheckConfig struct {
	// Name is the check name template, derived from the other fields if empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is the check type: "status", "header", "body", "jsonpath", "schema", "duration"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "in", "gt", "lt", "gte", "lte", "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name or the JSONPath into the body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON Schema for schema checks
	Schema any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// SideEffectConfig defines a one-shot hook.
type SideEffectConfig struct {
	// Name for this side effect (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is "command", "webhook" or "redis"
	Type string `json:"type" yaml:"type"`

	// Command is the shell command (command)
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// URL, Method, Headers and Body describe the callback (webhook)
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// Addr, Channel and Message describe the publish (redis)
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Timeout bounds the hook (default 60s)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate < 0.01"] (less than 1% failures)
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count/rate
	// e.g., ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks thresholds for the check pass rate
	// e.g., ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// DroppedIterations thresholds for ticks lost to overload
	// e.g., ["count == 0"]
	DroppedIterations []string `json:"dropped_iterations,omitempty" yaml:"dropped_iterations,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one in declaration order
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Scenarios is an ordered list of scenarios. It decodes from either a
// mapping keyed by scenario name (declaration order is kept) or a sequence
// of scenarios carrying a name field.
type Scenarios []*ScenarioConfig

// Get returns the scenario with the given name, or nil.
func (s Scenarios) Get(name string) *ScenarioConfig {
	for _, sc := range s {
		if sc.Name == name {
			return sc
		}
	}
	return nil
}

// Names returns the scenario names in declaration order.
func (s Scenarios) Names() []string {
	names := make([]string, len(s))
	for i, sc := range s {
		names[i] = sc.Name
	}
	return names
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scenarios) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []*ScenarioConfig
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil

	case yaml.MappingNode:
		list := make(Scenarios, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var name string
			if err := node.Content[i].Decode(&name); err != nil {
				return err
			}
			sc := &ScenarioConfig{}
			if err := node.Content[i+1].Decode(sc); err != nil {
				return fmt.Errorf("scenario %s: %w", name, err)
			}
			sc.Name = name
			list = append(list, sc)
		}
		*s = list
		return nil

	default:
		return fmt.Errorf("line %d: scenarios must be a mapping or a sequence", node.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scenarios) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if len(raw) > 0 && raw[0] == '[' {
		var list []*ScenarioConfig
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	if string(raw) == "null" {
		*s = nil
		return nil
	}

	// Walk the object with a decoder to keep key order.
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("scenarios must be an object or an array")
	}

	var list Scenarios
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		sc := &ScenarioConfig{}
		if err := dec.Decode(sc); err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		sc.Name = name
		list = append(list, sc)
	}
	*s = list
	return nil
}

// MarshalJSON encodes the scenarios as a list.
func (s Scenarios) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*ScenarioConfig(s))
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

// UnmarshalJSON implements json.Unmarshaler. Bare numbers are seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
