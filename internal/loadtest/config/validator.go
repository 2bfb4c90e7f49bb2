package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/executor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var one *ValidationError
	var many *ValidationErrors
	return errors.As(err, &one) || errors.As(err, &many)
}

// referencesResolve reports whether every after entry names another known
// scenario.
func referencesResolve(scenarios Scenarios, names map[string]bool) bool {
	for _, sc := range scenarios {
		if sc == nil {
			return false
		}
		for _, dep := range sc.After {
			if dep == sc.Name || !names[dep] {
				return false
			}
		}
	}
	return true
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	seen := make(map[string]bool, len(c.Scenarios))
	for i, sc := range c.Scenarios {
		if sc == nil {
			errs.Add(fmt.Sprintf("scenarios[%d]", i), "scenario is empty")
			continue
		}
		if sc.Name == "" {
			errs.Add(fmt.Sprintf("scenarios[%d].name", i), "name is required")
		} else if seen[sc.Name] {
			errs.Add("scenarios."+sc.Name, "duplicate scenario name")
		}
		seen[sc.Name] = true
	}

	namesOK := !errs.HasErrors()

	for _, sc := range c.Scenarios {
		if sc != nil {
			validateScenario(sc, seen, errs)
		}
	}

	// Cycles are only meaningful once every name and reference resolves.
	if namesOK && referencesResolve(c.Scenarios, seen) {
		if _, err := c.Dependencies(); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				errs.Errors = append(errs.Errors, verr)
			} else {
				errs.Add("scenarios", err.Error())
			}
		}
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// effectiveExecutor returns the executor a scenario runs with once
// defaults are applied.
func effectiveExecutor(sc *ScenarioConfig) executor.Type {
	if sc.Executor != "" {
		return executor.Type(sc.Executor)
	}
	if sc.SideEffect != nil && sc.Rate == 0 {
		return executor.TypeFixedIterations
	}
	return executor.TypeConstantArrivalRate
}

// validateScenario validates a single scenario configuration.
func validateScenario(sc *ScenarioConfig, names map[string]bool, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", sc.Name)

	switch typ := effectiveExecutor(sc); typ {
	case executor.TypeConstantArrivalRate:
		validateConstantArrivalRate(prefix, sc, errs)
	case executor.TypeFixedIterations:
		validateFixedIterations(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", typ))
	}

	validateDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateDuration(prefix+".startTime", sc.StartTime, errs)

	switch {
	case sc.Request == nil && sc.SideEffect == nil:
		errs.Add(prefix, "either request or sideEffect is required")
	case sc.Request != nil && sc.SideEffect != nil:
		errs.Add(prefix, "request and sideEffect are mutually exclusive")
	case sc.Request != nil:
		validateRequest(prefix+".request", sc.Request, errs)
	default:
		validateSideEffect(prefix+".sideEffect", sc.SideEffect, errs)
	}

	for i, dep := range sc.After {
		field := fmt.Sprintf("%s.after[%d]", prefix, i)
		switch {
		case dep == sc.Name:
			errs.Add(field, "scenario cannot depend on itself")
		case !names[dep]:
			errs.Add(field, fmt.Sprintf("unknown scenario: %s", dep))
		}
	}
}

// validateConstantArrivalRate validates constant-arrival-rate executor config.
func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-arrival-rate executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	validateDuration(prefix+".timeUnit", sc.TimeUnit, errs)

	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs",
			fmt.Sprintf("preAllocatedVUs (%d) cannot be greater than maxVUs (%d)", sc.PreAllocatedVUs, sc.MaxVUs))
	}

	switch executor.OverloadPolicy(sc.Overload) {
	case "", executor.OverloadDrop, executor.OverloadWait:
	default:
		errs.Add(prefix+".overload", fmt.Sprintf("invalid overload policy: %s (want drop or wait)", sc.Overload))
	}
}

// validateFixedIterations validates fixed-iterations executor config.
func validateFixedIterations(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Iterations < 0 {
		errs.Add(prefix+".iterations", "iterations cannot be negative")
	}
	validateDuration(prefix+".maxDuration", sc.MaxDuration, errs)
}

func validateDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	if method := strings.ToUpper(req.Method); method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := loadtest.ParseTemplate(req.URL); err != nil {
		errs.Add(prefix+".url", err.Error())
	}

	if _, err := loadtest.ParseTemplate(req.Body); err != nil {
		errs.Add(prefix+".body", err.Error())
	}
	for name, value := range req.Headers {
		if _, err := loadtest.ParseTemplate(value); err != nil {
			errs.Add(fmt.Sprintf("%s.headers.%s", prefix, name), err.Error())
		}
	}

	validateDuration(prefix+".timeout", req.Timeout, errs)

	for i := range req.Checks {
		if _, err := req.Checks[i].Compile(); err != nil {
			errs.Add(fmt.Sprintf("%s.checks[%d]", prefix, i), err.Error())
		}
	}
}

// validateSideEffect validates a side effect configuration.
func validateSideEffect(prefix string, se *SideEffectConfig, errs *ValidationErrors) {
	switch se.Type {
	case "command":
		if strings.TrimSpace(se.Command) == "" {
			errs.Add(prefix+".command", "command is required for command side effects")
		}
	case "webhook":
		if se.URL == "" {
			errs.Add(prefix+".url", "url is required for webhook side effects")
		} else if _, err := url.Parse(se.URL); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	case "redis":
		if se.Channel == "" {
			errs.Add(prefix+".channel", "channel is required for redis side effects")
		}
	case "":
		errs.Add(prefix+".type", "type is required")
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid side effect type: %s (want command, webhook or redis)", se.Type))
	}

	validateDuration(prefix+".timeout", se.Timeout, errs)
}

// thresholdExpr matches "<metric> <op> <value>".
var thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

var validThresholdOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "=": true, "!=": true, "<>": true,
}

// validateThresholds validates threshold configuration. Each group accepts
// only the metrics it is evaluated against.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	groups := []struct {
		name    string
		exprs   []string
		metrics []string
	}{
		{"http_req_duration", t.HTTPReqDuration, []string{"min", "max", "avg", "med", "p50", "p90", "p95", "p99"}},
		{"http_req_failed", t.HTTPReqFailed, []string{"rate"}},
		{"http_reqs", t.HTTPReqs, []string{"count", "rate"}},
		{"checks", t.Checks, []string{"rate"}},
		{"dropped_iterations", t.DroppedIterations, []string{"count"}},
	}

	for _, g := range groups {
		for i, threshold := range g.exprs {
			if err := validateThresholdExpression(threshold, g.metrics); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", g.name, i), err.Error())
			}
		}
	}
}

// validateThresholdExpression validates a threshold expression against the
// metrics its group supports.
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func validateThresholdExpression(expr string, metrics []string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdExpr.FindStringSubmatch(expr)
	if m == nil {
		return fmt.Errorf("threshold must have the form '<metric> <op> <value>', got: %s", expr)
	}
	metric, op := m[1], m[2]

	if !slices.Contains(metrics, metric) {
		return fmt.Errorf("unsupported metric %q (want one of %s)", metric, strings.Join(metrics, ", "))
	}
	if !validThresholdOps[op] {
		return fmt.Errorf("invalid comparison operator %q (want <, >, <=, >=, ==, !=)", op)
	}
	return nil
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if _, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
