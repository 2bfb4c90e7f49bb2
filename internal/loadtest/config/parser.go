package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/executor"
)

// DefaultUserAgent is sent when settings.userAgent is empty.
const DefaultUserAgent = "ldload/1.0"

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// Returns the parsed duration or an error.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// TemplateVariables returns the variables visible to templates: baseUrl
// from the settings, then the configured variables.
func (c *TestConfig) TemplateVariables() map[string]string {
	builtins := map[string]string{}
	if c.Settings.BaseURL != "" {
		builtins["baseUrl"] = c.Settings.BaseURL
		builtins["baseURL"] = c.Settings.BaseURL
	}
	return MergeVariables(builtins, c.Variables)
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(30 * time.Second)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for _, sc := range config.Scenarios {
		applyScenarioDefaults(sc)
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		if sc.SideEffect != nil && sc.Rate == 0 {
			sc.Executor = string(executor.TypeFixedIterations)
		} else {
			sc.Executor = string(executor.TypeConstantArrivalRate)
		}
	}

	switch executor.Type(sc.Executor) {
	case executor.TypeConstantArrivalRate:
		if sc.TimeUnit == "" {
			sc.TimeUnit = "1s"
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
		if sc.Overload == "" {
			sc.Overload = string(executor.OverloadDrop)
		}
	case executor.TypeFixedIterations:
		if sc.Iterations == 0 {
			sc.Iterations = 1
		}
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = executor.DefaultGracefulStop.String()
	}

	if req := sc.Request; req != nil {
		if req.Name == "" {
			req.Name = sc.Name
		}
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		req.Method = strings.ToUpper(req.Method)
	}

	if se := sc.SideEffect; se != nil {
		if se.Name == "" {
			se.Name = sc.Name
		}
		if se.Timeout == "" {
			se.Timeout = loadtest.DefaultSideEffectTimeout.String()
		}
	}
}

// ToExecutorConfig converts a ScenarioConfig to an executor.Config.
//
// This function bridges the config package types to the executor package types.
func (sc *ScenarioConfig) ToExecutorConfig() (*executor.Config, error) {
	cfg := &executor.Config{
		Name:            sc.Name,
		Type:            executor.Type(sc.Executor),
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
		Overload:        executor.OverloadPolicy(sc.Overload),
		Iterations:      sc.Iterations,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"timeUnit", sc.TimeUnit, &cfg.TimeUnit},
		{"maxDuration", sc.MaxDuration, &cfg.MaxDuration},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
	}
	for _, d := range durations {
		dur, err := ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = dur
	}

	return cfg, nil
}

// StartOffset returns the parsed startTime.
func (sc *ScenarioConfig) StartOffset() (time.Duration, error) {
	return ParseDurationString(sc.StartTime)
}

// Compile turns the request definition into a loadtest.Request. URLs
// starting with "/" are prefixed with {{baseUrl}}.
func (rc *RequestConfig) Compile(defaultTimeout time.Duration) (*loadtest.Request, error) {
	rawURL := rc.URL
	if strings.HasPrefix(rawURL, "/") {
		rawURL = "{{baseUrl}}" + rawURL
	}

	url, err := loadtest.ParseTemplate(rawURL)
	if err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}
	body, err := loadtest.ParseTemplate(rc.Body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}

	headers := make(map[string]*loadtest.Template, len(rc.Headers))
	for name, value := range rc.Headers {
		tmpl, err := loadtest.ParseTemplate(value)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		headers[name] = tmpl
	}

	timeout, err := ParseDurationString(rc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	checks := make([]loadtest.Check, 0, len(rc.Checks))
	for i, cc := range rc.Checks {
		check, err := cc.Compile()
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		checks = append(checks, check)
	}

	method := strings.ToUpper(rc.Method)
	if method == "" {
		method = http.MethodGet
	}

	return &loadtest.Request{
		Name:    rc.Name,
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		Checks:  checks,
	}, nil
}

// Compile builds the check. An inline schema takes precedence over Value.
func (cc *CheckConfig) Compile() (loadtest.Check, error) {
	value := cc.Value
	if cc.Type == "schema" && cc.Schema != nil {
		doc, err := json.Marshal(cc.Schema)
		if err != nil {
			return loadtest.Check{}, fmt.Errorf("schema: %w", err)
		}
		value = string(doc)
	}
	return loadtest.BuildCheck(cc.Name, cc.Type, cc.Condition, value, cc.Path)
}
