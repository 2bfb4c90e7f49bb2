package loadtest

import (
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/ldload/pkg/jsonpath"
	"github.com/wesleyorama2/ldload/pkg/jsonschema"
)

// Response is what checks are evaluated against.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Predicate evaluates a response. The string is a human-readable detail
// explaining a failure.
type Predicate func(resp *Response) (bool, string)

// Check is a named assertion over a single response.
//
// The name may contain template placeholders, for example
// "VU {{vu}} update accepted".
type Check struct {
	Name      string
	Predicate Predicate

	name *Template
}

// NewCheck creates a check. A name that is not a valid template is used
// verbatim.
func NewCheck(name string, p Predicate) Check {
	c := Check{Name: name, Predicate: p}
	if strings.Contains(name, "{{") {
		if t, err := ParseTemplate(name); err == nil {
			c.name = t
		}
	}
	return c
}

// DefaultCheck passes for any status below 400.
func DefaultCheck() Check {
	p, _ := StatusCondition("lt", "400")
	return NewCheck("status < 400", p)
}

func (c Check) render(it Iteration, vars map[string]string) string {
	if c.name != nil {
		return c.name.Render(it, vars)
	}
	return c.Name
}

func (c Check) evaluate(it Iteration, vars map[string]string, resp *Response) CheckResult {
	res := CheckResult{Name: c.render(it, vars)}
	if c.Predicate == nil {
		res.Detail = "no predicate"
		return res
	}
	res.Passed, res.Detail = c.Predicate(resp)
	if res.Passed {
		res.Detail = ""
	}
	return res
}

// StatusIn passes when the status code is one of codes.
func StatusIn(codes ...int) Predicate {
	codes = slices.Clone(codes)
	return func(resp *Response) (bool, string) {
		if slices.Contains(codes, resp.StatusCode) {
			return true, ""
		}
		return false, fmt.Sprintf("status %d not in %v", resp.StatusCode, codes)
	}
}

// StatusCondition compares the status code. The "in" condition accepts a
// comma separated list of codes.
func StatusCondition(condition, value string) (Predicate, error) {
	if condition == "in" {
		var codes []int
		for _, part := range strings.Split(value, ",") {
			code, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid status code %q", part)
			}
			codes = append(codes, code)
		}
		return StatusIn(codes...), nil
	}
	if _, err := strconv.Atoi(value); err != nil {
		return nil, fmt.Errorf("invalid status code %q", value)
	}
	cmp, err := comparator(condition, value)
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		actual := strconv.Itoa(resp.StatusCode)
		if cmp(actual) {
			return true, ""
		}
		return false, fmt.Sprintf("status %s, expected %s %s", actual, condition, value)
	}, nil
}

// HeaderCondition evaluates a response header.
func HeaderCondition(name, condition, value string) (Predicate, error) {
	if name == "" {
		return nil, fmt.Errorf("header name is required")
	}
	if condition == "exists" {
		return func(resp *Response) (bool, string) {
			if _, ok := resp.Header[http.CanonicalHeaderKey(name)]; ok {
				return true, ""
			}
			return false, fmt.Sprintf("header %s missing", name)
		}, nil
	}
	cmp, err := comparator(condition, value)
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		actual := resp.Header.Get(name)
		if cmp(actual) {
			return true, ""
		}
		return false, fmt.Sprintf("header %s = %q, expected %s %q", name, actual, condition, value)
	}, nil
}

// BodyCondition evaluates the raw response body.
func BodyCondition(condition, value string) (Predicate, error) {
	cmp, err := comparator(condition, value)
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		if cmp(string(resp.Body)) {
			return true, ""
		}
		return false, fmt.Sprintf("body does not satisfy %s %q", condition, value)
	}, nil
}

// JSONPathCondition evaluates the value at path in a JSON body.
func JSONPathCondition(path, condition, value string) (Predicate, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if condition == "exists" {
		return func(resp *Response) (bool, string) {
			if jsonpath.Exists(resp.Body, path) {
				return true, ""
			}
			return false, fmt.Sprintf("path %s not found", path)
		}, nil
	}
	cmp, err := comparator(condition, value)
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		actual, err := jsonpath.Extract(resp.Body, path)
		if err != nil {
			return false, err.Error()
		}
		if cmp(actual) {
			return true, ""
		}
		return false, fmt.Sprintf("%s = %q, expected %s %q", path, actual, condition, value)
	}, nil
}

// SchemaCondition validates the body against a JSON Schema document.
func SchemaCondition(schemaDoc string) (Predicate, error) {
	schema, err := jsonschema.Compile(schemaDoc)
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		if err := schema.Validate(resp.Body); err != nil {
			return false, err.Error()
		}
		return true, ""
	}, nil
}

// DurationCondition compares the response time against a duration.
func DurationCondition(condition, value string) (Predicate, error) {
	limit, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	cmp, err := comparator(condition, strconv.FormatInt(int64(limit), 10))
	if err != nil {
		return nil, err
	}
	return func(resp *Response) (bool, string) {
		if cmp(strconv.FormatInt(int64(resp.Duration), 10)) {
			return true, ""
		}
		return false, fmt.Sprintf("duration %s, expected %s %s", resp.Duration, condition, limit)
	}, nil
}

// BuildCheck builds a check from its declarative form.
//
// Supported types are status, header, body, jsonpath, schema and duration.
// An empty name is derived from the other fields.
func BuildCheck(name, typ, condition, value, path string) (Check, error) {
	var (
		p   Predicate
		err error
	)
	switch typ {
	case "status":
		p, err = StatusCondition(condition, value)
	case "header":
		p, err = HeaderCondition(path, condition, value)
	case "body":
		p, err = BodyCondition(condition, value)
	case "jsonpath":
		p, err = JSONPathCondition(path, condition, value)
	case "schema":
		p, err = SchemaCondition(value)
	case "duration":
		p, err = DurationCondition(condition, value)
	default:
		return Check{}, fmt.Errorf("unknown check type: %q", typ)
	}
	if err != nil {
		return Check{}, err
	}

	if name == "" {
		switch typ {
		case "schema":
			name = "body matches schema"
		case "header", "jsonpath":
			name = strings.TrimSpace(fmt.Sprintf("%s %s %s %s", typ, path, condition, value))
		default:
			name = fmt.Sprintf("%s %s %s", typ, condition, value)
		}
	}
	if _, err := ParseTemplate(name); err != nil {
		return Check{}, fmt.Errorf("check name: %w", err)
	}
	return NewCheck(name, p), nil
}

// comparator returns a function comparing an actual value to expected.
// Ordering conditions compare numerically when both sides are numbers.
func comparator(condition, expected string) (func(actual string) bool, error) {
	switch condition {
	case "eq", "":
		return func(actual string) bool { return actual == expected }, nil
	case "ne":
		return func(actual string) bool { return actual != expected }, nil
	case "contains":
		return func(actual string) bool { return strings.Contains(actual, expected) }, nil
	case "matches":
		re, err := regexp.Compile(expected)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", expected, err)
		}
		return re.MatchString, nil
	case "gt", "lt", "gte", "lte":
		want, err := strconv.ParseFloat(expected, 64)
		if err != nil {
			return nil, fmt.Errorf("condition %s needs a numeric value, got %q", condition, expected)
		}
		return func(actual string) bool {
			got, err := strconv.ParseFloat(actual, 64)
			if err != nil {
				return false
			}
			switch condition {
			case "gt":
				return got > want
			case "lt":
				return got < want
			case "gte":
				return got >= want
			default:
				return got <= want
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown condition: %q", condition)
	}
}
