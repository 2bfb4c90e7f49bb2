package loadtest

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Template is a string with {{placeholder}} substitutions resolved per
// iteration.
//
// Built-in placeholders:
//
//	{{vu}}         virtual user ID
//	{{iteration}}  iteration number within the phase
//	{{phase}}      phase name
//	{{randInt N}}  random integer in [0, N)
//	{{now}}        current time, RFC 3339
//	{{uuid}}       random UUID
//
// Any other name is looked up in the variables passed to Render. Unknown
// variables are left as-is.
type Template struct {
	raw      string
	segments []segment
}

type segment struct {
	literal string
	name    string // empty for literals
	arg     int
}

// ParseTemplate compiles s.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			return t, nil
		}
		if start > 0 {
			t.segments = append(t.segments, segment{literal: rest[:start]})
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder in %q", s)
		}
		seg, err := parsePlaceholder(rest[start+2 : start+end])
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", s, err)
		}
		t.segments = append(t.segments, seg)
		rest = rest[start+end+2:]
	}
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func parsePlaceholder(inner string) (segment, error) {
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return segment{}, fmt.Errorf("empty placeholder")
	}
	if fields[0] == "randInt" {
		if len(fields) != 2 {
			return segment{}, fmt.Errorf("randInt takes exactly one argument")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return segment{}, fmt.Errorf("randInt argument must be a positive integer, got %q", fields[1])
		}
		return segment{name: "randInt", arg: n}, nil
	}
	if len(fields) > 1 {
		return segment{}, fmt.Errorf("unexpected arguments in placeholder %q", inner)
	}
	return segment{name: fields[0]}, nil
}

// Render resolves the template for one iteration.
func (t *Template) Render(it Iteration, vars map[string]string) string {
	if t == nil {
		return ""
	}
	if len(t.segments) == 1 && t.segments[0].name == "" {
		return t.segments[0].literal
	}

	var sb strings.Builder
	for _, seg := range t.segments {
		switch seg.name {
		case "":
			sb.WriteString(seg.literal)
		case "vu":
			sb.WriteString(strconv.Itoa(it.VU.ID))
		case "iteration":
			sb.WriteString(strconv.FormatInt(it.Number, 10))
		case "phase":
			sb.WriteString(it.Phase)
		case "randInt":
			sb.WriteString(strconv.Itoa(rand.IntN(seg.arg)))
		case "now":
			sb.WriteString(time.Now().UTC().Format(time.RFC3339))
		case "uuid":
			sb.WriteString(uuid.NewString())
		default:
			if v, ok := vars[seg.name]; ok {
				sb.WriteString(v)
			} else {
				sb.WriteString("{{" + seg.name + "}}")
			}
		}
	}
	return sb.String()
}

// String returns the unparsed template.
func (t *Template) String() string {
	if t == nil {
		return ""
	}
	return t.raw
}
