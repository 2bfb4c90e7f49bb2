package jsonschema

import (
	"strings"
	"testing"
)

const entitySchema = `{
	"type": "object",
	"required": ["id", "type"],
	"properties": {
		"id": {"type": "string", "pattern": "^urn:ngsi-ld:"},
		"type": {"type": "string"},
		"peopleCount": {
			"type": "object",
			"properties": {"value": {"type": "integer", "minimum": 0}}
		}
	}
}`

func TestCompile_InvalidSchema(t *testing.T) {
	if _, err := Compile(`{"type": 12}`); err == nil {
		t.Error("expected error for invalid schema")
	}
	if _, err := Compile(`not json`); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile(entitySchema)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "valid entity",
			body: `{"id":"urn:ngsi-ld:ArtificialSensor:1","type":"ArtificialSensor","peopleCount":{"value":3}}`,
		},
		{
			name:    "missing type",
			body:    `{"id":"urn:ngsi-ld:ArtificialSensor:1"}`,
			wantErr: "type",
		},
		{
			name:    "negative count",
			body:    `{"id":"urn:ngsi-ld:X:1","type":"X","peopleCount":{"value":-1}}`,
			wantErr: "/peopleCount/value",
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate([]byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	schema, err := Compile(`{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"integer"}}}`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	err = schema.Validate([]byte(`{"a":1,"b":"x"}`))
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("len(errors) = %d, want 2: %v", len(verrs), verrs)
	}
	if !strings.Contains(verrs.Error(), "; ") {
		t.Errorf("joined error %q should separate violations", verrs.Error())
	}
}

func TestSchema_ValidateNumbers(t *testing.T) {
	schema, err := Compile(`{
		"type": "object",
		"properties": {
			"count": {"type": "integer", "maximum": 100},
			"ratio": {"type": "number", "exclusiveMaximum": 1}
		}
	}`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if err := schema.Validate([]byte(`{"count": 42, "ratio": 0.25}`)); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	err = schema.Validate([]byte(`{"count": 3.5, "ratio": 0.25}`))
	if err == nil || !strings.Contains(err.Error(), "/count") {
		t.Errorf("Validate() error = %v, want a violation at /count", err)
	}

	err = schema.Validate([]byte(`{"count": 101, "ratio": 1}`))
	verrs, ok := err.(ValidationErrors)
	if !ok || len(verrs) != 2 {
		t.Errorf("Validate() error = %v, want two violations", err)
	}
}
