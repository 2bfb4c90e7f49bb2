package jsonpath

import (
	"testing"
)

func TestExtract(t *testing.T) {
	body := []byte(`{"id":"urn:ngsi-ld:ArtificialSensor:1","peopleCount":{"type":"Property","value":42},"tags":["a","b"],"gone":null}`)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"top level", "$.id", "urn:ngsi-ld:ArtificialSensor:1", false},
		{"nested", "$.peopleCount.value", "42", false},
		{"array index", "$.tags[1]", "b", false},
		{"bracket quotes", "$['peopleCount']['type']", "Property", false},
		{"without dollar", "peopleCount.type", "Property", false},
		{"null value", "$.gone", "null", false},
		{"missing", "$.nope", "", true},
		{"empty path", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(body, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Extract() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_InvalidBody(t *testing.T) {
	if _, err := Extract(nil, "$.a"); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := Extract([]byte("not json"), "$.a"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestToGjsonPath(t *testing.T) {
	tests := map[string]string{
		"$":              "@this",
		"$.a.b":          "a.b",
		"$[0].name":      "0.name",
		"$.users[2].id":  "users.2.id",
		`$["x"]["y"]`:    "x.y",
		"plain.path":     "plain.path",
		"$.a[0][1].deep": "a.0.1.deep",
	}
	for in, want := range tests {
		if got := ToGjsonPath(in); got != want {
			t.Errorf("ToGjsonPath(%q) = %q, want %q", in, got, want)
		}
	}
}
