// Package report writes run results and per-iteration samples to files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/ldload/internal/loadtest/engine"
)

// EncodeJSON writes result as indented JSON.
func EncodeJSON(w io.Writer, result *engine.RunResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// WriteJSON writes result to path.
func WriteJSON(result *engine.RunResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSON report: %w", err)
	}

	if err := EncodeJSON(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return f.Close()
}
