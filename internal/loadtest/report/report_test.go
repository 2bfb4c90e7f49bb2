package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/engine"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

func testResult() *engine.RunResult {
	return &engine.RunResult{
		ID:     "run-1",
		Name:   "route swap",
		Passed: true,
		Totals: &metrics.Snapshot{Issued: 10, Succeeded: 9, Failed: 1},
		Phases: []*engine.PhaseResult{
			{Name: "before", State: engine.PhaseCompleted, Metrics: &metrics.Snapshot{Issued: 10}},
		},
	}
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, testResult()); err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"completed"`)) {
		t.Errorf("phase state should be encoded as text: %s", buf.String())
	}
}

func TestEncodeJSON_Nil(t *testing.T) {
	if err := EncodeJSON(&bytes.Buffer{}, nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	if err := WriteJSON(testResult(), path); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Errorf("file is not valid JSON: %s", data)
	}
}

func TestWriteJSON_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "result.json")
	if err := WriteJSON(testResult(), path); err == nil {
		t.Error("expected error for missing directory")
	}
}

func sample(n int64, outcome loadtest.Outcome, err error) *loadtest.IterationResult {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &loadtest.IterationResult{
		Phase:      "swap",
		Action:     "GET /status",
		VUID:       2,
		Iteration:  n,
		Scheduled:  start,
		StartTime:  start,
		Duration:   1500 * time.Microsecond,
		StatusCode: 200,
		Checks: []loadtest.CheckResult{
			{Name: "status", Passed: true},
			{Name: "body", Passed: outcome == loadtest.OutcomeSuccess},
		},
		Err:     err,
		Outcome: outcome,
	}
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	if err != nil {
		t.Fatal(err)
	}

	sink.ObserveIteration(sample(0, loadtest.OutcomeSuccess, nil))
	sink.ObserveIteration(sample(1, loadtest.OutcomeFailure, errors.New("boom")))
	sink.ObserveIteration(nil)
	sink.ObserveOverload("swap", true)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "phase" || rows[0][len(rows[0])-1] != "error" {
		t.Errorf("header = %v", rows[0])
	}

	first := rows[1]
	want := []string{"swap", "GET /status", "2", "0", "2026-01-02T03:04:05Z", "2026-01-02T03:04:05Z", "1.500", "200", "success", "2", "0", ""}
	for i := range want {
		if first[i] != want[i] {
			t.Errorf("column %s = %q, want %q", csvHeader[i], first[i], want[i])
		}
	}

	second := rows[2]
	if second[8] != "failure" || second[9] != "1" || second[10] != "1" || second[11] != "boom" {
		t.Errorf("failure row = %v", second)
	}
}

func TestCSVSink_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sink.ObserveIteration(sample(int64(i*50+j), loadtest.OutcomeSuccess, nil))
			}
		}(i)
	}
	wg.Wait()
	if err := sink.Flush(); err != nil {
		t.Fatal(err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 401 {
		t.Errorf("got %d rows, want 401", len(rows))
	}
}

func TestCreateCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	sink, err := CreateCSVSink(path)
	if err != nil {
		t.Fatal(err)
	}
	sink.ObserveIteration(sample(0, loadtest.OutcomeCancelled, nil))
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][8] != "cancelled" {
		t.Errorf("rows = %v", rows)
	}
}
