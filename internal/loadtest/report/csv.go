package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

var csvHeader = []string{
	"phase", "action", "vu", "iteration", "scheduled", "start",
	"duration_ms", "status", "outcome", "checks_passed", "checks_failed", "error",
}

// CSVSink writes one row per iteration. It is a metrics.SampleSink and is
// safe for concurrent use.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	err    error
}

// NewCSVSink writes the header to w and returns the sink.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if err := s.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return s, nil
}

// CreateCSVSink creates the file at path and returns a sink writing to it.
func CreateCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	s, err := NewCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// ObserveIteration writes r as one row. The first write error is kept and
// returned by Close.
func (s *CSVSink) ObserveIteration(r *loadtest.IterationResult) {
	if r == nil {
		return
	}

	var passed, failed int
	for _, c := range r.Checks {
		if c.Passed {
			passed++
		} else {
			failed++
		}
	}

	row := []string{
		r.Phase,
		r.Action,
		strconv.Itoa(r.VUID),
		strconv.FormatInt(r.Iteration, 10),
		r.Scheduled.UTC().Format(time.RFC3339Nano),
		r.StartTime.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(float64(r.Duration)/float64(time.Millisecond), 'f', 3, 64),
		strconv.Itoa(r.StatusCode),
		string(r.Outcome),
		strconv.Itoa(passed),
		strconv.Itoa(failed),
		r.ErrorString(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if err := s.w.Write(row); err != nil {
		s.err = err
	}
}

// ObserveOverload is a no-op: only issued iterations have rows.
func (s *CSVSink) ObserveOverload(string, bool) {}

// Flush writes buffered rows.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if s.err == nil {
		s.err = s.w.Error()
	}
	return s.err
}

// Close flushes and closes the underlying file, if the sink owns one.
// Calling it again only flushes.
func (s *CSVSink) Close() error {
	err := s.Flush()

	s.mu.Lock()
	closer := s.closer
	s.closer = nil
	s.mu.Unlock()

	if closer != nil {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ metrics.SampleSink = (*CSVSink)(nil)
