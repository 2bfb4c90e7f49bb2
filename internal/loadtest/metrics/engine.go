// Package metrics collects and aggregates iteration results.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// SampleSink receives every recorded iteration and overload signal.
// Implementations must be safe for concurrent use.
type SampleSink interface {
	ObserveIteration(r *loadtest.IterationResult)
	ObserveOverload(phase string, dropped bool)
}

// Engine collects metrics for one phase using an HDR histogram for latency
// and atomic counters for outcomes.
//
// Every iteration handed to RecordIteration is counted exactly once as
// succeeded, failed or cancelled, so issued == succeeded + failed + cancelled
// always holds. Overload signals are counted separately as dropped or
// delayed and are never part of issued.
//
// Engine is safe for concurrent use.
type Engine struct {
	name   string
	config EngineConfig
	sinks  []SampleSink

	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	issued     atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	dropped    atomic.Int64
	delayed    atomic.Int64
	totalBytes atomic.Int64

	activeVUs atomic.Int32
	peakBusy  atomic.Int32

	// checks and status codes
	mu          sync.Mutex
	checks      map[string]*CheckCounts
	statusCodes map[int]int64

	startTime time.Time
	endTime   atomic.Pointer[time.Time]
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// Name labels overload signals sent to sinks
	Name string

	// Sinks receive every sample
	Sinks []SampleSink

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// CheckCounts aggregates the results of one named check.
type CheckCounts struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine. Zero histogram settings fall back
// to the defaults.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	return &Engine{
		name:        config.Name,
		config:      config,
		sinks:       config.Sinks,
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:      make(map[string]*CheckCounts),
		statusCodes: make(map[int]int64),
		startTime:   time.Now(),
	}
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

// RecordIteration records one finished iteration.
func (e *Engine) RecordIteration(r *loadtest.IterationResult) {
	if r == nil {
		return
	}

	e.issued.Add(1)
	switch r.Outcome {
	case loadtest.OutcomeSuccess:
		e.succeeded.Add(1)
	case loadtest.OutcomeCancelled:
		e.cancelled.Add(1)
	default:
		e.failed.Add(1)
	}

	// Cancelled iterations never completed, their timing is meaningless.
	if r.Outcome != loadtest.OutcomeCancelled {
		e.recordLatency(r.Duration)
	}
	e.totalBytes.Add(r.BytesReceived)

	if len(r.Checks) > 0 || r.StatusCode != 0 {
		e.mu.Lock()
		for _, c := range r.Checks {
			counts, ok := e.checks[c.Name]
			if !ok {
				counts = &CheckCounts{}
				e.checks[c.Name] = counts
			}
			if c.Passed {
				counts.Passes++
			} else {
				counts.Fails++
			}
		}
		if r.StatusCode != 0 {
			e.statusCodes[r.StatusCode]++
		}
		e.mu.Unlock()
	}

	for _, sink := range e.sinks {
		sink.ObserveIteration(r)
	}
}

func (e *Engine) recordLatency(d time.Duration) {
	micros := d.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}

	// RecordValue is not thread-safe.
	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()
}

// RecordDropped records a tick that was not dispatched because the worker
// pool was saturated.
func (e *Engine) RecordDropped() {
	e.dropped.Add(1)
	for _, sink := range e.sinks {
		sink.ObserveOverload(e.name, true)
	}
}

// RecordDelayed records a tick that waited for a worker to become idle.
func (e *Engine) RecordDelayed() {
	e.delayed.Add(1)
	for _, sink := range e.sinks {
		sink.ObserveOverload(e.name, false)
	}
}

// SetActiveVUs updates the number of instantiated virtual users.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// ObserveBusyVUs records the number of concurrently busy virtual users and
// keeps the peak.
func (e *Engine) ObserveBusyVUs(count int) {
	n := int32(count)
	for {
		peak := e.peakBusy.Load()
		if n <= peak || e.peakBusy.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Finish freezes the elapsed time used for rates.
func (e *Engine) Finish() {
	now := time.Now()
	e.endTime.CompareAndSwap(nil, &now)
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	end := time.Now()
	if p := e.endTime.Load(); p != nil {
		end = *p
	}

	s := &Snapshot{
		Issued:     e.issued.Load(),
		Succeeded:  e.succeeded.Load(),
		Failed:     e.failed.Load(),
		Cancelled:  e.cancelled.Load(),
		Dropped:    e.dropped.Load(),
		Delayed:    e.delayed.Load(),
		TotalBytes: e.totalBytes.Load(),
		Latency:    latency,
		ActiveVUs:  int(e.activeVUs.Load()),
		PeakVUs:    int(e.peakBusy.Load()),
		StartTime:  e.startTime,
		Elapsed:    end.Sub(e.startTime),
		Timestamp:  time.Now(),
	}

	e.mu.Lock()
	s.Checks = make(map[string]CheckCounts, len(e.checks))
	for name, c := range e.checks {
		s.Checks[name] = *c
	}
	s.StatusCodes = make(map[int]int64, len(e.statusCodes))
	for code, n := range e.statusCodes {
		s.StatusCodes[code] = n
	}
	e.mu.Unlock()

	s.derive()
	return s
}

// Merge combines engines into a new engine holding the merged histogram
// and summed counters. PeakVUs is the largest per-engine peak, since phases
// need not overlap. The merged engine spans from the earliest start to the
// latest finish and has no sinks.
func Merge(engines ...*Engine) *Engine {
	merged := NewEngine()
	var (
		start    time.Time
		end      time.Time
		finished = len(engines) > 0
	)

	for _, src := range engines {
		if src == nil {
			continue
		}

		src.latencyHistMu.Lock()
		merged.latencyHist.Merge(src.latencyHist)
		src.latencyHistMu.Unlock()

		merged.issued.Add(src.issued.Load())
		merged.succeeded.Add(src.succeeded.Load())
		merged.failed.Add(src.failed.Load())
		merged.cancelled.Add(src.cancelled.Load())
		merged.dropped.Add(src.dropped.Load())
		merged.delayed.Add(src.delayed.Load())
		merged.totalBytes.Add(src.totalBytes.Load())
		merged.activeVUs.Add(src.activeVUs.Load())
		merged.ObserveBusyVUs(int(src.peakBusy.Load()))

		src.mu.Lock()
		for name, c := range src.checks {
			counts, ok := merged.checks[name]
			if !ok {
				counts = &CheckCounts{}
				merged.checks[name] = counts
			}
			counts.Passes += c.Passes
			counts.Fails += c.Fails
		}
		for code, n := range src.statusCodes {
			merged.statusCodes[code] += n
		}
		src.mu.Unlock()

		if start.IsZero() || src.startTime.Before(start) {
			start = src.startTime
		}
		if p := src.endTime.Load(); p != nil {
			if p.After(end) {
				end = *p
			}
		} else {
			finished = false
		}
	}

	if !start.IsZero() {
		merged.startTime = start
	}
	if finished && !end.IsZero() {
		merged.endTime.Store(&end)
	}
	return merged
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	micros := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Issued     int64 `json:"issued"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Dropped    int64 `json:"dropped"`
	Delayed    int64 `json:"delayed"`
	TotalBytes int64 `json:"totalBytes"`

	Latency LatencyStats `json:"latency"`

	// RPS is issued iterations per second of elapsed time
	RPS float64 `json:"rps"`

	// ErrorRate is failed / (succeeded + failed)
	ErrorRate float64 `json:"errorRate"`

	Checks         map[string]CheckCounts `json:"checks,omitempty"`
	ChecksPassRate float64                `json:"checksPassRate"`
	StatusCodes    map[int]int64          `json:"statusCodes,omitempty"`

	ActiveVUs int `json:"activeVUs"`
	PeakVUs   int `json:"peakVUs"`

	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

func (s *Snapshot) derive() {
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.RPS = float64(s.Issued) / secs
	}
	if completed := s.Succeeded + s.Failed; completed > 0 {
		s.ErrorRate = float64(s.Failed) / float64(completed)
	}

	var passes, total int64
	for _, c := range s.Checks {
		passes += c.Passes
		total += c.Passes + c.Fails
	}
	if total > 0 {
		s.ChecksPassRate = float64(passes) / float64(total)
	}
}

// Accounted reports whether every issued iteration has an outcome.
func (s *Snapshot) Accounted() bool {
	return s.Issued == s.Succeeded+s.Failed+s.Cancelled
}

// CheckNames returns the check names in sorted order.
func (s *Snapshot) CheckNames() []string {
	names := make([]string, 0, len(s.Checks))
	for name := range s.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
