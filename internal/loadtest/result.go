package loadtest

import (
	"time"
)

// Outcome classifies a finished iteration.
type Outcome string

const (
	// OutcomeSuccess means the action completed and every check passed.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the action errored or at least one check failed.
	OutcomeFailure Outcome = "failure"

	// OutcomeCancelled means the iteration was aborted by cancellation
	// before it could complete.
	OutcomeCancelled Outcome = "cancelled"
)

// CheckResult is the recorded result of evaluating one Check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// IterationResult contains everything recorded about one iteration.
type IterationResult struct {
	Phase     string    `json:"phase"`
	Action    string    `json:"action"`
	VUID      int       `json:"vu"`
	Iteration int64     `json:"iteration"`
	Scheduled time.Time `json:"scheduled"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode,omitempty"`
	BytesReceived int64         `json:"bytesReceived,omitempty"`
	Checks        []CheckResult `json:"checks,omitempty"`

	Err     error   `json:"-"`
	Outcome Outcome `json:"outcome"`
}

// newResult starts a result for the given iteration.
func newResult(it Iteration, action string) *IterationResult {
	return &IterationResult{
		Phase:     it.Phase,
		Action:    action,
		VUID:      it.VU.ID,
		Iteration: it.Number,
		Scheduled: it.Scheduled,
		StartTime: time.Now(),
	}
}

// finish stamps the end time and outcome.
func (r *IterationResult) finish(outcome Outcome, err error) *IterationResult {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Outcome = outcome
	r.Err = err
	return r
}

// ErrorString returns the error text or an empty string.
func (r *IterationResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ChecksPassed reports whether every recorded check passed.
func (r *IterationResult) ChecksPassed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// CancelledResult builds the result for an iteration that was aborted
// before its action produced one.
func CancelledResult(it Iteration, action string, err error) *IterationResult {
	return newResult(it, action).finish(OutcomeCancelled, err)
}

// FailedResult builds the result for an iteration whose action could not
// produce one.
func FailedResult(it Iteration, action string, err error) *IterationResult {
	return newResult(it, action).finish(OutcomeFailure, err)
}
