package submission

import "fmt"

// Status is the processing state of a submission record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("submission: unknown status %q", s)
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the closed set of allowed edges. failed -> queued is
// the operator re-queue path, the only backward edge.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies from -> to on the record, enforcing the state
// machine. The re-queue edge clears the failure fields; ProcessedMs is
// set once, on the first move out of processing. nowMs stamps the
// transition time.
func (r *Record) Transition(to Status, nowMs int64) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("submission %s: illegal transition %s -> %s", r.ID, r.Status, to)
	}
	if r.Status == StatusProcessing && to.Terminal() && r.ProcessedMs == 0 {
		r.ProcessedMs = nowMs
	}
	if r.Status == StatusFailed && to == StatusQueued {
		r.ErrorMessage = ""
		r.DuplicateOf = ""
	}
	r.Status = to
	return nil
}

// Fail transitions to failed with a reason.
func (r *Record) Fail(reason string, nowMs int64) error {
	if err := r.Transition(StatusFailed, nowMs); err != nil {
		return err
	}
	r.ErrorMessage = reason
	return nil
}
