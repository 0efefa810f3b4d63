package worker

// RowResultKind is the closed set of per-row outcomes.
type RowResultKind int

const (
	// RowOk: terminal status written, mutation committed.
	RowOk RowResultKind = iota
	// RowTerminal: business rejection recorded on the submission.
	RowTerminal
	// RowRetryable: infrastructure failure; the item must be redelivered.
	RowRetryable
)

// RowResult is what the per-row handler returns to the outer loop,
// which decides delete vs release vs bury from the variants alone.
type RowResult struct {
	Kind RowResultKind
	// Err carries the business reason (RowTerminal) or the
	// infrastructure failure (RowRetryable).
	Err error
}

func ok() RowResult                  { return RowResult{Kind: RowOk} }
func terminal(err error) RowResult   { return RowResult{Kind: RowTerminal, Err: err} }
func retryable(err error) RowResult  { return RowResult{Kind: RowRetryable, Err: err} }
