package submission

import "fmt"

// Operation is the requested change type. Unknown operations are a
// construction-time error, never a runtime string compare.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpDelete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("submission: unknown operation %q", s)
}

// Source identifies where a change request entered the system.
type Source string

const (
	SourceForm Source = "form"
	SourceAPI  Source = "api"
	SourceCSV  Source = "csv"
)

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceForm, SourceAPI, SourceCSV:
		return Source(s), nil
	}
	return "", fmt.Errorf("submission: unknown source %q", s)
}

// Record is the durable audit/status record for one requested change.
type Record struct {
	ID        string            `json:"id"`
	Operation Operation         `json:"operation"`
	Source    Source            `json:"source"`
	TargetID  string            `json:"target_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Status    Status            `json:"status"`
	// ErrorMessage is set only when Status == StatusFailed.
	ErrorMessage string `json:"error_message,omitempty"`
	// DuplicateOf references the pre-existing person or submission a
	// rejected create collided with.
	DuplicateOf string `json:"duplicate_of,omitempty"`
	// CSVRow is the 1-based row index for csv-sourced batch items.
	CSVRow int `json:"csv_row,omitempty"`
	// FileName is the uploaded file for csv-sourced items.
	FileName  string `json:"file_name,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	CreatedMs int64  `json:"created_ms"`
	// ProcessedMs is set once, on the first transition out of processing.
	ProcessedMs int64 `json:"processed_ms,omitempty"`
}

// Email returns the candidate email from the payload, or "".
func (r *Record) Email() string {
	if r.Payload == nil {
		return ""
	}
	return r.Payload["email"]
}
