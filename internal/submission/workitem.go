package submission

import (
	"encoding/json"
	"fmt"
)

// Row is one unit of work inside a work item. SubmissionID points at
// the queued record created at enqueue time.
type Row struct {
	SubmissionID string            `json:"submission_id"`
	TargetID     string            `json:"target_id,omitempty"`
	CSVRow       int               `json:"csv_row,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// WorkItem is the unit of delivery inside the work queue: one row for
// form/api submissions, or an ordered batch of rows for a CSV upload.
// Row order is preserved as received; the intra-batch duplicate check
// uses it as the first-occurrence tie-break.
type WorkItem struct {
	Operation Operation `json:"operation"`
	Source    Source    `json:"source"`
	FileName  string    `json:"file_name,omitempty"`
	TotalRows int       `json:"total_rows,omitempty"`
	Rows      []Row     `json:"rows"`
}

// Header rides next to the work item body in the queue frame,
// carrying ingestion metadata that is useful in logs but not needed to
// process the rows.
type Header struct {
	EnqueuedMs int64  `json:"enqueued_ms"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// EncodeWorkItem marshals the item body for the queue.
func EncodeWorkItem(item *WorkItem) ([]byte, error) {
	if len(item.Rows) == 0 {
		return nil, fmt.Errorf("submission: work item has no rows")
	}
	return json.Marshal(item)
}

// DecodeWorkItem unmarshals a queue payload back into a work item.
func DecodeWorkItem(b []byte) (*WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("submission: decode work item: %w", err)
	}
	if _, err := ParseOperation(string(item.Operation)); err != nil {
		return nil, err
	}
	if _, err := ParseSource(string(item.Source)); err != nil {
		return nil, err
	}
	if len(item.Rows) == 0 {
		return nil, fmt.Errorf("submission: work item has no rows")
	}
	return &item, nil
}

// EncodeHeader marshals the queue frame header.
func EncodeHeader(h *Header) []byte {
	b, _ := json.Marshal(h)
	return b
}

// DecodeHeader unmarshals a queue frame header; a broken header is not
// fatal to processing.
func DecodeHeader(b []byte) Header {
	var h Header
	_ = json.Unmarshal(b, &h)
	return h
}
