package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rosterhq/roster/internal/queue"
	"github.com/rosterhq/roster/internal/store"
	"github.com/rosterhq/roster/internal/submission"
	"github.com/rosterhq/roster/pkg/log"
)

// Meta carries per-request ingestion metadata.
type Meta struct {
	IP        string
	UserAgent string
}

// Service turns raw change requests into queued submission records and
// work items. Form/api submissions and CSV batches use separate tubes
// so their concurrency can be tuned independently.
type Service struct {
	store    *store.Store
	main     *queue.Tube
	csv      *queue.Tube
	logger   log.Logger
}

// New creates a Service.
func New(s *store.Store, main, csv *queue.Tube, logger log.Logger) *Service {
	return &Service{store: s, main: main, csv: csv, logger: logger.With(log.Component("ingest"))}
}

// Accepted reports what was enqueued on behalf of one request.
type Accepted struct {
	SubmissionIDs []string       `json:"submission_ids"`
	Seq           uint64         `json:"-"`
	Warnings      []ParseWarning `json:"warnings,omitempty"`
}

// Submit accepts one or more raw rows from a form or the API. Each row
// becomes a queued submission record; all rows of one call travel in a
// single work item. Unknown operations or sources fail before anything
// is persisted.
func (s *Service) Submit(ctx context.Context, op, source string, targetID string, rows []map[string]string, meta Meta) (*Accepted, error) {
	operation, err := submission.ParseOperation(op)
	if err != nil {
		return nil, err
	}
	src, err := submission.ParseSource(source)
	if err != nil {
		return nil, err
	}
	if src == submission.SourceCSV {
		return nil, errors.New("ingest: csv submissions go through SubmitCSV")
	}
	if operation != submission.OpCreate && targetID == "" {
		return nil, fmt.Errorf("ingest: %s requires a target id", operation)
	}
	if operation == submission.OpDelete {
		rows = []map[string]string{nil}
	}
	if len(rows) == 0 {
		return nil, errors.New("ingest: no rows")
	}

	now := time.Now().UnixMilli()
	item := &submission.WorkItem{Operation: operation, Source: src}
	acc := &Accepted{}
	for _, raw := range rows {
		rec := &submission.Record{
			ID:        s.store.NewID(),
			Operation: operation,
			Source:    src,
			TargetID:  targetID,
			Payload:   raw,
			Status:    submission.StatusQueued,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			CreatedMs: now,
		}
		if err := s.store.InsertSubmission(ctx, rec); err != nil {
			return nil, fmt.Errorf("ingest: persist submission: %w", err)
		}
		item.Rows = append(item.Rows, submission.Row{SubmissionID: rec.ID, TargetID: targetID, Payload: raw})
		acc.SubmissionIDs = append(acc.SubmissionIDs, rec.ID)
	}

	seq, err := s.enqueue(ctx, s.main, item, meta, now)
	if err != nil {
		return nil, err
	}
	acc.Seq = seq
	s.logger.Info("submission accepted",
		log.Str("operation", string(operation)),
		log.Str("source", string(src)),
		log.Int("rows", len(item.Rows)),
		log.Uint64("seq", seq),
	)
	return acc, nil
}

// SubmitCSV decodes an uploaded CSV file into an ordered batch work
// item on the csv tube, one queued submission record per data row with
// its 1-based row index. Decode warnings are returned to the caller but
// do not block the rows that parsed.
func (s *Service) SubmitCSV(ctx context.Context, fileName string, data []byte, meta Meta) (*Accepted, error) {
	rows, warnings, err := DecodeCSV(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	item := &submission.WorkItem{
		Operation: submission.OpCreate,
		Source:    submission.SourceCSV,
		FileName:  fileName,
		TotalRows: len(rows),
	}
	acc := &Accepted{Warnings: warnings}
	for i, raw := range rows {
		rec := &submission.Record{
			ID:        s.store.NewID(),
			Operation: submission.OpCreate,
			Source:    submission.SourceCSV,
			Payload:   raw,
			Status:    submission.StatusQueued,
			CSVRow:    i + 1,
			FileName:  fileName,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			CreatedMs: now,
		}
		if err := s.store.InsertSubmission(ctx, rec); err != nil {
			return nil, fmt.Errorf("ingest: persist submission: %w", err)
		}
		item.Rows = append(item.Rows, submission.Row{SubmissionID: rec.ID, CSVRow: i + 1, Payload: raw})
		acc.SubmissionIDs = append(acc.SubmissionIDs, rec.ID)
	}

	seq, err := s.enqueue(ctx, s.csv, item, meta, now)
	if err != nil {
		return nil, err
	}
	acc.Seq = seq
	s.logger.Info("csv batch accepted",
		log.Str("file", fileName),
		log.Int("rows", len(item.Rows)),
		log.Int("warnings", len(warnings)),
		log.Uint64("seq", seq),
	)
	return acc, nil
}

// Requeue re-queues a failed submission as a fresh single-row work
// item, clearing its failure fields. This is the operator path and the
// only allowed backward status transition.
func (s *Service) Requeue(ctx context.Context, submissionID string) (*submission.Record, error) {
	rec, err := s.store.UpdateSubmission(ctx, submissionID, func(r *submission.Record) error {
		return r.Transition(submission.StatusQueued, time.Now().UnixMilli())
	})
	if err != nil {
		return nil, err
	}

	tube := s.main
	if rec.Source == submission.SourceCSV {
		tube = s.csv
	}
	item := &submission.WorkItem{
		Operation: rec.Operation,
		Source:    rec.Source,
		FileName:  rec.FileName,
		Rows: []submission.Row{{
			SubmissionID: rec.ID,
			TargetID:     rec.TargetID,
			CSVRow:       rec.CSVRow,
			Payload:      rec.Payload,
		}},
	}
	if _, err := s.enqueue(ctx, tube, item, Meta{}, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	s.logger.Info("submission requeued", log.Str("submission", rec.ID))
	return rec, nil
}

func (s *Service) enqueue(ctx context.Context, tube *queue.Tube, item *submission.WorkItem, meta Meta, nowMs int64) (uint64, error) {
	payload, err := submission.EncodeWorkItem(item)
	if err != nil {
		return 0, err
	}
	header := submission.EncodeHeader(&submission.Header{
		EnqueuedMs: nowMs,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	seq, err := tube.Put(ctx, header, payload, 0, nowMs)
	if err != nil {
		return 0, fmt.Errorf("ingest: enqueue: %w", err)
	}
	return seq, nil
}
