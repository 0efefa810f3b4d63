package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rosterhq/roster/internal/dedupe"
	"github.com/rosterhq/roster/internal/events"
	"github.com/rosterhq/roster/internal/queue"
	"github.com/rosterhq/roster/internal/store"
	"github.com/rosterhq/roster/internal/submission"
	"github.com/rosterhq/roster/internal/validate"
	"github.com/rosterhq/roster/pkg/log"
)

// Config tunes the worker pool.
type Config struct {
	// Concurrency is the number of consumer goroutines.
	Concurrency int
	// ReserveTimeout bounds each blocking reserve call.
	ReserveTimeout time.Duration
	// LeaseMs is the time-to-run granted per reservation.
	LeaseMs int64
	// MaxAttempts is the delivery ceiling before an item is buried.
	MaxAttempts uint32
	// BackoffBase is the first release delay; it doubles per attempt.
	BackoffBase time.Duration
	// BackoffCap bounds the release delay.
	BackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = 5 * time.Second
	}
	if c.LeaseMs <= 0 {
		c.LeaseMs = 60_000
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	return c
}

// Pool runs the submission worker loop across the configured tubes.
// Workers share no mutable state; coordination happens entirely through
// the queue's lease protocol and the record store.
type Pool struct {
	consumer *queue.Consumer
	store    *store.Store
	detector *dedupe.Detector
	bus      *events.Bus
	cfg      Config
	logger   log.Logger
}

// New creates a Pool.
func New(consumer *queue.Consumer, s *store.Store, detector *dedupe.Detector, bus *events.Bus, cfg Config, logger log.Logger) *Pool {
	return &Pool{
		consumer: consumer,
		store:    s,
		detector: detector,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(log.Component("worker")),
	}
}

// Run blocks until ctx is cancelled, running Concurrency consumer loops.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, slot int) {
	logger := p.logger.With(log.Int("slot", slot))
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := p.consumer.Reserve(ctx, p.cfg.ReserveTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("reserve failed", log.Err(err))
			continue
		}
		p.ProcessItem(ctx, item)
	}
}

// ProcessItem drives one reserved work item to acknowledgment,
// release, or burial.
func (p *Pool) ProcessItem(ctx context.Context, item *queue.Reserved) {
	tube := p.consumer.TubeFor(item.Tube)
	work, err := submission.DecodeWorkItem(item.Payload)
	if err != nil {
		// A malformed item can never process; burying keeps it for
		// inspection instead of looping forever.
		p.logger.Error("undecodable work item buried",
			log.Str("tube", item.Tube), log.Uint64("seq", item.Seq), log.Err(err))
		_ = tube.Bury(ctx, item.Seq)
		itemsBuried.Inc()
		return
	}

	var firstRetryable error
	batch := dedupe.NewBatchSeen()
	for _, row := range work.Rows {
		start := time.Now()
		res := p.processRow(ctx, work, row, batch)
		rowDuration.WithLabelValues(string(work.Operation)).Observe(time.Since(start).Seconds())
		if res.Kind == RowRetryable {
			firstRetryable = res.Err
			break
		}
	}

	if firstRetryable == nil {
		if err := tube.Delete(ctx, item.Seq); err != nil {
			p.logger.Error("ack failed; item will be redelivered",
				log.Str("tube", item.Tube), log.Uint64("seq", item.Seq), log.Err(err))
		}
		return
	}

	attempts := item.Attempts + 1
	if attempts >= p.cfg.MaxAttempts {
		p.buryItem(ctx, tube, item, work, firstRetryable)
		return
	}
	delay := p.backoff(attempts)
	p.logger.Warn("work item released for retry",
		log.Str("tube", item.Tube),
		log.Uint64("seq", item.Seq),
		log.Int("attempts", int(attempts)),
		log.Dur("delay", delay),
		log.Err(firstRetryable),
	)
	if err := tube.Release(ctx, item.Seq, delay, 0); err != nil {
		p.logger.Error("release failed", log.Uint64("seq", item.Seq), log.Err(err))
	}
	itemsReleased.Inc()
}

func (p *Pool) backoff(attempts uint32) time.Duration {
	d := p.cfg.BackoffBase
	for i := uint32(1); i < attempts && d < p.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}
	return d
}

// buryItem dead-letters an item past its attempt ceiling and writes
// best-effort failure records so every row stays auditable.
func (p *Pool) buryItem(ctx context.Context, tube *queue.Tube, item *queue.Reserved, work *submission.WorkItem, cause error) {
	p.logger.Error("work item buried after exhausting retries",
		log.Str("tube", item.Tube),
		log.Uint64("seq", item.Seq),
		log.Err(cause),
	)
	reason := fmt.Sprintf("retries exhausted: %v", cause)
	for _, row := range work.Rows {
		p.failBestEffort(ctx, work, row, reason)
	}
	if err := tube.Bury(ctx, item.Seq); err != nil {
		p.logger.Error("bury failed", log.Uint64("seq", item.Seq), log.Err(err))
	}
	itemsBuried.Inc()
}

// failBestEffort forces a row's submission record to failed without
// letting a second infrastructure failure escape.
func (p *Pool) failBestEffort(ctx context.Context, work *submission.WorkItem, row submission.Row, reason string) {
	nowMs := time.Now().UnixMilli()
	_, err := p.store.UpdateSubmission(ctx, row.SubmissionID, func(r *submission.Record) error {
		if r.Status.Terminal() {
			return nil
		}
		if r.Status == submission.StatusQueued {
			if err := r.Transition(submission.StatusProcessing, nowMs); err != nil {
				return err
			}
		}
		return r.Fail(reason, nowMs)
	})
	if errors.Is(err, store.ErrNotFound) {
		rec := &submission.Record{
			ID:        row.SubmissionID,
			Operation: work.Operation,
			Source:    work.Source,
			TargetID:  row.TargetID,
			Payload:   row.Payload,
			Status:    submission.StatusFailed,
			CSVRow:    row.CSVRow,
			FileName:  work.FileName,
			CreatedMs: nowMs,
		}
		rec.ErrorMessage = reason
		rec.ProcessedMs = nowMs
		err = p.store.InsertSubmission(ctx, rec)
	}
	if err != nil {
		p.logger.Error("best-effort failure record not written",
			log.Str("submission", row.SubmissionID), log.Err(err))
	}
}

// processRow runs one row through the full pipeline. Every exit path
// except RowRetryable leaves the submission record in a terminal state.
func (p *Pool) processRow(ctx context.Context, work *submission.WorkItem, row submission.Row, batch *dedupe.BatchSeen) RowResult {
	nowMs := time.Now().UnixMilli()

	rec, err := p.store.GetSubmission(ctx, row.SubmissionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Unified path: the record is created at first dequeue.
		rec = &submission.Record{
			ID:        row.SubmissionID,
			Operation: work.Operation,
			Source:    work.Source,
			TargetID:  row.TargetID,
			Payload:   row.Payload,
			Status:    submission.StatusQueued,
			CSVRow:    row.CSVRow,
			FileName:  work.FileName,
			CreatedMs: nowMs,
		}
		if err := p.store.InsertSubmission(ctx, rec); err != nil {
			return retryable(fmt.Errorf("create submission record: %w", err))
		}
	case err != nil:
		return retryable(fmt.Errorf("load submission record: %w", err))
	}

	// Redelivery after a crash that already finished this row: the
	// terminal status is the single source of truth, so the row is done.
	// A completed create must still claim its email so later sibling
	// rows keep failing as intra-batch duplicates.
	if rec.Status.Terminal() {
		if rec.Status == submission.StatusCompleted && rec.Email() != "" {
			batch.Claim(rec.Email(), rec.ID)
		}
		return ok()
	}

	if rec.Status == submission.StatusQueued {
		rec, err = p.store.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
			return r.Transition(submission.StatusProcessing, nowMs)
		})
		if err != nil {
			return retryable(fmt.Errorf("mark processing: %w", err))
		}
	}

	normalized, verr := validate.Payload(work.Operation, row.Payload)
	if verr != nil {
		var vf *validate.Failure
		if errors.As(verr, &vf) {
			return p.failRow(ctx, rec, vf.Error(), "", events.TypeFailed)
		}
		return retryable(verr)
	}

	switch work.Operation {
	case submission.OpCreate:
		return p.applyCreate(ctx, rec, normalized, batch)
	case submission.OpUpdate:
		return p.applyUpdate(ctx, rec, row.TargetID, normalized, batch)
	case submission.OpDelete:
		return p.applyDelete(ctx, rec, row.TargetID)
	}
	return p.failRow(ctx, rec, fmt.Sprintf("unknown operation %q", work.Operation), "", events.TypeFailed)
}

func (p *Pool) applyCreate(ctx context.Context, rec *submission.Record, payload map[string]string, batch *dedupe.BatchSeen) RowResult {
	email := payload["email"]
	match, err := p.detector.Check(ctx, email, "", batch)
	if err != nil {
		return retryable(err)
	}
	if match != nil {
		return p.failRow(ctx, rec, match.String(), match.Ref, events.TypeDuplicate)
	}

	person := &store.Person{ID: p.store.NewID(), CreatedMs: time.Now().UnixMilli()}
	person.ApplyFields(payload)
	if err := p.store.InsertPerson(ctx, person); err != nil {
		return retryable(fmt.Errorf("insert person: %w", err))
	}
	batch.Claim(email, rec.ID)
	return p.completeRow(ctx, rec, payload, person.ID)
}

func (p *Pool) applyUpdate(ctx context.Context, rec *submission.Record, targetID string, payload map[string]string, batch *dedupe.BatchSeen) RowResult {
	if targetID == "" {
		return p.failRow(ctx, rec, "update requires a target id", "", events.TypeFailed)
	}
	if email := payload["email"]; email != "" {
		match, err := p.detector.Check(ctx, email, targetID, batch)
		if err != nil {
			return retryable(err)
		}
		if match != nil {
			return p.failRow(ctx, rec, match.String(), match.Ref, events.TypeDuplicate)
		}
	}
	_, err := p.store.UpdatePerson(ctx, targetID, func(person *store.Person) error {
		person.ApplyFields(payload)
		person.UpdatedMs = time.Now().UnixMilli()
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.failRow(ctx, rec, fmt.Sprintf("person %s not found", targetID), "", events.TypeFailed)
	case err != nil:
		return retryable(fmt.Errorf("update person: %w", err))
	}
	return p.completeRow(ctx, rec, payload, targetID)
}

func (p *Pool) applyDelete(ctx context.Context, rec *submission.Record, targetID string) RowResult {
	if targetID == "" {
		return p.failRow(ctx, rec, "delete requires a target id", "", events.TypeFailed)
	}
	err := p.store.DeletePerson(ctx, targetID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Replayed delete after a crash: the effect already happened.
		return p.completeRow(ctx, rec, nil, targetID)
	case err != nil:
		return retryable(fmt.Errorf("delete person: %w", err))
	}
	return p.completeRow(ctx, rec, nil, targetID)
}

// completeRow writes the terminal completed status, replacing the
// payload with its normalized form, and fans out the event.
func (p *Pool) completeRow(ctx context.Context, rec *submission.Record, normalized map[string]string, targetID string) RowResult {
	nowMs := time.Now().UnixMilli()
	updated, err := p.store.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
		if normalized != nil {
			r.Payload = normalized
		}
		if targetID != "" {
			r.TargetID = targetID
		}
		return r.Transition(submission.StatusCompleted, nowMs)
	})
	if err != nil {
		return retryable(fmt.Errorf("mark completed: %w", err))
	}
	rowsProcessed.WithLabelValues(string(submission.StatusCompleted), string(updated.Source)).Inc()
	p.bus.Publish(ctx, events.Event{
		Type:         events.TypeCompleted,
		SubmissionID: updated.ID,
		Operation:    updated.Operation,
		Source:       updated.Source,
		Email:        updated.Email(),
		AtMs:         nowMs,
	})
	return ok()
}

// failRow writes the terminal failed status with its reason and fans
// out the matching event type.
func (p *Pool) failRow(ctx context.Context, rec *submission.Record, reason, duplicateOf string, evType events.Type) RowResult {
	nowMs := time.Now().UnixMilli()
	updated, err := p.store.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
		if err := r.Fail(reason, nowMs); err != nil {
			return err
		}
		r.DuplicateOf = duplicateOf
		return nil
	})
	if err != nil {
		return retryable(fmt.Errorf("mark failed: %w", err))
	}
	rowsProcessed.WithLabelValues(string(submission.StatusFailed), string(updated.Source)).Inc()
	p.bus.Publish(ctx, events.Event{
		Type:         evType,
		SubmissionID: updated.ID,
		Operation:    updated.Operation,
		Source:       updated.Source,
		Email:        updated.Email(),
		DuplicateOf:  duplicateOf,
		Reason:       reason,
		AtMs:         nowMs,
	})
	return terminal(errors.New(reason))
}
