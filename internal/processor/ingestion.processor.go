package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/transaction-guard/internal/csvimport"
	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/internal/queue"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/prom"
)

const lockReleaseTimeout = 5 * time.Second

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type TransactionStore interface {
	InsertOrIgnore(ctx context.Context, txns []*model.Transaction) (int64, error)
}

type Notifier interface {
	Send(ctx context.Context, mail model.Mail) error
}

// StateError tells in which state an attempt failed.
type StateError struct {
	State model.JobState
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// IngestionProcessor drives one staged CSV file through
// dequeued → downloading → parsing → validating → inserting → completed.
// Any error ends the attempt and goes back to the queue for retry; once
// attempts are exhausted the queue calls OnFailed.
type IngestionProcessor struct {
	blobs       BlobStore
	store       TransactionStore
	notifier    Notifier
	idempotency *IdempotencyService
	mailFrom    string
}

func NewIngestionProcessor(blobs BlobStore, store TransactionStore, notifier Notifier, idempotency *IdempotencyService, mailFrom string) *IngestionProcessor {
	return &IngestionProcessor{
		blobs:       blobs,
		store:       store,
		notifier:    notifier,
		idempotency: idempotency,
		mailFrom:    mailFrom,
	}
}

func (p *IngestionProcessor) GetType() string {
	return "ingestion"
}

type ingestionRun struct {
	log   *logger.ZapLogger
	state model.JobState
}

func newIngestionRun(job model.IngestionJob, attempt int) *ingestionRun {
	return &ingestionRun{
		log: logger.With("job_id", job.JobID, "file_path", job.FilePath, "attempt", attempt),
	}
}

func (r *ingestionRun) enter(state model.JobState, values ...any) {
	r.state = state
	fields := append([]any{"state", state, "terminal", state.Terminal()}, values...)
	if state == model.JobStateFailed {
		r.log.Error("ingestion job state", fields...)
		return
	}
	r.log.Info("ingestion job state", fields...)
}

func (r *ingestionRun) fail(err error) error {
	return &StateError{State: r.state, Err: err}
}

func (p *IngestionProcessor) Process(ctx context.Context, msg *queue.Message) error {
	job, err := decodeJob(msg)
	if err != nil {
		return &StateError{State: model.JobStateDequeued, Err: err}
	}

	run := newIngestionRun(job, msg.Attempt())
	run.enter(model.JobStateDequeued)

	pc, err := p.idempotency.AcquireProcessingLock(ctx, job.JobID, msg.Attempt())
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			run.log.Info("ingestion job already completed, skipping")
			return nil
		}
		return run.fail(err)
	}
	defer func() {
		// the attempt context may already be expired when we get here
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		_ = p.idempotency.ReleaseLock(releaseCtx, pc)
	}()

	start := time.Now()

	run.enter(model.JobStateDownloading)
	data, err := p.blobs.Get(ctx, job.FilePath)
	if err != nil {
		return run.fail(err)
	}

	run.enter(model.JobStateParsing, "bytes", len(data))
	rows, err := csvimport.Parse(data)
	if err != nil {
		return run.fail(err)
	}
	prom.AddIngestRows("parsed", len(rows))

	run.enter(model.JobStateValidating, "rows", len(rows))
	txns, err := csvimport.Validate(rows)
	if err != nil {
		return run.fail(err)
	}

	run.enter(model.JobStateInserting, "rows", len(txns))
	inserted, err := p.store.InsertOrIgnore(ctx, txns)
	if err != nil {
		return run.fail(err)
	}
	prom.AddIngestRows("inserted", int(inserted))

	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		// rows are stored, a redelivery only re-inserts ignored duplicates
		run.log.Error("failed to mark job as processed", "error", err)
	}

	run.enter(model.JobStateCompleted, "inserted", inserted, "duplicates", int64(len(txns))-inserted)
	prom.IncIngestJob("completed")
	prom.AddIngestJobDuration(time.Since(start).Seconds())

	p.onCompleted(ctx, job)
	return nil
}

func (p *IngestionProcessor) onCompleted(ctx context.Context, job model.IngestionJob) {
	p.notify(ctx, job, model.NewSuccessMail(p.mailFrom, job.UserEmail))
	p.cleanup(ctx, job)
}

// OnFailed runs once per job after its last attempt failed.
func (p *IngestionProcessor) OnFailed(ctx context.Context, msg *queue.Message, cause error) {
	job, err := decodeJob(msg)
	if err != nil {
		logger.Error("failed job has an unreadable payload", "message_id", msg.ID, "error", err, "cause", cause)
		return
	}

	if done, err := p.idempotency.IsProcessed(ctx, job.JobID); err == nil && done {
		// a concurrent delivery of the same job already completed it
		logger.Warn("ignoring failure of a completed job", "job_id", job.JobID, "cause", cause)
		return
	}

	newIngestionRun(job, msg.Attempt()).enter(model.JobStateFailed, "error", cause)
	prom.IncIngestJob("failed")

	p.notify(ctx, job, model.NewFailureMail(p.mailFrom, job.UserEmail))
	p.cleanup(ctx, job)
}

func (p *IngestionProcessor) notify(ctx context.Context, job model.IngestionJob, mail model.Mail) {
	if err := p.notifier.Send(ctx, mail); err != nil {
		logger.Error("failed to send notification", "job_id", job.JobID, "to", job.UserEmail, "subject", mail.Subject, "error", err)
	}
}

func (p *IngestionProcessor) cleanup(ctx context.Context, job model.IngestionJob) {
	if err := p.blobs.Delete(ctx, job.FilePath); err != nil {
		logger.Error("failed to delete staged file", "job_id", job.JobID, "file_path", job.FilePath, "error", err)
	}
}

func decodeJob(msg *queue.Message) (model.IngestionJob, error) {
	var job model.IngestionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
