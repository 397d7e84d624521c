package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/clinicvoice/scheduler/pkg/logging"
)

// Outcome is what a Runner reports back for one processed job.
type Outcome struct {
	SyncType string
	Updated  int
	Errors   int
	Duration time.Duration
}

// Runner executes one clinic's sync pass. internal/http/voice adapts its
// *sync.Syncer + per-clinic pms.Client lookup to this interface so this
// package never needs to know about PMS clients.
type Runner interface {
	Run(ctx context.Context, clinicID string, forceFullSync bool) (Outcome, error)
}

// Worker drains Queue in a loop, running each job through Runner and
// recording the outcome in JobStore. One Worker runs per process regardless
// of queue backend: with MemoryQueue it drains the same process's producer,
// with SQSQueue it can run standalone against a shared queue.
type Worker struct {
	queue       Queue
	jobs        *JobStore
	runner      Runner
	logger      *logging.Logger
	maxMessages int
	waitSeconds int
}

// NewWorker builds a Worker. maxMessages/waitSeconds bound each Receive
// call's batch size and long-poll duration.
func NewWorker(queue Queue, jobs *JobStore, runner Runner, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{queue: queue, jobs: jobs, runner: runner, logger: logger, maxMessages: 10, waitSeconds: 20}
}

// Run blocks, processing jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := w.queue.Receive(ctx, w.maxMessages, w.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			w.logger.Error("syncqueue worker: receive failed", "error", err)
			continue
		}

		for _, msg := range messages {
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg Message) {
	defer func() {
		if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			w.logger.Warn("syncqueue worker: failed to delete message", "job_id", msg.JobID, "error", err)
		}
	}()

	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		w.logger.Error("syncqueue worker: failed to load job", "job_id", msg.JobID, "error", err)
		return
	}

	outcome, err := w.runner.Run(ctx, job.ClinicID, job.ForceFullSync)
	if err != nil {
		w.logger.Warn("syncqueue worker: sync failed", "job_id", msg.JobID, "clinic_id", job.ClinicID, "error", err)
		if markErr := w.jobs.MarkFailed(ctx, msg.JobID, err.Error()); markErr != nil {
			w.logger.Error("syncqueue worker: failed to record failure", "job_id", msg.JobID, "error", markErr)
		}
		return
	}

	if markErr := w.jobs.MarkCompleted(ctx, msg.JobID, outcome.SyncType, outcome.Updated, outcome.Errors, outcome.Duration); markErr != nil {
		w.logger.Error("syncqueue worker: failed to record completion", "job_id", msg.JobID, "error", markErr)
	}
}
