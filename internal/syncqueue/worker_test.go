package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/clinicvoice/scheduler/pkg/logging"
)

type stubRunner struct {
	outcome Outcome
	err     error
	calls   []string
}

func (r *stubRunner) Run(_ context.Context, clinicID string, _ bool) (Outcome, error) {
	r.calls = append(r.calls, clinicID)
	return r.outcome, r.err
}

func TestWorker_ProcessCompletesJobAndDeletesMessage(t *testing.T) {
	mock := &mockDynamo{}
	jobs := NewJobStore(mock, "sync_jobs", logging.Default())

	item, err := attributevalue.MarshalMap(Job{JobID: "job-1", ClinicID: "clinic-1", State: JobPending})
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}
	mock.getOutput = &dynamodb.GetItemOutput{Item: item}

	queue := NewMemoryQueue(1)
	runner := &stubRunner{outcome: Outcome{SyncType: "incremental", Updated: 2, Duration: 10 * time.Millisecond}}
	worker := NewWorker(queue, jobs, runner, logging.Default())

	worker.process(context.Background(), Message{JobID: "job-1", ReceiptHandle: "r1"})

	if len(runner.calls) != 1 || runner.calls[0] != "clinic-1" {
		t.Fatalf("expected runner to be invoked with clinic-1, got %v", runner.calls)
	}
	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected one completion update, got %d", len(mock.updateInputs))
	}
}

func TestWorker_ProcessMarksFailureOnRunnerError(t *testing.T) {
	mock := &mockDynamo{}
	jobs := NewJobStore(mock, "sync_jobs", logging.Default())

	item, _ := attributevalue.MarshalMap(Job{JobID: "job-2", ClinicID: "clinic-2", State: JobPending})
	mock.getOutput = &dynamodb.GetItemOutput{Item: item}

	queue := NewMemoryQueue(1)
	runner := &stubRunner{err: errors.New("pms unreachable")}
	worker := NewWorker(queue, jobs, runner, logging.Default())

	worker.process(context.Background(), Message{JobID: "job-2", ReceiptHandle: "r2"})

	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected one failure update, got %d", len(mock.updateInputs))
	}
}

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	if err := q.Send(ctx, "job-a"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := q.Send(ctx, "job-b"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestMemoryQueue_ReceiveRespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx, 1, 0); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
