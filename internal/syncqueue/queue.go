// Package syncqueue implements C4's optional async path: instead of running
// a clinic's sync-cache pass inline on the HTTP request, /sync-cache enqueues
// a job and a Worker drains it in the background, recording progress in a
// JobStore so a caller can poll for the result.
//
// A real deployment points this at SQS + DynamoDB (NewSQSQueue, NewJobStore
// backed by a dynamodb.Client); local/dev runs set UseMemoryQueue so the same
// Worker drains an in-process channel instead, mirroring how the teacher's
// conversation worker falls back when USE_MEMORY_QUEUE is set.
package syncqueue

import "context"

// Message is one queued sync job, identified by JobID; the body carries
// nothing else, since Job itself is fetched from the JobStore.
type Message struct {
	JobID         string
	ReceiptHandle string
}

// Queue is the narrow interface a sync-job producer/consumer needs,
// satisfied by both MemoryQueue and SQSQueue.
type Queue interface {
	// Send enqueues jobID for later processing.
	Send(ctx context.Context, jobID string) error
	// Receive long-polls for up to maxMessages jobs, waiting up to
	// waitSeconds for at least one to arrive.
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error)
	// Delete acknowledges a message so it isn't redelivered.
	Delete(ctx context.Context, receiptHandle string) error
}
