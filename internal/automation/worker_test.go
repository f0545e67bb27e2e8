package automation

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
}

func (p *recordingProcessor) Process(_ context.Context, job Job) (Outcome, error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	n := len(p.jobs)
	p.mu.Unlock()
	if n == 2 {
		close(p.done)
	}
	return OutcomeReplied, nil
}

func TestWorkerProcessesQueuedJobs(t *testing.T) {
	queue := NewMemoryQueue(8)
	proc := &recordingProcessor{done: make(chan struct{})}

	for _, id := range []string{"m1", "m2"} {
		_, body, err := encodeJob(Job{ConnectionID: "acct", MessageID: id})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := queue.Send(context.Background(), body); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	// An undecodable job is dropped without reaching the processor.
	if err := queue.Send(context.Background(), `{"id":"x"}`); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(proc, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	w.Start(ctx)

	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process jobs")
	}
	cancel()
	w.Wait()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.jobs) != 2 || proc.jobs[0].MessageID != "m1" || proc.jobs[1].MessageID != "m2" {
		t.Fatalf("unexpected jobs: %+v", proc.jobs)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue should be drained, has %d", queue.Len())
	}
}

func TestWorkerOptionsClamp(t *testing.T) {
	w := NewWorker(&recordingProcessor{}, NewMemoryQueue(1), nil,
		WithWorkerCount(0),
		WithReceiveWaitSeconds(90),
		WithReceiveBatchSize(50),
	)
	if w.cfg.workers != defaultWorkerCount {
		t.Fatalf("workers = %d", w.cfg.workers)
	}
	if w.cfg.receiveWaitSecs != maxWaitSeconds || w.cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("unexpected config: %+v", w.cfg)
	}
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty receive, got %v %v", msgs, err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatalf("receive returned too early")
	}
}

func TestDecodeJobRequiresIdentifiers(t *testing.T) {
	if _, err := decodeJob(`{"id":"1","connection_id":"acct"}`); err == nil {
		t.Fatalf("expected error for missing message id")
	}
	if _, err := decodeJob(`not json`); err == nil {
		t.Fatalf("expected decode error")
	}
	job, err := decodeJob(`{"id":"1","connection_id":"acct","message_id":"m"}`)
	if err != nil || job.MessageID != "m" {
		t.Fatalf("unexpected job %+v %v", job, err)
	}
}
