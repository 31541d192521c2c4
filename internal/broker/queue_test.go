package broker

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
)

func openTestQueue(t *testing.T, name string) *Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := OpenQueue(db, name)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestEnqueueDequeuePriorityOrder(t *testing.T) {
	q := openTestQueue(t, "prio")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("low"), EnqueueOptions{Priority: 10}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := q.Enqueue(ctx, nil, []byte("high"), EnqueueOptions{Priority: 1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := q.Enqueue(ctx, nil, []byte("medium"), EnqueueOptions{Priority: 5}); err != nil {
		t.Fatal(err)
	}

	msgs, err := q.Dequeue(ctx, 3, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"high", "medium", "low"} {
		if string(msgs[i].Payload) != want {
			t.Fatalf("position %d = %q, want %q", i, msgs[i].Payload, want)
		}
	}
}

func TestEnqueueSamePrioritySequenceOrder(t *testing.T) {
	q := openTestQueue(t, "fifo")
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if _, _, err := q.Enqueue(ctx, nil, []byte(p), EnqueueOptions{Priority: 5}); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := q.Dequeue(ctx, 3, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(msgs[i].Payload) != want {
			t.Fatalf("position %d = %q, want %q", i, msgs[i].Payload, want)
		}
	}
}

func TestIdempotentEnqueueByJobID(t *testing.T) {
	q := openTestQueue(t, "idem")
	ctx := context.Background()

	seq1, dup1, err := q.Enqueue(ctx, nil, []byte("one"), EnqueueOptions{JobID: "job-1", Priority: 5})
	if err != nil {
		t.Fatal(err)
	}
	if dup1 {
		t.Fatalf("first enqueue reported duplicate")
	}
	seq2, dup2, err := q.Enqueue(ctx, nil, []byte("two"), EnqueueOptions{JobID: "job-1", Priority: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !dup2 || seq2 != seq1 {
		t.Fatalf("duplicate enqueue: seq=%d dup=%v, want seq=%d dup=true", seq2, dup2, seq1)
	}

	msgs, err := q.Dequeue(ctx, 10, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if string(msgs[0].Payload) != "one" {
		t.Fatalf("payload = %q, want original", msgs[0].Payload)
	}
}

func TestDelayedEnqueueBecomesAvailable(t *testing.T) {
	q := openTestQueue(t, "delay")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("later"), EnqueueOptions{Priority: 5, DelayMs: 50}); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Dequeue(ctx, 1, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message delivered before delay elapsed")
	}

	time.Sleep(80 * time.Millisecond)
	msgs, err = q.Dequeue(ctx, 1, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "later" {
		t.Fatalf("delayed message not delivered: %v", msgs)
	}
}

func TestFailRetrySchedulesAndCountsAttempts(t *testing.T) {
	q := openTestQueue(t, "retry")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("flaky"), EnqueueOptions{Priority: 5}); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Dequeue(ctx, 1, 30_000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("dequeue: %v %v", msgs, err)
	}
	if msgs[0].Attempts != 0 {
		t.Fatalf("first delivery attempts = %d, want 0", msgs[0].Attempts)
	}
	if err := q.Fail(ctx, msgs[0].Seq, 20, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	msgs, err = q.Dequeue(ctx, 1, 30_000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("redelivery: %v %v", msgs, err)
	}
	if msgs[0].Attempts != 1 {
		t.Fatalf("redelivery attempts = %d, want 1", msgs[0].Attempts)
	}
}

func TestFailToDLQ(t *testing.T) {
	q := openTestQueue(t, "dlq")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("doomed"), EnqueueOptions{Priority: 5}); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Dequeue(ctx, 1, 30_000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("dequeue: %v %v", msgs, err)
	}
	if err := q.Fail(ctx, msgs[0].Seq, 0, true); err != nil {
		t.Fatal(err)
	}

	dead, err := q.DeadLetters(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || string(dead[0].Payload) != "doomed" {
		t.Fatalf("dead letters = %v", dead)
	}
	// message must not come back
	if msgs, _ := q.Dequeue(ctx, 1, 30_000); len(msgs) != 0 {
		t.Fatalf("dead-lettered message redelivered")
	}
}

func TestReclaimExpiredLease(t *testing.T) {
	q := openTestQueue(t, "reclaim")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("stuck"), EnqueueOptions{Priority: 3}); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Dequeue(ctx, 1, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("dequeue: %v %v", msgs, err)
	}

	time.Sleep(30 * time.Millisecond)
	n, err := q.ReclaimExpired(ctx, time.Now().UnixMilli(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}
	msgs, err = q.Dequeue(ctx, 1, 30_000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("redelivery after reclaim: %v %v", msgs, err)
	}
	if string(msgs[0].Payload) != "stuck" {
		t.Fatalf("payload = %q", msgs[0].Payload)
	}
}

func TestCompleteRemovesMessage(t *testing.T) {
	q := openTestQueue(t, "complete")
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, nil, []byte("done"), EnqueueOptions{Priority: 5}); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Dequeue(ctx, 1, 30_000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("dequeue: %v %v", msgs, err)
	}
	if err := q.Complete(ctx, msgs[0].Seq); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.ReclaimExpired(ctx, time.Now().UnixMilli()+60_000, 100); n != 0 {
		t.Fatalf("completed message reclaimed")
	}
}
