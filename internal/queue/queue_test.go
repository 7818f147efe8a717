package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "")
}

func TestClaimRespectsDueTime(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	task := Task{DeliveryID: uuid.New(), CampaignID: uuid.New()}
	if err := q.Enqueue(ctx, task, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Claim(ctx, now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got != nil {
		t.Fatal("claimed a task before its due time")
	}

	got, err = q.Claim(ctx, now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got == nil {
		t.Fatal("ripe task not claimed")
	}
	if got.DeliveryID != task.DeliveryID {
		t.Errorf("claimed delivery = %s, want %s", got.DeliveryID, task.DeliveryID)
	}
}

func TestClaimPopsExactlyOnce(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, Task{DeliveryID: uuid.New()}, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, err := q.Claim(ctx, now)
	if err != nil || first == nil {
		t.Fatalf("first Claim = %v, %v", first, err)
	}
	second, err := q.Claim(ctx, now)
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if second != nil {
		t.Error("task claimed twice")
	}
}

func TestAckDropsLease(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	task := Task{DeliveryID: uuid.New(), CampaignID: uuid.New()}
	if err := q.Enqueue(ctx, task, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.Claim(ctx, now)
	if err != nil || got == nil {
		t.Fatalf("Claim = %v, %v", got, err)
	}
	if err := q.Ack(ctx, *got); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// An acked task must never come back, however stale the leases get.
	reaped, err := q.Reap(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if reaped != 0 {
		t.Errorf("reaped = %d, want 0 after ack", reaped)
	}
	if again, _ := q.Claim(ctx, now.Add(24*time.Hour)); again != nil {
		t.Error("acked task claimed again")
	}
}

func TestReapRestoresExpiredLease(t *testing.T) {
	q := newTestQueue(t)
	q.lease = time.Minute
	ctx := context.Background()
	now := time.Now()

	task := Task{DeliveryID: uuid.New(), CampaignID: uuid.New(), Attempt: 2}
	if err := q.Enqueue(ctx, task, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got, err := q.Claim(ctx, now); err != nil || got == nil {
		t.Fatalf("Claim = %v, %v", got, err)
	}

	// The lease still runs; the task is invisible, not lost.
	reaped, err := q.Reap(ctx, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if reaped != 0 {
		t.Errorf("reaped = %d before lease expiry, want 0", reaped)
	}
	if got, _ := q.Claim(ctx, now.Add(30*time.Second)); got != nil {
		t.Error("leased task claimed twice")
	}

	// Past the lease it goes back and is claimable at once, with the
	// attempt counter intact.
	reaped, err = q.Reap(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	got, err := q.Claim(ctx, now.Add(2*time.Minute))
	if err != nil || got == nil {
		t.Fatalf("Claim after reap = %v, %v", got, err)
	}
	if got.DeliveryID != task.DeliveryID || got.Attempt != 2 {
		t.Errorf("reaped task = %+v, want the original", got)
	}
}

func TestClaimOrdersByDueTime(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	late := Task{DeliveryID: uuid.New()}
	early := Task{DeliveryID: uuid.New()}
	q.Enqueue(ctx, late, now.Add(-time.Minute))
	q.Enqueue(ctx, early, now.Add(-time.Hour))

	got, err := q.Claim(ctx, now)
	if err != nil || got == nil {
		t.Fatalf("Claim = %v, %v", got, err)
	}
	if got.DeliveryID != early.DeliveryID {
		t.Error("claim order does not follow due time")
	}
}

func TestRequeueBumpsAttempt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := Task{DeliveryID: uuid.New(), Attempt: 1}
	if err := q.Requeue(ctx, task, 0); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	got, err := q.Claim(ctx, time.Now().Add(time.Second))
	if err != nil || got == nil {
		t.Fatalf("Claim = %v, %v", got, err)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}
}

func TestPurgeDropsOnlyOneCampaign(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	stopped := uuid.New()
	running := uuid.New()
	for range 3 {
		q.Enqueue(ctx, Task{DeliveryID: uuid.New(), CampaignID: stopped}, now)
	}
	q.Enqueue(ctx, Task{DeliveryID: uuid.New(), CampaignID: running}, now)

	removed, err := q.Purge(ctx, stopped)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	n, _ := q.Len(ctx)
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}
