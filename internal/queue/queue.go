// Package queue is a Redis-backed delayed task queue for delivery sends.
// Tasks live in a sorted set scored by their due time, so pacing delays
// cost nothing while they wait and workers only ever see ripe tasks.
// Claims move tasks to an in-flight set under a lease; a task is gone
// for good only once it is acked, so a worker dying mid-send loses
// nothing. Redelivery is possible and the pending-status check on the
// delivery row keeps it harmless.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task is one scheduled send. Attempt starts at 0 and increments on every
// requeue after a transient failure.
type Task struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Attempt    int       `json:"attempt"`
}

// claimScript pops the oldest ripe member and parks it in the in-flight
// set under a lease deadline, atomically, so two workers can never claim
// the same task.
var claimScript = redis.NewScript(`
	local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #items == 0 then
		return false
	end
	redis.call('ZREM', KEYS[1], items[1])
	redis.call('ZADD', KEYS[2], ARGV[2], items[1])
	return items[1]
`)

// reapScript moves every lease past its deadline back into the queue.
var reapScript = redis.NewScript(`
	local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	for _, item in ipairs(items) do
		redis.call('ZREM', KEYS[1], item)
		redis.call('ZADD', KEYS[2], ARGV[1], item)
	end
	return #items
`)

// defaultLease must outlive the worker's send timeout, or a slow send
// gets redelivered while still running.
const defaultLease = 5 * time.Minute

// Queue schedules and claims delivery tasks.
type Queue struct {
	rdb        redis.UniversalClient
	key        string
	processing string
	lease      time.Duration
}

// New creates a queue on the given key, "emailer:queue:sends" when empty.
// Claimed tasks wait on "<key>:processing" until acked or reaped.
func New(rdb redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = "emailer:queue:sends"
	}
	return &Queue{rdb: rdb, key: key, processing: key + ":processing", lease: defaultLease}
}

// Enqueue schedules a task to become claimable at dueAt.
func (q *Queue) Enqueue(ctx context.Context, t Task, dueAt time.Time) error {
	member, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	err = q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Claim pops one task whose due time has passed and leases it. The task
// stays leased until Ack drops it or Reap returns it to the queue. It
// returns (nil, nil) when nothing is ripe; callers poll.
func (q *Queue) Claim(ctx context.Context, now time.Time) (*Task, error) {
	res, err := claimScript.Run(ctx, q.rdb, []string{q.key, q.processing},
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(now.Add(q.lease).Unix(), 10)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("claim task: unexpected reply %T", res)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// Ack drops a claimed task's lease once processing finished. Skipping it
// means the task comes back after the lease expires.
func (q *Queue) Ack(ctx context.Context, t Task) error {
	member, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.ZRem(ctx, q.processing, string(member)).Err(); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// Reap returns every task whose lease expired to the queue, immediately
// claimable. It reports how many came back; workers that died mid-send
// surface here.
func (q *Queue) Reap(ctx context.Context, now time.Time) (int, error) {
	res, err := reapScript.Run(ctx, q.rdb, []string{q.processing, q.key},
		strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("reap leases: %w", err)
	}
	n, _ := res.(int64)
	return int(n), nil
}

// Requeue reschedules a task after a transient failure, bumping its
// attempt counter.
func (q *Queue) Requeue(ctx context.Context, t Task, delay time.Duration) error {
	t.Attempt++
	return q.Enqueue(ctx, t, time.Now().Add(delay))
}

// Len reports how many tasks are waiting, ripe or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Purge drops every queued task for a campaign. Used when a campaign is
// stopped so already-paced sends do not fire later.
func (q *Queue) Purge(ctx context.Context, campaignID uuid.UUID) (int, error) {
	members, err := q.rdb.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("purge scan: %w", err)
	}
	removed := 0
	for _, raw := range members {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		if t.CampaignID != campaignID {
			continue
		}
		if err := q.rdb.ZRem(ctx, q.key, raw).Err(); err != nil {
			return removed, fmt.Errorf("purge task: %w", err)
		}
		removed++
	}
	return removed, nil
}
