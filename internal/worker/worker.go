// Package worker runs the send loop: it claims ripe delivery tasks off
// the queue, renders them, and pushes them through the provider router.
package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
	"github.com/idoneo/emailer/internal/provider"
	"github.com/idoneo/emailer/internal/queue"
	"github.com/idoneo/emailer/internal/store"
)

// Composer renders the outgoing message for one delivery. The emailer
// facade implements it with the campaign content, the Liquid renderer,
// and tracking injection.
type Composer interface {
	Compose(ctx context.Context, campaign *domain.Campaign, d *domain.Delivery) (*provider.Message, error)
}

// Config tunes the runtime. Zero values fall back to the defaults noted
// per field.
type Config struct {
	Workers      int           // 4
	PollInterval time.Duration // 1s
	SendTimeout  time.Duration // 120s
	MaxRetries   int           // 3
	RetryDelay   time.Duration // 30s
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 120 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	return c
}

// Stats is a snapshot of the runtime counters.
type Stats struct {
	Sent    int64
	Failed  int64
	Skipped int64
	Retried int64
}

// Runtime is the worker pool.
type Runtime struct {
	store    store.Store
	queue    *queue.Queue
	router   *provider.Router
	composer Composer
	cfg      Config

	sent    atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	retried atomic.Int64

	wg sync.WaitGroup
}

// New creates a Runtime.
func New(st store.Store, q *queue.Queue, r *provider.Router, c Composer, cfg Config) *Runtime {
	return &Runtime{store: st, queue: q, router: r, composer: c, cfg: cfg.withDefaults()}
}

// Run starts the pool and blocks until ctx is cancelled and every worker
// has drained its current task.
func (rt *Runtime) Run(ctx context.Context) {
	logger.Info("worker pool starting", "workers", itoa(rt.cfg.Workers))
	for i := 0; i < rt.cfg.Workers; i++ {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.loop(ctx)
		}()
	}
	rt.wg.Wait()
	s := rt.Stats()
	logger.Info("worker pool stopped",
		"sent", i64toa(s.Sent), "failed", i64toa(s.Failed), "skipped", i64toa(s.Skipped))
}

func (rt *Runtime) loop(ctx context.Context) {
	for {
		processed, err := rt.ProcessNext(ctx)
		if err != nil {
			logger.Error("process task failed", "error", err.Error())
		}
		if processed {
			continue
		}
		// Idle moments pay for crash recovery: leases of workers that
		// died mid-send go back to the queue here.
		if _, err := rt.queue.Reap(ctx, time.Now()); err != nil {
			logger.Error("reap expired leases failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(rt.cfg.PollInterval):
		}
	}
}

// ProcessNext claims and processes at most one ripe task. It reports
// whether a task was claimed; (false, nil) means the queue had nothing
// ripe.
func (rt *Runtime) ProcessNext(ctx context.Context) (bool, error) {
	task, err := rt.queue.Claim(ctx, time.Now())
	if err != nil || task == nil {
		return false, err
	}
	rt.process(ctx, *task)
	if err := rt.queue.Ack(ctx, *task); err != nil {
		logger.Error("ack task failed", "delivery_id", task.DeliveryID.String(), "error", err.Error())
	}
	return true, nil
}

func (rt *Runtime) process(ctx context.Context, task queue.Task) {
	d, err := rt.store.DeliveryByID(ctx, task.DeliveryID)
	if err != nil {
		logger.Warn("task for unknown delivery", "delivery_id", task.DeliveryID.String())
		rt.skipped.Add(1)
		return
	}
	if d.Status != domain.DeliveryPending {
		rt.skipped.Add(1)
		return
	}

	campaign, err := rt.store.CampaignByID(ctx, d.CampaignID)
	if err != nil || !campaign.IsActive() {
		logger.Info("skipping delivery for inactive campaign",
			"delivery_id", d.ID.String(), "campaign_id", d.CampaignID.String())
		rt.skipped.Add(1)
		return
	}

	// A stop/start cycle can requeue tasks ahead of their pacing slot.
	if d.ScheduledAt != nil && d.ScheduledAt.After(time.Now()) {
		if err := rt.queue.Enqueue(ctx, task, *d.ScheduledAt); err != nil {
			logger.Error("requeue ahead-of-schedule task failed", "error", err.Error())
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, rt.cfg.SendTimeout)
	defer cancel()

	msg, err := rt.composer.Compose(sendCtx, campaign, d)
	if err != nil {
		rt.fail(ctx, task, d, err)
		return
	}
	if err := rt.router.Deliver(sendCtx, d, msg); err != nil {
		if errors.Is(err, domain.ErrNoRecipient) {
			// Already marked errored by the router; nothing to retry.
			rt.failed.Add(1)
			return
		}
		rt.fail(ctx, task, d, err)
		return
	}
	rt.sent.Add(1)
}

// fail retries a transient failure with a delay, and errors the delivery
// out once the attempt budget is spent.
func (rt *Runtime) fail(ctx context.Context, task queue.Task, d *domain.Delivery, cause error) {
	if task.Attempt+1 < rt.cfg.MaxRetries {
		logger.Warn("send failed, retrying",
			"delivery_id", d.ID.String(), "attempt", itoa(task.Attempt+1), "error", cause.Error())
		if err := rt.queue.Requeue(ctx, task, rt.cfg.RetryDelay); err != nil {
			logger.Error("requeue failed", "delivery_id", d.ID.String(), "error", err.Error())
		}
		rt.retried.Add(1)
		return
	}

	logger.Error("send failed permanently",
		"delivery_id", d.ID.String(), "attempts", itoa(task.Attempt+1), "error", cause.Error())
	if err := rt.store.MarkError(ctx, d.ID); err != nil {
		logger.Error("mark error failed", "delivery_id", d.ID.String(), "error", err.Error())
	}
	rt.failed.Add(1)
}

// Stats returns a snapshot of the counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Sent:    rt.sent.Load(),
		Failed:  rt.failed.Load(),
		Skipped: rt.skipped.Load(),
		Retried: rt.retried.Load(),
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

func i64toa(n int64) string { return strconv.FormatInt(n, 10) }
