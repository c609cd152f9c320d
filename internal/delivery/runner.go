package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fantasbr/hookline/internal/config"
	"github.com/fantasbr/hookline/internal/metrics"
	"github.com/fantasbr/hookline/internal/storage"
)

// Runner schedules delivery passes. Each pass reclaims stale entries,
// lists a batch of due ones and hands them to the worker with bounded
// parallelism.
type Runner struct {
	store   storage.Storage
	worker  *Worker
	metrics *metrics.Metrics
	log     zerolog.Logger
	cfg     config.DeliveryConfig

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewRunner(store storage.Storage, worker *Worker, m *metrics.Metrics, log zerolog.Logger, cfg config.DeliveryConfig) *Runner {
	return &Runner{
		store:   store,
		worker:  worker,
		metrics: m,
		log:     log,
		cfg:     cfg,
	}
}

// Start schedules passes using the configured cron expression and returns
// immediately. Overlapping passes are skipped rather than queued.
func (r *Runner) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.cfg.Schedule, func() {
		if !r.tryBegin() {
			r.log.Debug().Msg("previous delivery pass still running, skipping")
			return
		}
		defer r.end()
		r.RunPass(ctx)
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.log.Info().Str("schedule", r.cfg.Schedule).Msg("delivery runner started")
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.log.Info().Msg("delivery runner stopped")
}

func (r *Runner) tryBegin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// RunPass executes a single delivery pass. Entries still unstarted when
// the pass deadline expires stay pending for the next pass.
func (r *Runner) RunPass(ctx context.Context) {
	passCtx := ctx
	if r.cfg.PassDeadline > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.cfg.PassDeadline)
		defer cancel()
	}

	now := time.Now().UTC()

	if r.cfg.StaleAfter > 0 {
		n, err := r.store.ReclaimStaleEntries(passCtx, now.Add(-r.cfg.StaleAfter))
		if err != nil {
			r.log.Error().Err(err).Msg("failed to reclaim stale queue entries")
		} else if n > 0 {
			r.log.Warn().Int64("count", n).Msg("reclaimed stale processing entries")
		}
	}

	entries, err := r.store.ListDueEntries(passCtx, now, r.cfg.BatchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list due queue entries")
		return
	}
	if len(entries) > 0 {
		r.log.Debug().Int("count", len(entries)).Msg("processing due queue entries")
	}

	parallel := r.cfg.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	for i := range entries {
		if passCtx.Err() != nil {
			break
		}
		entry := entries[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.worker.Process(passCtx, &entry)
		}()
	}
	wg.Wait()

	if counts, err := r.store.QueueCounts(ctx); err == nil {
		for status, n := range counts {
			r.metrics.SetQueueDepth(string(status), n)
		}
	}
	r.metrics.RecordPass()
}
