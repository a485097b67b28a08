// Package scheduler drives the background worker loop: on a fixed interval
// it rescues stale TRANSLATING rows, drains pending translations per
// configured language, and prunes aged rows.
package scheduler

import (
	"context"
	"sync"
	"time"

	"transhub/internal/coordinator"
	"transhub/internal/logger"
	"transhub/internal/model"
)

// staleAfter is the watchdog threshold for rows stuck in TRANSLATING by a
// crashed or cancelled worker.
const staleAfter = 10 * time.Minute

type Scheduler struct {
	coord      *coordinator.Coordinator
	langs      []string
	interval   time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc // cancels the current drain pass
	mu         sync.Mutex         // protects cancelFunc
}

func New(coord *coordinator.Coordinator, langs []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		coord:    coord,
		langs:    langs,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	logger.Info("scheduler started", "module", "scheduler", "action", "drain", "resource", "translation", "result", "ok",
		"interval_ms", s.interval.Milliseconds(), "langs", len(s.langs))
}

func (s *Scheduler) Stop() {
	// Cancel any ongoing drain pass first
	s.mu.Lock()
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logger.Info("scheduler stopped", "module", "scheduler", "action", "drain", "resource", "translation", "result", "ok")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.pass()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass()
		case <-s.stopCh:
			return
		}
	}
}

// pass runs one sweep-drain-prune cycle, bounded by the scheduler interval.
func (s *Scheduler) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)

	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelFunc = nil
		s.mu.Unlock()
	}()

	if rescued, err := s.coord.Handler().ResetStaleTranslating(ctx, staleAfter); err != nil {
		logger.Warn("stale sweep failed", "module", "scheduler", "action", "sweep", "resource", "translation", "result", "failed", "error", err)
	} else if rescued > 0 {
		logger.Info("stale rows rescued", "module", "scheduler", "action", "sweep", "resource", "translation", "result", "ok", "count", rescued)
	}

	for _, lang := range s.langs {
		s.drainLang(ctx, lang)
		if ctx.Err() != nil {
			return
		}
	}

	if report, err := s.coord.RunGarbageCollection(ctx, 0, false); err != nil {
		logger.Warn("gc failed", "module", "scheduler", "action", "gc", "resource", "content", "result", "failed", "error", err)
	} else if report.DeletedJobs+report.DeletedContent > 0 {
		logger.Info("gc done", "module", "scheduler", "action", "gc", "resource", "content", "result", "ok",
			"jobs", report.DeletedJobs, "content", report.DeletedContent, "translations", report.DeletedTranslations)
	}

	if stats, err := s.coord.Handler().GetStats(ctx); err == nil {
		logger.Debug("queue stats", "module", "scheduler", "action", "stats", "resource", "translation", "result", "ok",
			"pending", stats.Pending, "translating", stats.Translating, "translated", stats.Translated, "failed", stats.Failed)
	}
}

func (s *Scheduler) drainLang(ctx context.Context, lang string) {
	results, errs := s.coord.ProcessPending(ctx, lang, coordinator.ProcessOptions{})

	var done, failed int
	for r := range results {
		if r.Status == model.StatusFailed {
			failed++
		} else {
			done++
		}
	}
	if err := <-errs; err != nil && ctx.Err() == nil {
		logger.Warn("drain failed", "module", "scheduler", "action", "drain", "resource", "translation", "result", "failed", "lang", lang, "error", err)
		return
	}
	if done+failed > 0 {
		logger.Info("drain done", "module", "scheduler", "action", "drain", "resource", "translation", "result", "ok",
			"lang", lang, "translated", done, "failed", failed)
	}
}
