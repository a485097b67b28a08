package coordinator

import (
	"context"
	"time"

	"transhub/internal/logger"
	"transhub/internal/model"
	"transhub/internal/policy"
)

// ProcessOptions tunes one ProcessPending run. Zero values fall back to the
// coordinator's configuration.
type ProcessOptions struct {
	BatchSize      int
	Limit          int
	MaxRetries     int
	InitialBackoff time.Duration
	// IncludeFailed also claims FAILED rows, giving dead-lettered work
	// another chance after an operator intervention.
	IncludeFailed bool
}

// ProcessPending repeatedly claims batches for targetLang, groups each batch
// by context hash, runs the processing policy per group, and streams every
// finalized result. The stream ends when no claimable work remains or Limit
// results were produced; a failure is delivered on the error channel and
// both channels are closed. Cancelling ctx stops the run between batches.
func (c *Coordinator) ProcessPending(ctx context.Context, targetLang string, opts ProcessOptions) (<-chan model.TranslationResult, <-chan error) {
	resultCh := make(chan model.TranslationResult)
	errCh := make(chan error, 1)

	ctx = ensureCorrelation(ctx)
	log := logger.FromContext(ctx)

	if !c.initialized.Load() {
		errCh <- ErrNotInitialized
		close(resultCh)
		close(errCh)
		return resultCh, errCh
	}
	if !langCodeRe.MatchString(targetLang) {
		errCh <- ErrValidation
		close(resultCh)
		close(errCh)
		return resultCh, errCh
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}
	retry := c.cfg.RetryPolicy
	if opts.MaxRetries > 0 {
		retry.MaxAttempts = opts.MaxRetries
	}
	if opts.InitialBackoff > 0 {
		retry.InitialBackoff = opts.InitialBackoff
		if retry.MaxBackoff < retry.InitialBackoff {
			retry.MaxBackoff = retry.InitialBackoff
		}
	}

	go func() {
		defer close(resultCh)
		defer close(errCh)

		produced := 0
		for {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}

			claim := batchSize
			if opts.Limit > 0 && opts.Limit-produced < claim {
				claim = opts.Limit - produced
			}
			if claim <= 0 {
				return
			}

			batch, err := c.handler.ClaimPendingBatch(ctx, targetLang, claim, opts.IncludeFailed)
			if err != nil {
				errCh <- err
				return
			}
			if len(batch) == 0 {
				return
			}

			deps := policy.Deps{
				Engine:  c.Engine(),
				Cache:   c.cache,
				Limiter: c.limiter,
				Handler: c.handler,
				Retry:   retry,
			}

			for _, group := range groupByContext(batch) {
				results, err := policy.ProcessBatch(ctx, deps, group, targetLang)
				if err != nil {
					errCh <- err
					return
				}
				for _, r := range results {
					select {
					case resultCh <- r:
						produced++
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
			}

			log.Debug("batch processed", "module", "coordinator", "action", "process", "resource", "translation", "result", "ok",
				"lang", targetLang, "batch", len(batch), "produced", produced)

			if opts.Limit > 0 && produced >= opts.Limit {
				return
			}
		}
	}()

	return resultCh, errCh
}

// groupByContext splits a claimed batch into sub-batches sharing one context
// hash and one declared source language, preserving claim order within and
// across groups. The policy treats both as batch-wide, so items with a
// different source language must not ride in the same group.
func groupByContext(batch []model.ContentItem) [][]model.ContentItem {
	var order []string
	groups := make(map[string][]model.ContentItem)
	for _, item := range batch {
		key := item.ContextHash + "\x1f" + item.SourceLang
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], item)
	}
	out := make([][]model.ContentItem, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}
