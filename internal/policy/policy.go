// Package policy implements the per-batch processing strategy: cache check,
// rate-limited engine call, retry with exponential backoff, dead-lettering
// on exhaustion, and a single persistence write for the whole batch. It is a
// pure function over injected dependencies and keeps no state between calls.
package policy

import (
	"context"
	"fmt"
	"time"

	"transhub/internal/cache"
	"transhub/internal/config"
	"transhub/internal/engine"
	"transhub/internal/hashing"
	"transhub/internal/logger"
	"transhub/internal/model"
	"transhub/internal/ratelimit"
	"transhub/internal/repository"
)

// Deps carries everything a batch needs, passed by value so the policy never
// holds a back-pointer into the coordinator.
type Deps struct {
	Engine  engine.Engine
	Cache   *cache.TranslationCache
	Limiter *ratelimit.Limiter
	Handler repository.Handler
	Retry   config.RetryPolicy
}

// pendingItem tracks one uncached task through the retry loop.
type pendingItem struct {
	pos     int
	item    model.ContentItem
	lastErr string
}

// ProcessBatch runs one batch of claimed tasks that share a context hash and
// returns their results in input order. Results are already persisted (and
// dead-lettered where applicable) when ProcessBatch returns.
func ProcessBatch(ctx context.Context, deps Deps, batch []model.ContentItem, targetLang string) ([]model.TranslationResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx)
	info := deps.Engine.Info()

	contextHash := batch[0].ContextHash
	contextPayload := batch[0].ContextPayload
	sourceLang := batch[0].SourceLang
	for _, item := range batch[1:] {
		if item.ContextHash != contextHash || item.SourceLang != sourceLang {
			// Grouping happens before the policy; reaching this is a
			// programmer error. The first item's values stay canonical.
			log.Error("mixed batch", "module", "policy", "action", "translate", "resource", "batch", "result", "failed",
				"canonical_context", contextHash, "got_context", item.ContextHash,
				"canonical_source", sourceLang, "got_source", item.SourceLang)
			break
		}
	}

	results := make([]model.TranslationResult, len(batch))
	var pending []pendingItem

	for i, item := range batch {
		fp := hashing.Fingerprint(targetLang, item.SourceLang, item.ContextHash, item.Text())
		if entry, ok := deps.Cache.Get(fp); ok {
			results[i] = successResult(item, targetLang, entry.TranslatedText, entry.Engine, entry.EngineVersion, true)
			continue
		}
		pending = append(pending, pendingItem{pos: i, item: item})
	}

	pending, err := runRetryLoop(ctx, deps, pending, results, targetLang, sourceLang, contextPayload)
	if err != nil {
		return nil, err
	}

	// Whatever is still pending exhausted its retries.
	var dlq []model.DeadLetterEntry
	for _, p := range pending {
		results[p.pos] = failureResult(p.item, targetLang, p.lastErr, info)
		dlq = append(dlq, deadLetter(p.item, targetLang, p.lastErr, info))
	}
	// New successes (not cache hits) feed the cache.
	for i, r := range results {
		if r.Status == model.StatusTranslated && !r.FromCache && r.TranslatedText != nil {
			fp := hashing.Fingerprint(targetLang, batch[i].SourceLang, batch[i].ContextHash, batch[i].Text())
			deps.Cache.Put(fp, *r.TranslatedText, r.Engine, r.EngineVersion)
		}
	}

	err = deps.Handler.InTx(ctx, func(h repository.Handler) error {
		if err := h.SaveResults(ctx, results); err != nil {
			return err
		}
		if len(dlq) > 0 {
			return h.MoveToDLQ(ctx, dlq)
		}
		return nil
	})
	if err != nil {
		// Affected rows stay TRANSLATING and fall to the recovery sweep.
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	return results, nil
}

// runRetryLoop drives the engine over the uncached subset, shrinking it as
// items succeed or fail terminally. It returns the items left pending after
// the last attempt, annotated with their last error.
func runRetryLoop(ctx context.Context, deps Deps, pending []pendingItem, results []model.TranslationResult, targetLang, sourceLang string, contextPayload model.Payload) ([]pendingItem, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx)
	info := deps.Engine.Info()
	maxAttempts := deps.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := deps.Limiter.Acquire(ctx, len(pending)); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}

		texts := make([]string, len(pending))
		for i, p := range pending {
			texts[i] = p.item.Text()
		}
		engineResults := engine.TranslateBatch(ctx, deps.Engine, texts, targetLang, sourceLang, contextPayload)

		var still []pendingItem
		for i, p := range pending {
			if i >= len(engineResults) {
				// Contract violation: treat the missing tail as retryable.
				p.lastErr = "engine contract violation"
				still = append(still, p)
				continue
			}
			res := engineResults[i]
			switch {
			case res.OK():
				results[p.pos] = successResult(p.item, targetLang, res.TranslatedText, info.Name, info.Version, false)
			case res.Err.Retryable:
				p.lastErr = res.Err.Message
				still = append(still, p)
			default:
				results[p.pos] = failureResult(p.item, targetLang, res.Err.Message, info)
			}
		}
		pending = still

		if len(pending) == 0 {
			return nil, nil
		}
		if attempt == maxAttempts {
			break
		}

		backoff := backoffDelay(deps.Retry, attempt)
		log.Warn("retrying batch subset", "module", "policy", "action", "translate", "resource", info.Name, "result", "retry",
			"attempt", attempt, "pending", len(pending), "backoff_ms", backoff.Milliseconds())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return pending, nil
}

func backoffDelay(retry config.RetryPolicy, attempt int) time.Duration {
	d := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if retry.MaxBackoff > 0 && d >= retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && d > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return d
}

func successResult(item model.ContentItem, targetLang, translatedText, engineName, engineVersion string, fromCache bool) model.TranslationResult {
	text := translatedText
	return model.TranslationResult{
		TranslationID:      item.TranslationID,
		BusinessID:         item.BusinessID,
		OriginalText:       item.Text(),
		TranslatedText:     &text,
		TranslationPayload: item.SourcePayload.WithText(translatedText),
		TargetLang:         targetLang,
		SourceLang:         item.SourceLang,
		Status:             model.StatusTranslated,
		Engine:             engineName,
		EngineVersion:      engineVersion,
		FromCache:          fromCache,
		ContextHash:        item.ContextHash,
	}
}

func failureResult(item model.ContentItem, targetLang, message string, info engine.Info) model.TranslationResult {
	return model.TranslationResult{
		TranslationID: item.TranslationID,
		BusinessID:    item.BusinessID,
		OriginalText:  item.Text(),
		TargetLang:    targetLang,
		SourceLang:    item.SourceLang,
		Status:        model.StatusFailed,
		Engine:        info.Name,
		EngineVersion: info.Version,
		Error:         message,
		ContextHash:   item.ContextHash,
	}
}

func deadLetter(item model.ContentItem, targetLang, message string, info engine.Info) model.DeadLetterEntry {
	id := item.TranslationID
	return model.DeadLetterEntry{
		TranslationID:    &id,
		OriginalPayload:  item.SourcePayload.Clone(),
		ContextPayload:   item.ContextPayload.Clone(),
		TargetLangCode:   targetLang,
		LastErrorMessage: message,
		FailedAt:         time.Now(),
		EngineName:       info.Name,
		EngineVersion:    info.Version,
	}
}
