// Package engine defines the translation engine contract and the batch
// orchestration shared by every concrete engine. An engine only has to
// translate one text; fan-out, ordering, panic containment and the context
// and source-language policies live here.
package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"transhub/internal/logger"
	"transhub/internal/model"
)

// Info describes a concrete engine.
type Info struct {
	Name               string
	Version            string
	AcceptsContext     bool
	RequiresSourceLang bool
	// MaxConcurrency bounds TranslateBatch fan-out. Zero means sequential.
	MaxConcurrency int
}

// Engine is the contract every concrete engine satisfies. TranslateOne must
// return expected failures as typed results, never as errors or panics.
// Initialize and Close are idempotent.
type Engine interface {
	Info() Info
	TranslateOne(ctx context.Context, text, targetLang, sourceLang string, contextPayload model.Payload) model.EngineResult
	Initialize(ctx context.Context) error
	Close() error
}

// ContextValidator is implemented by engines that declare a context model.
// A validation failure fails the whole batch as non-retryable.
type ContextValidator interface {
	ValidateContext(payload model.Payload) error
}

// TranslateBatch translates texts preserving input order: result i belongs
// to texts[i], and the output length always equals the input length.
func TranslateBatch(ctx context.Context, eng Engine, texts []string, targetLang, sourceLang string, contextPayload model.Payload) []model.EngineResult {
	results := make([]model.EngineResult, len(texts))
	if len(texts) == 0 {
		return results
	}

	info := eng.Info()

	if info.RequiresSourceLang && sourceLang == "" {
		fillFailure(results, "source_lang required", false)
		return results
	}

	if info.AcceptsContext && contextPayload != nil {
		if v, ok := eng.(ContextValidator); ok {
			if err := v.ValidateContext(contextPayload); err != nil {
				fillFailure(results, fmt.Sprintf("invalid context: %v", err), false)
				return results
			}
		}
	}

	limit := info.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			results[i] = translateGuarded(gctx, eng, text, targetLang, sourceLang, contextPayload)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// translateGuarded converts a panicking TranslateOne into a retryable error
// so one misbehaving engine call cannot take down the worker.
func translateGuarded(ctx context.Context, eng Engine, text, targetLang, sourceLang string, contextPayload model.Payload) (result model.EngineResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine panic recovered", "module", "engine", "action", "translate", "resource", eng.Info().Name, "result", "failed", "panic", fmt.Sprint(r))
			result = model.EngineFailure(fmt.Sprintf("engine panic: %v", r), true)
		}
	}()
	if err := ctx.Err(); err != nil {
		return model.EngineFailure(err.Error(), true)
	}
	return eng.TranslateOne(ctx, text, targetLang, sourceLang, contextPayload)
}

func fillFailure(results []model.EngineResult, message string, retryable bool) {
	for i := range results {
		results[i] = model.EngineFailure(message, retryable)
	}
}
