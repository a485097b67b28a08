// Package coordinator exposes the public localization API: registering
// translation requests, draining pending work through the processing policy,
// serving stored translations, and housekeeping. The coordinator exclusively
// owns the engine instance, the cache, the rate limiter and the persistence
// handle.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"transhub/internal/cache"
	"transhub/internal/config"
	"transhub/internal/engine"
	"transhub/internal/hashing"
	"transhub/internal/logger"
	"transhub/internal/model"
	"transhub/internal/ratelimit"
	"transhub/internal/repository"
)

// langCodeRe accepts BCP-47-ish tags: a 2-3 letter primary subtag plus
// optional alphanumeric subtags ("fr", "zh-CN", "sr-Latn-RS").
var langCodeRe = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]+)*$`)

// Coordinator orchestrates the request, persist, dispatch, retry, cache and
// return pipeline.
type Coordinator struct {
	cfg     config.Config
	handler repository.Handler
	cache   *cache.TranslationCache
	limiter *ratelimit.Limiter

	engineMu  sync.RWMutex
	active    engine.Engine
	engineCfg map[string]any

	// initialized flips under concurrent Close, so plain bool reads race.
	initialized atomic.Bool
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithHandler substitutes the persistence handler; the default is a
// SQLHandler built from the configured database URL.
func WithHandler(h repository.Handler) Option {
	return func(c *Coordinator) { c.handler = h }
}

// WithEngineConfig passes raw configuration to the active engine's factory.
func WithEngineConfig(cfg map[string]any) Option {
	return func(c *Coordinator) { c.engineCfg = cfg }
}

// New builds a coordinator from cfg. Initialize must be called before use.
func New(cfg config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		cache:   cache.New(cfg.CacheConfig.MaxSize, cfg.CacheConfig.TTL),
		limiter: ratelimit.New(cfg.RateLimiter.RefillRate, cfg.RateLimiter.Capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = repository.NewSQLHandler(cfg.DatabaseURL, cfg.AuditEnabled)
	}
	return c
}

// Initialize opens persistence and instantiates the configured engine.
func (c *Coordinator) Initialize(ctx context.Context) error {
	ctx = ensureCorrelation(ctx)
	if c.initialized.Load() {
		return nil
	}

	if err := c.handler.Connect(ctx); err != nil {
		return fmt.Errorf("%w: storage: %v", ErrConfiguration, err)
	}

	eng, err := engine.Create(c.cfg.ActiveEngine, c.engineCfg)
	if err != nil {
		_ = c.handler.Close()
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := eng.Initialize(ctx); err != nil {
		_ = c.handler.Close()
		return fmt.Errorf("%w: engine %q: %v", ErrConfiguration, c.cfg.ActiveEngine, err)
	}

	c.engineMu.Lock()
	c.active = eng
	c.engineMu.Unlock()
	c.initialized.Store(true)

	logger.FromContext(ctx).Info("coordinator initialized", "module", "coordinator", "action", "init", "resource", "coordinator", "result", "ok",
		"engine", eng.Info().Name, "engine_version", eng.Info().Version)
	return nil
}

// Close releases the engine and the persistence handle. Idempotent.
func (c *Coordinator) Close() error {
	if !c.initialized.CompareAndSwap(true, false) {
		return nil
	}

	c.engineMu.Lock()
	eng := c.active
	c.active = nil
	c.engineMu.Unlock()

	var firstErr error
	if eng != nil {
		if err := eng.Close(); err != nil {
			firstErr = fmt.Errorf("close engine: %w", err)
		}
	}
	if err := c.handler.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close storage: %w", err)
	}
	return firstErr
}

// RequestInput is one translation registration.
type RequestInput struct {
	TargetLangs []string
	// Text is the plain-string shorthand; Payload wins when both are set.
	Text             string
	Payload          model.Payload
	BusinessID       string
	ContextPayload   model.Payload
	SourceLang       string
	ForceRetranslate bool
}

// Request normalizes, validates and durably registers a translation request:
// content upsert, context dedupe, PENDING rows per target language, and a
// job touch, all in one transaction.
func (c *Coordinator) Request(ctx context.Context, in RequestInput) error {
	ctx = ensureCorrelation(ctx)
	if !c.initialized.Load() {
		return ErrNotInitialized
	}

	payload := in.Payload
	if payload == nil {
		payload = model.TextPayload(in.Text)
	}
	if payload.Text() == "" {
		return fmt.Errorf("%w: payload text must not be empty", ErrValidation)
	}
	if len(in.TargetLangs) == 0 {
		return fmt.Errorf("%w: target languages must not be empty", ErrValidation)
	}
	for _, lang := range in.TargetLangs {
		if !langCodeRe.MatchString(lang) {
			return fmt.Errorf("%w: invalid language code %q", ErrValidation, lang)
		}
	}
	sourceLang := in.SourceLang
	if sourceLang == "" {
		sourceLang = c.cfg.SourceLang
	}

	businessID := in.BusinessID
	if businessID == "" {
		id, err := syntheticBusinessID(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		businessID = id
	}

	var created int64
	err := c.handler.InTx(ctx, func(h repository.Handler) error {
		contentID, err := h.UpsertContent(ctx, businessID, payload)
		if err != nil {
			return err
		}
		contextID, _, err := h.EnsureContext(ctx, in.ContextPayload)
		if err != nil {
			return err
		}
		created, err = h.EnsurePendingTranslations(ctx, contentID, contextID, in.TargetLangs, sourceLang, in.ForceRetranslate)
		if err != nil {
			return err
		}
		return h.TouchJob(ctx, contentID)
	})
	if err != nil {
		return fmt.Errorf("register request: %w", err)
	}

	logger.FromContext(ctx).Info("request registered", "module", "coordinator", "action", "request", "resource", "content", "result", "ok",
		"business_id", businessID, "langs", len(in.TargetLangs), "new_pending", created, "force", in.ForceRetranslate)
	return nil
}

// GetTranslation serves a stored translation, preferring the in-memory cache
// and falling back to persistence (which then populates the cache). A hit is
// reported with FromCache set since no fresh engine call produced it.
func (c *Coordinator) GetTranslation(ctx context.Context, businessID, targetLang string, contextPayload model.Payload) (*model.TranslationResult, error) {
	ctx = ensureCorrelation(ctx)
	if !c.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if !langCodeRe.MatchString(targetLang) {
		return nil, fmt.Errorf("%w: invalid language code %q", ErrValidation, targetLang)
	}

	contextHash, err := hashing.ContextHash(contextPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	aliasKey := businessAliasKey(businessID, targetLang, contextHash)
	if entry, ok := c.cache.Get(aliasKey); ok {
		text := entry.TranslatedText
		return &model.TranslationResult{
			BusinessID:     businessID,
			OriginalText:   entry.OriginalText,
			TranslatedText: &text,
			TargetLang:     targetLang,
			SourceLang:     entry.SourceLang,
			Status:         model.StatusTranslated,
			Engine:         entry.Engine,
			EngineVersion:  entry.EngineVersion,
			FromCache:      true,
			ContextHash:    contextHash,
		}, nil
	}

	result, err := c.handler.GetTranslation(ctx, businessID, targetLang, contextPayload)
	if err != nil || result == nil {
		return result, err
	}

	if result.Status == model.StatusTranslated && result.TranslatedText != nil {
		c.cache.PutEntry(aliasKey, cache.Entry{
			TranslatedText: *result.TranslatedText,
			OriginalText:   result.OriginalText,
			SourceLang:     result.SourceLang,
			Engine:         result.Engine,
			EngineVersion:  result.EngineVersion,
		})
		// Also seed the text fingerprint so a forced reprocess of the same
		// text short-cuts the engine.
		fp := hashing.Fingerprint(targetLang, result.SourceLang, contextHash, result.OriginalText)
		c.cache.Put(fp, *result.TranslatedText, result.Engine, result.EngineVersion)
		result.FromCache = true
	}
	return result, nil
}

// SwitchEngine replaces the active engine by registry lookup, closing the
// previous instance and initializing the new one.
func (c *Coordinator) SwitchEngine(ctx context.Context, name string, engineCfg map[string]any) error {
	ctx = ensureCorrelation(ctx)
	if !c.initialized.Load() {
		return ErrNotInitialized
	}

	next, err := engine.Create(name, engineCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := next.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: engine %q: %v", ErrConfiguration, name, err)
	}

	c.engineMu.Lock()
	prev := c.active
	c.active = next
	c.engineCfg = engineCfg
	c.engineMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			logger.FromContext(ctx).Warn("previous engine close failed", "module", "coordinator", "action", "switch", "resource", prev.Info().Name, "result", "failed", "error", err)
		}
	}
	logger.FromContext(ctx).Info("engine switched", "module", "coordinator", "action", "switch", "resource", name, "result", "ok")
	return nil
}

// RunGarbageCollection prunes aged jobs and orphaned content. retentionDays
// of 0 or below falls back to the configured default.
func (c *Coordinator) RunGarbageCollection(ctx context.Context, retentionDays int, dryRun bool) (model.GCReport, error) {
	ctx = ensureCorrelation(ctx)
	if !c.initialized.Load() {
		return model.GCReport{}, ErrNotInitialized
	}
	if retentionDays <= 0 {
		retentionDays = c.cfg.GCRetentionDays
	}
	return c.handler.GarbageCollect(ctx, retentionDays, dryRun)
}

// Engine returns the current active engine.
func (c *Coordinator) Engine() engine.Engine {
	c.engineMu.RLock()
	defer c.engineMu.RUnlock()
	return c.active
}

// Handler exposes the persistence handle for embedding applications.
func (c *Coordinator) Handler() repository.Handler {
	return c.handler
}

// syntheticBusinessID derives a stable id for requests made without one, so
// repeating the same payload converges on the same content row.
func syntheticBusinessID(payload model.Payload) (string, error) {
	canon, err := hashing.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return "auto:" + hex.EncodeToString(sum[:16]), nil
}

// businessAliasKey addresses the cache by business identity for lookups that
// do not know the source text.
func businessAliasKey(businessID, targetLang, contextHash string) string {
	return hashing.Fingerprint(targetLang, "", contextHash, "business:"+businessID)
}

func ensureCorrelation(ctx context.Context) context.Context {
	if logger.CorrelationID(ctx) != "" {
		return ctx
	}
	return logger.WithCorrelationID(ctx, uuid.NewString())
}
