// Package cache holds the process-local fingerprint cache for finished
// translations. Persistence stays authoritative; the cache only short-cuts
// repeat engine calls within one process.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is one cached translation outcome. OriginalText and SourceLang are
// set on business-alias entries so a cached lookup can rebuild the full
// result; fingerprint entries leave them empty because the caller already
// holds the source text.
type Entry struct {
	TranslatedText string
	OriginalText   string
	SourceLang     string
	Engine         string
	EngineVersion  string
	StoredAt       time.Time
}

// TranslationCache is an LRU with per-entry TTL keyed by the translation
// fingerprint. A nil cache is valid and always misses.
type TranslationCache struct {
	lru *expirable.LRU[string, Entry]
}

// New builds a cache bounded to maxSize entries with the given TTL.
// maxSize 0 means unbounded, ttl 0 means entries never expire.
func New(maxSize int, ttl time.Duration) *TranslationCache {
	return &TranslationCache{lru: expirable.NewLRU[string, Entry](maxSize, nil, ttl)}
}

// Get returns the entry under fingerprint, if present and not expired.
func (c *TranslationCache) Get(fingerprint string) (Entry, bool) {
	if c == nil || c.lru == nil {
		return Entry{}, false
	}
	return c.lru.Get(fingerprint)
}

// Put stores a successful translation under its fingerprint.
func (c *TranslationCache) Put(fingerprint, translatedText, engineName, engineVersion string) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(fingerprint, Entry{
		TranslatedText: translatedText,
		Engine:         engineName,
		EngineVersion:  engineVersion,
		StoredAt:       time.Now(),
	})
}

// PutEntry stores a prebuilt entry under fingerprint. StoredAt is stamped
// when the caller left it zero.
func (c *TranslationCache) PutEntry(fingerprint string, e Entry) {
	if c == nil || c.lru == nil {
		return
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	c.lru.Add(fingerprint, e)
}

// Len reports the number of live entries.
func (c *TranslationCache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry.
func (c *TranslationCache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Purge()
}
