// Package hashing implements the canonical JSON encoding and the derived
// hashes that key context deduplication and the in-memory translation cache.
// The encoding is load-bearing: keys sorted ascending by code point, no
// whitespace, strings normalized to NFC, numbers in their minimal form. Any
// change breaks cross-version cache compatibility.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"transhub/internal/model"
)

// fingerprintSep joins fingerprint fields; 0x1F is the ASCII unit separator
// and cannot occur in a language tag or hex hash.
const fingerprintSep = "\x1f"

// ContextHash returns the SHA-256 hex digest of the canonicalized payload,
// or model.GlobalContextSentinel for a nil or empty payload.
func ContextHash(payload model.Payload) (string, error) {
	if len(payload) == 0 {
		return model.GlobalContextSentinel, nil
	}
	canon, err := Canonicalize(map[string]any(payload))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint derives the cache key for one translation task.
func Fingerprint(langCode, sourceLang, contextHash, text string) string {
	h := sha256.New()
	h.Write([]byte(langCode))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(sourceLang))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(contextHash))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize encodes v as canonical JSON.
func Canonicalize(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		return writeString(b, t)
	case float64:
		return writeNumber(b, t)
	case float32:
		return writeNumber(b, float64(t))
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
	case json.Number:
		return writeNumberLiteral(b, t.String())
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeString(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case model.Payload:
		return writeCanonical(b, map[string]any(t))
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

func writeString(b *strings.Builder, s string) error {
	enc, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	b.Write(enc)
	return nil
}

func writeNumber(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonicalize: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeNumberLiteral(b *strings.Builder, lit string) error {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("canonicalize: bad number literal %q: %w", lit, err)
	}
	return writeNumber(b, f)
}
