package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"transhub/internal/db"
	"transhub/internal/hashing"
	"transhub/internal/logger"
	"transhub/internal/model"
	"transhub/internal/snowflake"
)

// SQLHandler implements Handler over database/sql via sqlx, supporting the
// SQLite and Postgres dialects behind one set of queries.
type SQLHandler struct {
	url     string
	audit   bool
	dialect db.Dialect
	conn    *sqlx.DB
	ext     sqlx.ExtContext
	// writeMu serializes the claim transaction on SQLite, where row-level
	// locking is not available.
	writeMu *sync.Mutex
}

// NewSQLHandler builds a handler for the given database URL. Connect must be
// called before use.
func NewSQLHandler(databaseURL string, auditEnabled bool) *SQLHandler {
	return &SQLHandler{
		url:     databaseURL,
		audit:   auditEnabled,
		writeMu: &sync.Mutex{},
	}
}

// Connect opens the database and applies pending migrations. Idempotent.
func (h *SQLHandler) Connect(ctx context.Context) error {
	if h.conn != nil {
		return nil
	}
	conn, dialect, err := db.Open(h.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	h.conn = conn
	h.ext = conn
	h.dialect = dialect
	logger.Info("storage connected", "module", "repository", "action", "connect", "resource", "db", "result", "ok", "dialect", string(dialect))
	return nil
}

// Close releases the database handle. Best effort.
func (h *SQLHandler) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	h.ext = nil
	return err
}

// InTx runs fn against a copy of the handler bound to one transaction.
func (h *SQLHandler) InTx(ctx context.Context, fn func(Handler) error) error {
	tx, err := h.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	bound := *h
	bound.ext = tx
	if err := fn(&bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (h *SQLHandler) UpsertContent(ctx context.Context, businessID string, payload model.Payload) (int64, error) {
	if payload.Text() == "" {
		return 0, ErrInvalidPayload
	}
	payloadJSON, err := payload.MarshalJSONString()
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	id := snowflake.NextID()
	now := formatTime(time.Now())

	var contentID int64
	err = h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`INSERT INTO th_content (id, business_id, source_payload_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(business_id) DO UPDATE SET
		   source_payload_json = excluded.source_payload_json,
		   updated_at = excluded.updated_at
		 WHERE th_content.source_payload_json != excluded.source_payload_json
		 RETURNING id`),
		id, businessID, payloadJSON, now, now,
	).Scan(&contentID)
	if err == sql.ErrNoRows {
		// Conflict with an identical payload: nothing was written.
		err = h.ext.QueryRowxContext(
			ctx,
			h.ext.Rebind(`SELECT id FROM th_content WHERE business_id = ?`),
			businessID,
		).Scan(&contentID)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert content: %w", err)
	}

	h.writeAudit(ctx, "content.upsert", "th_content", contentID, payloadJSON)
	return contentID, nil
}

func (h *SQLHandler) EnsureContext(ctx context.Context, payload model.Payload) (*int64, string, error) {
	hash, err := hashing.ContextHash(payload)
	if err != nil {
		return nil, "", fmt.Errorf("hash context: %w", err)
	}
	if hash == model.GlobalContextSentinel {
		return nil, hash, nil
	}

	// The canonical encoding is stored so a payload read back hashes to the
	// same value byte for byte.
	canon, err := hashing.Canonicalize(payload)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize context: %w", err)
	}

	id := snowflake.NextID()
	_, err = h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`INSERT INTO th_contexts (id, context_hash, context_payload_json, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(context_hash) DO NOTHING`),
		id, hash, canon, formatTime(time.Now()),
	)
	if err != nil {
		return nil, "", fmt.Errorf("ensure context: %w", err)
	}

	var contextID int64
	if err := h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`SELECT id FROM th_contexts WHERE context_hash = ?`),
		hash,
	).Scan(&contextID); err != nil {
		return nil, "", fmt.Errorf("lookup context: %w", err)
	}
	return &contextID, hash, nil
}

func (h *SQLHandler) EnsurePendingTranslations(ctx context.Context, contentID int64, contextID *int64, targetLangs []string, sourceLang string, force bool) (int64, error) {
	// The conflict target must name the partial index covering the row, so
	// the NULL-context and contextful cases need separate statements.
	const withContext = `INSERT INTO th_translations
	 (id, content_id, context_id, lang_code, source_lang, status, created_at, last_updated_at)
	 VALUES (?, ?, ?, ?, ?, 'PENDING', ?, ?)
	 ON CONFLICT(content_id, context_id, lang_code) WHERE context_id IS NOT NULL
	 DO UPDATE SET
	   status = 'PENDING',
	   source_lang = excluded.source_lang,
	   translation_payload_json = NULL,
	   engine = NULL,
	   engine_version = NULL,
	   error = NULL,
	   last_updated_at = excluded.last_updated_at
	 WHERE ? OR th_translations.status = 'FAILED'`

	const globalContext = `INSERT INTO th_translations
	 (id, content_id, context_id, lang_code, source_lang, status, created_at, last_updated_at)
	 VALUES (?, ?, NULL, ?, ?, 'PENDING', ?, ?)
	 ON CONFLICT(content_id, lang_code) WHERE context_id IS NULL
	 DO UPDATE SET
	   status = 'PENDING',
	   source_lang = excluded.source_lang,
	   translation_payload_json = NULL,
	   engine = NULL,
	   engine_version = NULL,
	   error = NULL,
	   last_updated_at = excluded.last_updated_at
	 WHERE ? OR th_translations.status = 'FAILED'`

	var total int64
	for _, lang := range targetLangs {
		now := formatTime(time.Now())
		var (
			res sql.Result
			err error
		)
		if contextID != nil {
			res, err = h.ext.ExecContext(ctx, h.ext.Rebind(withContext),
				snowflake.NextID(), contentID, *contextID, lang, nullableString(sourceLang), now, now, force)
		} else {
			res, err = h.ext.ExecContext(ctx, h.ext.Rebind(globalContext),
				snowflake.NextID(), contentID, lang, nullableString(sourceLang), now, now, force)
		}
		if err != nil {
			return total, fmt.Errorf("ensure pending %s: %w", lang, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (h *SQLHandler) TouchJob(ctx context.Context, contentID int64) error {
	_, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`INSERT INTO th_jobs (id, content_id, last_requested_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(content_id) DO UPDATE SET last_requested_at = excluded.last_requested_at`),
		snowflake.NextID(), contentID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

func (h *SQLHandler) GetStats(ctx context.Context) (model.Stats, error) {
	rows, err := h.ext.QueryxContext(ctx, `SELECT status, COUNT(*) FROM th_translations GROUP BY status`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("get stats: %w", err)
	}
	defer rows.Close()

	var stats model.Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return model.Stats{}, err
		}
		switch model.TranslationStatus(status) {
		case model.StatusPending:
			stats.Pending = count
		case model.StatusTranslating:
			stats.Translating = count
		case model.StatusTranslated:
			stats.Translated = count
		case model.StatusFailed:
			stats.Failed = count
		case model.StatusApproved:
			stats.Approved = count
		}
	}
	return stats, rows.Err()
}

func (h *SQLHandler) writeAudit(ctx context.Context, eventType, table string, recordID int64, details string) {
	if !h.audit {
		return
	}
	_, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`INSERT INTO th_audit_logs (id, event_id, event_type, table_name, record_id, timestamp, details_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		snowflake.NextID(), uuid.NewString(), eventType, table, fmt.Sprintf("%d", recordID), formatTime(time.Now()), details,
	)
	if err != nil {
		// Audit writes never fail the operation they describe.
		logger.Warn("audit write failed", "module", "repository", "action", "save", "resource", "audit", "result", "failed", "error", err)
	}
}

// transientStorageErr reports storage errors worth one in-operation retry,
// which on SQLite means lock contention despite busy_timeout.
func transientStorageErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
