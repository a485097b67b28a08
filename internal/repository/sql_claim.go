package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"transhub/internal/db"
	"transhub/internal/hashing"
	"transhub/internal/logger"
	"transhub/internal/model"
	"transhub/internal/snowflake"
)

// ClaimPendingBatch selects the oldest claimable rows for langCode and flips
// them to TRANSLATING inside one transaction. On Postgres row locks with
// SKIP LOCKED keep concurrent workers apart; on SQLite the process-wide
// write mutex serializes the whole claim.
func (h *SQLHandler) ClaimPendingBatch(ctx context.Context, langCode string, batchSize int, includeFailed bool) ([]model.ContentItem, error) {
	items, err := h.claimOnce(ctx, langCode, batchSize, includeFailed)
	if transientStorageErr(err) {
		items, err = h.claimOnce(ctx, langCode, batchSize, includeFailed)
	}
	return items, err
}

func (h *SQLHandler) claimOnce(ctx context.Context, langCode string, batchSize int, includeFailed bool) ([]model.ContentItem, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	if h.dialect == db.DialectSQLite {
		h.writeMu.Lock()
		defer h.writeMu.Unlock()
	}

	tx, err := h.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statuses := []string{string(model.StatusPending)}
	if includeFailed {
		statuses = append(statuses, string(model.StatusFailed))
	}

	query := `SELECT t.id, t.content_id, c.business_id, c.source_payload_json,
	       x.context_hash, x.context_payload_json, t.lang_code, t.source_lang
	  FROM th_translations t
	  JOIN th_content c ON c.id = t.content_id
	  LEFT JOIN th_contexts x ON x.id = t.context_id
	 WHERE t.lang_code = ? AND t.status IN (?)
	 ORDER BY t.last_updated_at ASC
	 LIMIT ?`
	query, args, err := sqlx.In(query, langCode, statuses, batchSize)
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}
	if h.dialect == db.DialectPostgres {
		query += " FOR UPDATE OF t SKIP LOCKED"
	}

	rows, err := tx.QueryxContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}

	var items []model.ContentItem
	var ids []int64
	for rows.Next() {
		var (
			item        model.ContentItem
			payloadJSON string
			ctxHash     sql.NullString
			ctxPayload  sql.NullString
			sourceLang  sql.NullString
		)
		if err := rows.Scan(&item.TranslationID, &item.ContentID, &item.BusinessID, &payloadJSON,
			&ctxHash, &ctxPayload, &item.TargetLang, &sourceLang); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimable: %w", err)
		}
		if item.SourcePayload, err = model.ParsePayload(payloadJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode source payload: %w", err)
		}
		item.ContextHash = model.GlobalContextSentinel
		if ctxHash.Valid {
			item.ContextHash = ctxHash.String
		}
		if ctxPayload.Valid {
			if item.ContextPayload, err = model.ParsePayload(ctxPayload.String); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode context payload: %w", err)
			}
		}
		item.SourceLang = sourceLang.String
		items = append(items, item)
		ids = append(ids, item.TranslationID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimable: %w", err)
	}

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	updateQ, updateArgs, err := sqlx.In(
		`UPDATE th_translations SET status = ?, last_updated_at = ? WHERE id IN (?)`,
		string(model.StatusTranslating), formatTime(time.Now()), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("build claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(updateQ), updateArgs...); err != nil {
		return nil, fmt.Errorf("mark translating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	logger.Debug("batch claimed", "module", "repository", "action", "claim", "resource", "translation", "result", "ok", "lang", langCode, "count", len(items))
	return items, nil
}

// SaveResults writes terminal outcomes back to their translation rows in one
// transaction (or the surrounding one when called inside InTx).
func (h *SQLHandler) SaveResults(ctx context.Context, results []model.TranslationResult) error {
	if len(results) == 0 {
		return nil
	}
	if _, inTx := h.ext.(*sqlx.Tx); inTx {
		return h.saveResults(ctx, h.ext, results)
	}
	err := h.InTx(ctx, func(bound Handler) error {
		b := bound.(*SQLHandler)
		return h.saveResults(ctx, b.ext, results)
	})
	if transientStorageErr(err) {
		err = h.InTx(ctx, func(bound Handler) error {
			b := bound.(*SQLHandler)
			return h.saveResults(ctx, b.ext, results)
		})
	}
	return err
}

func (h *SQLHandler) saveResults(ctx context.Context, ext sqlx.ExtContext, results []model.TranslationResult) error {
	const successQ = `UPDATE th_translations SET
	   status = ?, translation_payload_json = ?, engine = ?, engine_version = ?,
	   error = NULL, last_updated_at = ?
	 WHERE id = ?`
	const failureQ = `UPDATE th_translations SET
	   status = ?, error = ?, last_updated_at = ?
	 WHERE id = ?`

	now := formatTime(time.Now())
	for _, r := range results {
		if r.TranslationID == 0 {
			continue
		}
		var err error
		if r.Status == model.StatusTranslated {
			var payloadJSON string
			payloadJSON, err = r.TranslationPayload.MarshalJSONString()
			if err != nil {
				return fmt.Errorf("encode translation payload: %w", err)
			}
			_, err = ext.ExecContext(ctx, ext.Rebind(successQ),
				string(model.StatusTranslated), payloadJSON, nullableString(r.Engine), nullableString(r.EngineVersion), now, r.TranslationID)
		} else {
			_, err = ext.ExecContext(ctx, ext.Rebind(failureQ),
				string(r.Status), nullableString(r.Error), now, r.TranslationID)
		}
		if err != nil {
			return fmt.Errorf("save result %d: %w", r.TranslationID, err)
		}
		h.writeAudit(ctx, "translation."+string(r.Status), "th_translations", r.TranslationID, "")
	}
	return nil
}

// MoveToDLQ appends archive rows for tasks that exhausted their retries.
func (h *SQLHandler) MoveToDLQ(ctx context.Context, entries []model.DeadLetterEntry) error {
	const insertQ = `INSERT INTO th_dead_letter_queue
	 (id, translation_id, original_payload_json, context_payload_json,
	  target_lang_code, last_error_message, failed_at, engine_name, engine_version)
	 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, e := range entries {
		payloadJSON, err := e.OriginalPayload.MarshalJSONString()
		if err != nil {
			return fmt.Errorf("encode dlq payload: %w", err)
		}
		var contextJSON any
		if e.ContextPayload != nil {
			s, err := e.ContextPayload.MarshalJSONString()
			if err != nil {
				return fmt.Errorf("encode dlq context: %w", err)
			}
			contextJSON = s
		}
		var translationID any
		if e.TranslationID != nil {
			translationID = *e.TranslationID
		}
		failedAt := e.FailedAt
		if failedAt.IsZero() {
			failedAt = time.Now()
		}
		if _, err := h.ext.ExecContext(ctx, h.ext.Rebind(insertQ),
			snowflake.NextID(), translationID, payloadJSON, contextJSON,
			e.TargetLangCode, e.LastErrorMessage, formatTime(failedAt),
			nullableString(e.EngineName), nullableString(e.EngineVersion),
		); err != nil {
			return fmt.Errorf("append dlq: %w", err)
		}
	}
	return nil
}

// GetTranslation returns the stored result for one business id, language and
// context, or (nil, nil) when no row exists.
func (h *SQLHandler) GetTranslation(ctx context.Context, businessID, langCode string, contextPayload model.Payload) (*model.TranslationResult, error) {
	hash, err := hashing.ContextHash(contextPayload)
	if err != nil {
		return nil, fmt.Errorf("hash context: %w", err)
	}

	query := `SELECT t.id, c.business_id, c.source_payload_json, t.translation_payload_json,
	       t.lang_code, t.source_lang, t.status, t.engine, t.engine_version, t.error
	  FROM th_translations t
	  JOIN th_content c ON c.id = t.content_id
	  LEFT JOIN th_contexts x ON x.id = t.context_id
	 WHERE c.business_id = ? AND t.lang_code = ?`
	args := []any{businessID, langCode}
	if hash == model.GlobalContextSentinel {
		query += " AND t.context_id IS NULL"
	} else {
		query += " AND x.context_hash = ?"
		args = append(args, hash)
	}

	row := h.ext.QueryRowxContext(ctx, h.ext.Rebind(query), args...)

	var (
		result          model.TranslationResult
		sourceJSON      string
		translationJSON sql.NullString
		sourceLang      sql.NullString
		engine          sql.NullString
		engineVersion   sql.NullString
		errMsg          sql.NullString
		status          string
	)
	err = row.Scan(&result.TranslationID, &result.BusinessID, &sourceJSON, &translationJSON,
		&result.TargetLang, &sourceLang, &status, &engine, &engineVersion, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get translation: %w", err)
	}

	sourcePayload, err := model.ParsePayload(sourceJSON)
	if err != nil {
		return nil, fmt.Errorf("decode source payload: %w", err)
	}
	result.OriginalText = sourcePayload.Text()
	result.SourceLang = sourceLang.String
	result.Status = model.TranslationStatus(status)
	result.Engine = engine.String
	result.EngineVersion = engineVersion.String
	result.Error = errMsg.String
	result.ContextHash = hash
	if translationJSON.Valid {
		payload, err := model.ParsePayload(translationJSON.String)
		if err != nil {
			return nil, fmt.Errorf("decode translation payload: %w", err)
		}
		result.TranslationPayload = payload
		text := payload.Text()
		result.TranslatedText = &text
	}
	return &result, nil
}

// ResetStaleTranslating returns rows stuck in TRANSLATING longer than the
// watchdog threshold to PENDING.
func (h *SQLHandler) ResetStaleTranslating(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`UPDATE th_translations SET status = ?, last_updated_at = ?
		 WHERE status = ? AND last_updated_at < ?`),
		string(model.StatusPending), formatTime(time.Now()), string(model.StatusTranslating), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale translating: %w", err)
	}
	return res.RowsAffected()
}
