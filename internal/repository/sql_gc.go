package repository

import (
	"context"
	"fmt"
	"time"

	"transhub/internal/logger"
	"transhub/internal/model"
)

// GarbageCollect prunes jobs whose last request date fell out of the
// retention window, then content rows left without a live job (cascade
// removes their translations), then contexts no surviving translation
// references. Date-based comparison keeps the cutoff reproducible across
// runs within the same day.
func (h *SQLHandler) GarbageCollect(ctx context.Context, retentionDays int, dryRun bool) (model.GCReport, error) {
	if retentionDays < 0 {
		return model.GCReport{}, fmt.Errorf("garbage collect: negative retention %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	var report model.GCReport

	// Counts are taken first so a dry run and the immediately following real
	// run report the same numbers on an idle system.
	err := h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`SELECT COUNT(*) FROM th_jobs WHERE substr(last_requested_at, 1, 10) < ?`),
		cutoff,
	).Scan(&report.DeletedJobs)
	if err != nil {
		return model.GCReport{}, fmt.Errorf("count stale jobs: %w", err)
	}

	// Content that would have no job left once stale jobs are gone.
	const orphanCond = `NOT EXISTS (
	   SELECT 1 FROM th_jobs j
	    WHERE j.content_id = c.id AND substr(j.last_requested_at, 1, 10) >= ?)`

	err = h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`SELECT COUNT(*) FROM th_content c WHERE `+orphanCond),
		cutoff,
	).Scan(&report.DeletedContent)
	if err != nil {
		return model.GCReport{}, fmt.Errorf("count orphaned content: %w", err)
	}

	err = h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`SELECT COUNT(*) FROM th_translations t
		 WHERE t.content_id IN (SELECT c.id FROM th_content c WHERE `+orphanCond+`)`),
		cutoff,
	).Scan(&report.DeletedTranslations)
	if err != nil {
		return model.GCReport{}, fmt.Errorf("count orphaned translations: %w", err)
	}

	// A context survives only while some translation on live content still
	// points at it.
	err = h.ext.QueryRowxContext(
		ctx,
		h.ext.Rebind(`SELECT COUNT(*) FROM th_contexts x
		 WHERE NOT EXISTS (
		   SELECT 1 FROM th_translations t
		    JOIN th_content c ON c.id = t.content_id
		    WHERE t.context_id = x.id AND EXISTS (
		      SELECT 1 FROM th_jobs j
		       WHERE j.content_id = c.id AND substr(j.last_requested_at, 1, 10) >= ?))`),
		cutoff,
	).Scan(&report.DeletedContexts)
	if err != nil {
		return model.GCReport{}, fmt.Errorf("count orphaned contexts: %w", err)
	}

	if dryRun {
		return report, nil
	}

	if _, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`DELETE FROM th_jobs WHERE substr(last_requested_at, 1, 10) < ?`),
		cutoff,
	); err != nil {
		return model.GCReport{}, fmt.Errorf("delete stale jobs: %w", err)
	}

	if _, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`DELETE FROM th_content WHERE id IN (
		   SELECT c.id FROM th_content c
		    WHERE NOT EXISTS (SELECT 1 FROM th_jobs j WHERE j.content_id = c.id))`),
	); err != nil {
		return model.GCReport{}, fmt.Errorf("delete orphaned content: %w", err)
	}

	if _, err := h.ext.ExecContext(
		ctx,
		h.ext.Rebind(`DELETE FROM th_contexts WHERE NOT EXISTS (
		   SELECT 1 FROM th_translations t WHERE t.context_id = th_contexts.id)`),
	); err != nil {
		return model.GCReport{}, fmt.Errorf("delete orphaned contexts: %w", err)
	}

	logger.Info("garbage collection done", "module", "repository", "action", "gc", "resource", "content", "result", "ok",
		"jobs", report.DeletedJobs, "content", report.DeletedContent,
		"translations", report.DeletedTranslations, "contexts", report.DeletedContexts)
	return report, nil
}
