package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transhub/internal/config"
	"transhub/internal/coordinator"
	"transhub/internal/model"
	"transhub/internal/scheduler"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	cfg := config.Config{
		ActiveEngine:    "debug",
		DatabaseURL:     "sqlite://" + filepath.Join(t.TempDir(), "transhub.db"),
		BatchSize:       10,
		GCRetentionDays: 30,
		RetryPolicy: config.RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		CacheConfig: config.CacheConfig{MaxSize: 100, TTL: time.Minute},
	}
	c := coordinator.New(cfg)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestScheduler_DrainsPendingWork(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Request(ctx, coordinator.RequestInput{
		BusinessID:  "ui.scheduled",
		Text:        "Scheduled",
		TargetLangs: []string{"fr"},
	}))

	s := scheduler.New(c, []string{"fr"}, 50*time.Millisecond)
	s.Start()
	defer s.Stop()

	// The first pass runs immediately on start.
	require.Eventually(t, func() bool {
		stored, err := c.GetTranslation(ctx, "ui.scheduled", "fr", nil)
		return err == nil && stored != nil && stored.Status == model.StatusTranslated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_PicksUpLaterRequests(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	s := scheduler.New(c, []string{"fr"}, 20*time.Millisecond)
	s.Start()
	defer s.Stop()

	// Registered after the first pass; a later tick must drain it.
	require.NoError(t, c.Request(ctx, coordinator.RequestInput{
		BusinessID:  "ui.late",
		Text:        "Late",
		TargetLangs: []string{"fr"},
	}))

	require.Eventually(t, func() bool {
		stored, err := c.GetTranslation(ctx, "ui.late", "fr", nil)
		return err == nil && stored != nil && stored.Status == model.StatusTranslated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopIsPrompt(t *testing.T) {
	c := newTestCoordinator(t)

	s := scheduler.New(c, []string{"fr"}, time.Hour)
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
