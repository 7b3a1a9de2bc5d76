package app

import (
	"context"
	"time"
)

// Scan runs the matcher once and reports what it enqueued.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	matcher, err := a.newMatcher(store, opts.Since)
	if err != nil {
		return err
	}

	unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Scan.AdvisoryLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		a.Logger.Warn().Msg("another instance is scanning; nothing to do")
		return nil
	}
	defer unlock()

	report, err := matcher.ScanAndEnqueue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("settings", report.Settings).
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Msg("one-shot scan finished")
	return nil
}
