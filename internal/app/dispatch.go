package app

import (
	"context"
	"time"
)

// Dispatch drains the due backlog once, after reclaiming stuck sends.
// With RetryFailed set it first requeues FAILED events to READY.
func (a *App) Dispatch(ctx context.Context, opts DispatchOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	batch := opts.BatchSize
	if batch <= 0 {
		batch = a.Config.Dispatch.BatchSize
	}

	now := time.Now().UTC()

	if opts.RetryFailed {
		requeued, err := store.RequeueFailed(ctx, now)
		if err != nil {
			return err
		}
		a.Logger.Info().Int64("requeued", requeued).Msg("FAILED events moved back to READY")
	}

	dispatcher, coord := a.newDispatchPair(store)

	recovered, err := coord.RecoverStuckSending(ctx, now)
	if err != nil {
		return err
	}
	if recovered > 0 {
		a.Logger.Warn().Int("recovered", recovered).Msg("stuck SENDING events recovered")
	}

	result, err := dispatcher.Drain(ctx, now, batch)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("processed", result.Processed).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("one-shot dispatch finished")
	return nil
}
