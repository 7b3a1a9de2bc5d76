package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/notify"
	"savingbee-alerts/internal/storage"
)

// Result summarises one dispatch call. Processed counts only events this
// call actually claimed.
type Result struct {
	Processed int
	Sent      int
	Failed    int
}

func (r *Result) add(other Result) {
	r.Processed += other.Processed
	r.Sent += other.Sent
	r.Failed += other.Failed
}

// Dispatcher pulls due events in batches and drives each to a terminal state.
type Dispatcher struct {
	events    storage.EventStore
	coord     *Coordinator
	transport notify.Transport
	logger    zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(events storage.EventStore, coord *Coordinator, transport notify.Transport, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		events:    events,
		coord:     coord,
		transport: transport,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchNow processes up to batchSize due READY events in creation
// order. A delivery failure is recorded on the event and never aborts
// the batch.
func (d *Dispatcher) DispatchNow(ctx context.Context, now time.Time, batchSize int) (Result, error) {
	if batchSize <= 0 {
		return Result{}, fmt.Errorf("batch size must be positive")
	}

	due, err := d.events.FindReadyDue(ctx, now, batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("find due events: %w", err)
	}

	var result Result
	for _, event := range due {
		claimed, err := d.coord.ClaimSending(ctx, event.ID, now)
		if err != nil {
			return result, fmt.Errorf("claim event %d: %w", event.ID, err)
		}
		if !claimed {
			// Another worker got there first.
			continue
		}
		result.Processed++

		if sendErr := d.transport.Send(ctx, event); sendErr != nil {
			result.Failed++
			d.logger.Error().Err(sendErr).
				Int64("event_id", event.ID).
				Str("product_code", event.ProductCode).
				Msg("delivery failed")
			if err := d.events.MarkFailed(ctx, event.ID, sendErr.Error(), now); err != nil {
				return result, fmt.Errorf("mark event %d failed: %w", event.ID, err)
			}
			continue
		}

		result.Sent++
		if err := d.events.MarkSent(ctx, event.ID, now); err != nil {
			return result, fmt.Errorf("mark event %d sent: %w", event.ID, err)
		}
	}

	return result, nil
}

// Drain calls DispatchNow until a call claims fewer events than the batch
// size, exhausting the backlog for the current delivery window.
func (d *Dispatcher) Drain(ctx context.Context, now time.Time, batchSize int) (Result, error) {
	var total Result
	for {
		result, err := d.DispatchNow(ctx, now, batchSize)
		total.add(result)
		if err != nil {
			return total, err
		}
		if result.Processed < batchSize {
			break
		}
	}

	d.logger.Info().
		Int("processed", total.Processed).
		Int("sent", total.Sent).
		Int("failed", total.Failed).
		Msg("queue drained")
	return total, nil
}
