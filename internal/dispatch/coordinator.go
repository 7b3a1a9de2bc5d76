package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"savingbee-alerts/internal/storage"
)

const sendingTimeoutReason = "SENDING timeout"

// Coordinator claims events for sending and reclaims events stuck mid-send.
type Coordinator struct {
	events  storage.EventStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCoordinator constructs a Coordinator. timeout bounds how long an
// event may sit in SENDING before it is considered abandoned.
func NewCoordinator(events storage.EventStore, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{
		events:  events,
		timeout: timeout,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// ClaimSending transitions an event to SENDING. The transition is a single
// conditional update allowed only from READY or FAILED; a false return
// means another worker already holds the event.
func (c *Coordinator) ClaimSending(ctx context.Context, eventID int64, now time.Time) (bool, error) {
	return c.events.ClaimSending(ctx, eventID, now)
}

// RecoverStuckSending forces SENDING events idle beyond the timeout to
// FAILED with the attempt count incremented. This is the liveness
// mechanism that reclaims events abandoned by a crashed or hung sender.
func (c *Coordinator) RecoverStuckSending(ctx context.Context, now time.Time) (int, error) {
	stuck, err := c.events.FindStuckSending(ctx, now.Add(-c.timeout))
	if err != nil {
		return 0, fmt.Errorf("find stuck sending: %w", err)
	}

	recovered := 0
	for _, event := range stuck {
		if err := c.events.MarkFailed(ctx, event.ID, sendingTimeoutReason, now); err != nil {
			// A concurrent sender finished the event between the read and
			// the update; nothing left to recover.
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return recovered, fmt.Errorf("fail stuck event %d: %w", event.ID, err)
		}
		recovered++
		c.logger.Warn().Int64("event_id", event.ID).
			Time("last_update", event.UpdatedAt).
			Msg("recovered stuck SENDING event")
	}
	return recovered, nil
}
