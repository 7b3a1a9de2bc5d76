package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"savingbee-alerts/internal/notify"
	"savingbee-alerts/internal/storage"
)

// SimulateAlert pushes a synthetic notification through the configured
// transport without touching the event queue.
func (a *App) SimulateAlert(ctx context.Context, productName, bankName string, termMonths int, baseRate, prefRate string) error {
	snapshot := notify.Payload{
		ProductName: productName,
		BankName:    bankName,
		TermMonths:  termMonths,
		BaseRate:    baseRate,
		PrefRate:    prefRate,
		Method:      string(storage.MethodSimple),
		Channel:     "simulated",
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode simulated payload: %w", err)
	}

	now := time.Now().UTC()
	event := storage.AlertEvent{
		Trigger:       storage.TriggerProductChange,
		ProductKind:   storage.KindDeposit,
		ProductCode:   "SIMULATED",
		Payload:       payload,
		DedupKey:      fmt.Sprintf("simulated:%d", now.UnixMilli()),
		Status:        storage.StatusReady,
		SendNotBefore: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	transport := a.newTransport()
	if err := transport.Send(ctx, event); err != nil {
		return fmt.Errorf("simulated delivery failed: %w", err)
	}

	a.Logger.Info().Str("product", productName).Msg("simulated alert delivered")
	return nil
}
