package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"savingbee-alerts/internal/storage"
)

// Payload is the compact snapshot stored on an event for rendering.
type Payload struct {
	ProductName string `json:"product_name"`
	BankName    string `json:"bank_name"`
	TermMonths  int    `json:"term_months"`
	BaseRate    string `json:"base_rate"`
	PrefRate    string `json:"pref_rate,omitempty"`
	Method      string `json:"method"`
	Style       string `json:"style,omitempty"`
	Channel     string `json:"channel"`
}

// DecodePayload parses an event payload snapshot.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode event payload: %w", err)
	}
	return p, nil
}

// RenderMessage formats one event as notification text.
func RenderMessage(event storage.AlertEvent, payload Payload) string {
	builder := strings.Builder{}
	builder.WriteString("[SavingBee Alert]\n")
	builder.WriteString(fmt.Sprintf("Product: %s (%s)\n", payload.ProductName, payload.BankName))
	builder.WriteString(fmt.Sprintf("Kind: %s\n", event.ProductKind))
	builder.WriteString(fmt.Sprintf("Term: %d months\n", payload.TermMonths))
	if payload.PrefRate != "" {
		builder.WriteString(fmt.Sprintf("Rate: %s%% (base %s%%)\n", payload.PrefRate, payload.BaseRate))
	} else {
		builder.WriteString(fmt.Sprintf("Rate: %s%%\n", payload.BaseRate))
	}
	if payload.Method != "" {
		builder.WriteString(fmt.Sprintf("Interest: %s\n", payload.Method))
	}
	if payload.Style != "" {
		builder.WriteString(fmt.Sprintf("Contribution: %s\n", payload.Style))
	}
	builder.WriteString(fmt.Sprintf("Code: %s\n", event.ProductCode))
	return builder.String()
}
