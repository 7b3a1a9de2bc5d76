package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/storage"
)

func fixtureEvent() storage.AlertEvent {
	payload, _ := json.Marshal(Payload{
		ProductName: "12M Fixed Deposit",
		BankName:    "First Bank",
		TermMonths:  12,
		BaseRate:    "2.50",
		PrefRate:    "3.00",
		Method:      "SIMPLE",
		Channel:     "telegram",
	})
	return storage.AlertEvent{
		ID:          7,
		SettingID:   1,
		Trigger:     storage.TriggerProductChange,
		ProductKind: storage.KindDeposit,
		ProductCode: "DP-001",
		Payload:     payload,
		DedupKey:    "1:PRODUCT_CHANGE:DEPOSIT:DP-001:1700000000000",
		Status:      storage.StatusSending,
	}
}

func TestTelegramTransportSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := transport.Send(context.Background(), fixtureEvent()); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "12M Fixed Deposit") {
		t.Fatalf("message should mention the product, got %q", text)
	}
	if !strings.Contains(text, "3.00%") {
		t.Fatalf("message should carry the preferential rate, got %q", text)
	}
}

func TestTelegramTransportNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := transport.Send(context.Background(), fixtureEvent()); err == nil {
		t.Fatal("ok=false must be an error")
	}
}

func TestTelegramTransportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := transport.Send(context.Background(), fixtureEvent()); err == nil {
		t.Fatal("HTTP 502 must be an error")
	}
}

func TestRenderMessageWithoutPreferentialRate(t *testing.T) {
	event := fixtureEvent()
	snapshot, err := DecodePayload(event.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	snapshot.PrefRate = ""

	text := RenderMessage(event, snapshot)
	if !strings.Contains(text, "Rate: 2.50%") {
		t.Fatalf("base rate should be used when no preferential rate, got %q", text)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload([]byte("not json")); err == nil {
		t.Fatal("expected a decode error")
	}
}
