package match

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/notify"
	"savingbee-alerts/internal/storage"
)

// Options tune matcher behaviour.
type Options struct {
	// SafetyMargin is subtracted from "now" both for the never-scanned
	// fallback and when advancing the watermark, to tolerate timestamp
	// precision and read-time skew between the scan and catalog writes.
	SafetyMargin time.Duration
	// SendHour/SendMinute define the daily delivery cutoff in Location.
	SendHour   int
	SendMinute int
	Location   *time.Location
	// ForceSince overrides every setting's watermark for this run. Used
	// by the scan CLI to re-evaluate a historical window.
	ForceSince *time.Time
}

// ScanReport summarises one scan run.
type ScanReport struct {
	Settings   int
	Candidates int
	Matched    int
	Enqueued   int
	Duplicates int
	Errors     int
}

// Matcher scans the catalog for changes and enqueues deduplicated events.
type Matcher struct {
	catalog  storage.CatalogStore
	settings storage.SettingStore
	events   storage.EventStore
	opts     Options
	rules    []kindRules
	logger   zerolog.Logger
}

// New constructs a Matcher.
func New(catalog storage.CatalogStore, settings storage.SettingStore, events storage.EventStore, opts Options, logger zerolog.Logger) *Matcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	return &Matcher{
		catalog:  catalog,
		settings: settings,
		events:   events,
		opts:     opts,
		rules:    []kindRules{depositRules(), savingsRules()},
		logger:   logger.With().Str("component", "matcher").Logger(),
	}
}

// ScanAndEnqueue evaluates every alert setting against catalog changes
// since its watermark. A failure on one setting is logged and does not
// stop the remaining settings.
func (m *Matcher) ScanAndEnqueue(ctx context.Context, now time.Time) (ScanReport, error) {
	settings, err := m.settings.ListSettings(ctx)
	if err != nil {
		return ScanReport{}, fmt.Errorf("list settings: %w", err)
	}

	report := ScanReport{Settings: len(settings)}
	for _, setting := range settings {
		if err := m.scanSetting(ctx, setting, now, &report); err != nil {
			report.Errors++
			m.logger.Error().Err(err).
				Int64("setting_id", setting.ID).
				Msg("setting scan failed; continuing with remaining settings")
		}
	}

	m.logger.Info().
		Int("settings", report.Settings).
		Int("candidates", report.Candidates).
		Int("matched", report.Matched).
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Msg("scan completed")
	return report, nil
}

func (m *Matcher) scanSetting(ctx context.Context, setting storage.AlertSetting, now time.Time, report *ScanReport) error {
	since := now.Add(-m.opts.SafetyMargin)
	if setting.LastEvaluatedAt != nil {
		since = *setting.LastEvaluatedAt
	}
	if m.opts.ForceSince != nil {
		since = *m.opts.ForceSince
	}

	for _, rules := range m.rules {
		if !rules.enabled(setting) {
			continue
		}

		candidates, err := m.collectCandidates(ctx, rules.kind, since)
		if err != nil {
			return err
		}
		report.Candidates += len(candidates)

		for _, product := range candidates {
			option, ok := m.evaluate(product, setting, rules)
			if !ok {
				continue
			}
			report.Matched++

			inserted, err := m.enqueue(ctx, setting, product, option, now)
			if err != nil {
				return err
			}
			if inserted {
				report.Enqueued++
			} else {
				report.Duplicates++
			}
		}
	}

	// The watermark moves only after every candidate for this setting has
	// been processed, and keeps the same margin the fallback uses.
	watermark := now.Add(-m.opts.SafetyMargin)
	if err := m.settings.AdvanceWatermark(ctx, setting.ID, watermark); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// collectCandidates unions products whose own timestamp advanced with
// products whose rate options advanced, deduplicated by product code.
func (m *Matcher) collectCandidates(ctx context.Context, kind storage.ProductKind, since time.Time) ([]storage.Product, error) {
	changed, err := m.catalog.FindChangedSince(ctx, kind, since)
	if err != nil {
		return nil, fmt.Errorf("find changed products: %w", err)
	}

	seen := make(map[string]struct{}, len(changed))
	for _, p := range changed {
		seen[p.Code] = struct{}{}
	}

	codes, err := m.catalog.FindCodesWithOptionChanges(ctx, kind, since)
	if err != nil {
		return nil, fmt.Errorf("find option-changed codes: %w", err)
	}

	missing := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		missing = append(missing, code)
	}

	if len(missing) > 0 {
		extra, err := m.catalog.FindByCodes(ctx, kind, missing)
		if err != nil {
			return nil, fmt.Errorf("find products by codes: %w", err)
		}
		changed = append(changed, extra...)
	}

	return changed, nil
}

// evaluate applies the match predicate and returns the best rate row on a match.
func (m *Matcher) evaluate(product storage.Product, setting storage.AlertSetting, rules kindRules) (storage.RateOption, bool) {
	if !product.Active {
		return storage.RateOption{}, false
	}
	if setting.TermMonths <= 0 {
		return storage.RateOption{}, false
	}

	best, found := bestRateRow(product, setting, rules)
	if !found {
		return storage.RateOption{}, false
	}
	if comparisonRate(best).LessThan(setting.MinRate) {
		return storage.RateOption{}, false
	}
	if !rules.productOK(product, setting) {
		return storage.RateOption{}, false
	}
	return best, true
}

func (m *Matcher) enqueue(ctx context.Context, setting storage.AlertSetting, product storage.Product, option storage.RateOption, now time.Time) (bool, error) {
	version := product.UpdatedAt
	if option.UpdatedAt.After(version) {
		version = option.UpdatedAt
	}

	payload, err := encodePayload(product, option, setting)
	if err != nil {
		return false, err
	}

	event := storage.AlertEvent{
		SettingID:     setting.ID,
		Trigger:       storage.TriggerProductChange,
		ProductKind:   product.Kind,
		ProductCode:   product.Code,
		Payload:       payload,
		DedupKey:      DedupKey(setting.ID, storage.TriggerProductChange, product.Kind, product.Code, version),
		Status:        storage.StatusReady,
		SendNotBefore: NextSendTime(now, m.opts.SendHour, m.opts.SendMinute, m.opts.Location),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := m.events.TryInsertEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("enqueue event: %w", err)
	}
	if inserted {
		m.logger.Debug().
			Int64("setting_id", setting.ID).
			Str("product_code", product.Code).
			Str("dedup_key", event.DedupKey).
			Time("send_not_before", event.SendNotBefore).
			Msg("event enqueued")
	}
	return inserted, nil
}

// DedupKey builds the globally unique duplicate-suppression key. The
// version component is the later of the product and matched rate row
// timestamps, so a material change always yields a fresh key.
func DedupKey(settingID int64, trigger storage.TriggerKind, kind storage.ProductKind, code string, version time.Time) string {
	return fmt.Sprintf("%d:%s:%s:%s:%d", settingID, trigger, kind, code, version.UnixMilli())
}

func encodePayload(product storage.Product, option storage.RateOption, setting storage.AlertSetting) (json.RawMessage, error) {
	snapshot := notify.Payload{
		ProductName: product.Name,
		BankName:    product.BankName,
		TermMonths:  option.TermMonths,
		BaseRate:    option.BaseRate.String(),
		Method:      string(option.Method),
		Style:       string(option.Style),
		Channel:     setting.Channel,
	}
	if option.PrefRate != nil {
		snapshot.PrefRate = option.PrefRate.String()
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return raw, nil
}
