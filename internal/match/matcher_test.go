package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"savingbee-alerts/internal/storage"
)

type fakeCatalog struct {
	products []storage.Product
	failKind storage.ProductKind
}

func (c *fakeCatalog) FindChangedSince(_ context.Context, kind storage.ProductKind, since time.Time) ([]storage.Product, error) {
	if c.failKind != "" && kind == c.failKind {
		return nil, errors.New("catalog unavailable")
	}
	var out []storage.Product
	for _, p := range c.products {
		if p.Kind == kind && p.UpdatedAt.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) FindCodesWithOptionChanges(_ context.Context, kind storage.ProductKind, since time.Time) ([]string, error) {
	if c.failKind != "" && kind == c.failKind {
		return nil, errors.New("catalog unavailable")
	}
	var codes []string
	for _, p := range c.products {
		if p.Kind != kind {
			continue
		}
		for _, opt := range p.Options {
			if opt.UpdatedAt.After(since) {
				codes = append(codes, p.Code)
				break
			}
		}
	}
	return codes, nil
}

func (c *fakeCatalog) FindByCodes(_ context.Context, kind storage.ProductKind, codes []string) ([]storage.Product, error) {
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		wanted[code] = struct{}{}
	}
	var out []storage.Product
	for _, p := range c.products {
		if p.Kind != kind {
			continue
		}
		if _, ok := wanted[p.Code]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSettings struct {
	items []storage.AlertSetting
}

func (s *fakeSettings) ListSettings(_ context.Context) ([]storage.AlertSetting, error) {
	out := make([]storage.AlertSetting, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *fakeSettings) AdvanceWatermark(_ context.Context, settingID int64, ts time.Time) error {
	for i := range s.items {
		if s.items[i].ID != settingID {
			continue
		}
		if s.items[i].LastEvaluatedAt == nil || s.items[i].LastEvaluatedAt.Before(ts) {
			value := ts
			s.items[i].LastEvaluatedAt = &value
		}
	}
	return nil
}

func (s *fakeSettings) watermark(settingID int64) *time.Time {
	for _, item := range s.items {
		if item.ID == settingID {
			return item.LastEvaluatedAt
		}
	}
	return nil
}

type fakeEvents struct {
	events []storage.AlertEvent
	nextID int64
}

func (e *fakeEvents) TryInsertEvent(_ context.Context, event storage.AlertEvent) (bool, error) {
	for _, existing := range e.events {
		if existing.DedupKey == event.DedupKey {
			return false, nil
		}
	}
	e.nextID++
	event.ID = e.nextID
	e.events = append(e.events, event)
	return true, nil
}

func (e *fakeEvents) FindReadyDue(_ context.Context, _ time.Time, _ int) ([]storage.AlertEvent, error) {
	return nil, nil
}

func (e *fakeEvents) FindStuckSending(_ context.Context, _ time.Time) ([]storage.AlertEvent, error) {
	return nil, nil
}

func (e *fakeEvents) ClaimSending(_ context.Context, _ int64, _ time.Time) (bool, error) {
	return false, nil
}

func (e *fakeEvents) MarkSent(_ context.Context, _ int64, _ time.Time) error { return nil }

func (e *fakeEvents) MarkFailed(_ context.Context, _ int64, _ string, _ time.Time) error { return nil }

func (e *fakeEvents) RequeueFailed(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (e *fakeEvents) ListRecentEvents(_ context.Context, _ int) ([]storage.AlertEvent, error) {
	return nil, nil
}

func (e *fakeEvents) CountEventsByDay(_ context.Context, _, _ time.Time) ([]storage.DayCount, error) {
	return nil, nil
}

func dec(s string) decimal.Decimal {
	value, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return value
}

func decPtr(s string) *decimal.Decimal {
	value := dec(s)
	return &value
}

func int64Ptr(v int64) *int64 { return &v }

func testOptions() Options {
	return Options{
		SafetyMargin: 5 * time.Minute,
		SendHour:     9,
		SendMinute:   0,
		Location:     time.UTC,
	}
}

func newTestMatcher(catalog *fakeCatalog, settings *fakeSettings, events *fakeEvents) *Matcher {
	return New(catalog, settings, events, testOptions(), zerolog.Nop())
}

func depositSetting() storage.AlertSetting {
	return storage.AlertSetting{
		ID:          1,
		UserID:      1,
		WantDeposit: true,
		MinRate:     dec("3.00"),
		Methods:     []storage.InterestMethod{storage.MethodSimple},
		TermMonths:  12,
		Channel:     "telegram",
	}
}

func depositProduct(updatedAt time.Time) storage.Product {
	return storage.Product{
		Kind:      storage.KindDeposit,
		Code:      "DP-001",
		Name:      "12M Fixed Deposit",
		BankName:  "First Bank",
		Active:    true,
		UpdatedAt: updatedAt,
		Options: []storage.RateOption{
			{
				TermMonths: 12,
				Method:     storage.MethodSimple,
				BaseRate:   dec("2.50"),
				PrefRate:   decPtr("3.00"),
				UpdatedAt:  updatedAt,
			},
		},
	}
}

func TestScanEnqueuesAndStaysIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{depositSetting()}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", report.Enqueued)
	}

	event := events.events[0]
	if event.Status != storage.StatusReady {
		t.Fatalf("new event must be READY, got %s", event.Status)
	}
	wantCutoff := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	if !event.SendNotBefore.Equal(wantCutoff) {
		t.Fatalf("expected send_not_before %v, got %v", wantCutoff, event.SendNotBefore)
	}

	// No catalog change: the second scan must yield zero new events even
	// though the safety margin makes the product a candidate again.
	second := now.Add(time.Hour)
	report, err = matcher.ScanAndEnqueue(context.Background(), second)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if report.Enqueued != 0 {
		t.Fatalf("second scan enqueued %d events, want 0", report.Enqueued)
	}
	if len(events.events) != 1 {
		t.Fatalf("event count changed on idempotent rescan: %d", len(events.events))
	}
}

func TestVersionChangeProducesNewEvent(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{depositSetting()}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	if _, err := matcher.ScanAndEnqueue(context.Background(), now); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	// The preferential rate changes with a newer timestamp: the version
	// component of the dedup key must change and produce one more event.
	later := now.Add(2 * time.Hour)
	catalog.products[0].Options[0].PrefRate = decPtr("3.50")
	catalog.products[0].Options[0].UpdatedAt = later.Add(-time.Minute)

	report, err := matcher.ScanAndEnqueue(context.Background(), later)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("expected 1 new event after rate change, got %d", report.Enqueued)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected 2 events total, got %d", len(events.events))
	}
	if events.events[0].DedupKey == events.events[1].DedupKey {
		t.Fatalf("dedup keys must differ after a version change")
	}
}

func TestSameRateNewTimestampStillNotifies(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{depositSetting()}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	if _, err := matcher.ScanAndEnqueue(context.Background(), now); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	later := now.Add(2 * time.Hour)
	catalog.products[0].Options[0].UpdatedAt = later.Add(-time.Minute)

	report, err := matcher.ScanAndEnqueue(context.Background(), later)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("timestamp-only change must still produce one event, got %d", report.Enqueued)
	}
}

func TestDepositPredicateRejections(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*storage.Product, *storage.AlertSetting)
	}{
		{"inactive product", func(p *storage.Product, _ *storage.AlertSetting) {
			p.Active = false
		}},
		{"term mismatch", func(p *storage.Product, _ *storage.AlertSetting) {
			p.Options[0].TermMonths = 24
		}},
		{"rate below minimum", func(p *storage.Product, s *storage.AlertSetting) {
			s.MinRate = dec("3.10")
		}},
		{"method mismatch", func(p *storage.Product, _ *storage.AlertSetting) {
			p.Options[0].Method = storage.MethodCompound
		}},
		{"disjoint amount ranges", func(p *storage.Product, s *storage.AlertSetting) {
			p.MinAmount = int64Ptr(1_000_000)
			p.MaxAmount = int64Ptr(5_000_000)
			s.MinAmount = int64Ptr(10_000_000)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			product := depositProduct(now.Add(-time.Minute))
			setting := depositSetting()
			tc.mutate(&product, &setting)

			catalog := &fakeCatalog{products: []storage.Product{product}}
			settings := &fakeSettings{items: []storage.AlertSetting{setting}}
			events := &fakeEvents{}
			matcher := newTestMatcher(catalog, settings, events)

			report, err := matcher.ScanAndEnqueue(context.Background(), now)
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if report.Enqueued != 0 {
				t.Fatalf("%s must not produce an event", tc.name)
			}
		})
	}
}

func TestDepositAmountOverlapInclusive(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))
	product.MinAmount = int64Ptr(1_000_000)
	product.MaxAmount = int64Ptr(10_000_000)

	setting := depositSetting()
	// Touching at a single point still counts as overlap.
	setting.MinAmount = int64Ptr(10_000_000)

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{setting}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("inclusive boundary overlap must match, got %d events", report.Enqueued)
	}
}

func TestBestRateRowSelection(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))
	product.Options = []storage.RateOption{
		{TermMonths: 12, Method: storage.MethodSimple, BaseRate: dec("3.40"), UpdatedAt: now.Add(-time.Minute)},
		{TermMonths: 12, Method: storage.MethodSimple, BaseRate: dec("2.00"), PrefRate: decPtr("3.20"), UpdatedAt: now.Add(-2 * time.Minute)},
		{TermMonths: 12, Method: storage.MethodSimple, BaseRate: dec("2.80"), PrefRate: decPtr("3.20"), UpdatedAt: now.Add(-3 * time.Minute)},
		{TermMonths: 24, Method: storage.MethodSimple, BaseRate: dec("9.99"), UpdatedAt: now.Add(-time.Minute)},
	}

	setting := depositSetting()
	setting.MinRate = dec("3.00")

	rules := depositRules()
	best, found := bestRateRow(product, setting, rules)
	if !found {
		t.Fatal("expected a best rate row")
	}
	// Highest preferential wins over a higher plain base; among the 3.20
	// preferential ties the higher base is chosen.
	if best.BaseRate.Cmp(dec("2.80")) != 0 {
		t.Fatalf("tie-break picked wrong row: base %s", best.BaseRate)
	}
	if comparisonRate(best).Cmp(dec("3.20")) != 0 {
		t.Fatalf("comparison rate should be the preferential, got %s", comparisonRate(best))
	}
}

func TestSavingsStyleFilter(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := storage.Product{
		Kind:      storage.KindSavings,
		Code:      "SV-001",
		Name:      "Monthly Saver",
		BankName:  "Second Bank",
		Active:    true,
		UpdatedAt: now.Add(-time.Minute),
		Options: []storage.RateOption{
			{
				TermMonths: 12,
				Method:     storage.MethodSimple,
				Style:      storage.StyleFlexible,
				BaseRate:   dec("3.50"),
				UpdatedAt:  now.Add(-time.Minute),
			},
		},
	}

	setting := storage.AlertSetting{
		ID:          2,
		UserID:      2,
		WantSavings: true,
		MinRate:     dec("3.00"),
		TermMonths:  12,
		Styles:      []storage.ContributionStyle{storage.StyleFixed},
		Channel:     "telegram",
	}

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{setting}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Enqueued != 0 {
		t.Fatal("pinned FIXED style must reject a FLEXIBLE-only product")
	}

	// Two styles selected means no restriction.
	settings.items[0].Styles = []storage.ContributionStyle{storage.StyleFixed, storage.StyleFlexible}
	settings.items[0].LastEvaluatedAt = nil
	report, err = matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("multi-style selection must not restrict, got %d events", report.Enqueued)
	}
}

func TestBothMethodsMeansNoRestriction(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	product := depositProduct(now.Add(-time.Minute))
	product.Options[0].Method = storage.MethodCompound

	setting := depositSetting()
	setting.Methods = []storage.InterestMethod{storage.MethodSimple, storage.MethodCompound}

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{setting}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Enqueued != 1 {
		t.Fatalf("both-methods selection must not restrict, got %d events", report.Enqueued)
	}
}

func TestCandidateDedupAcrossTriggers(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	// Product and option timestamps both advanced: the product fires on
	// both change triggers but must be evaluated once.
	product := depositProduct(now.Add(-time.Minute))

	catalog := &fakeCatalog{products: []storage.Product{product}}
	settings := &fakeSettings{items: []storage.AlertSetting{depositSetting()}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Candidates != 1 {
		t.Fatalf("expected 1 deduplicated candidate, got %d", report.Candidates)
	}
	if report.Enqueued != 1 {
		t.Fatalf("expected 1 event, got %d", report.Enqueued)
	}
}

func TestWatermarkAdvancesWithMargin(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	catalog := &fakeCatalog{}
	settings := &fakeSettings{items: []storage.AlertSetting{depositSetting()}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	if _, err := matcher.ScanAndEnqueue(context.Background(), now); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	mark := settings.watermark(1)
	if mark == nil {
		t.Fatal("watermark not advanced")
	}
	want := now.Add(-5 * time.Minute)
	if !mark.Equal(want) {
		t.Fatalf("watermark should be now minus the safety margin: want %v, got %v", want, mark)
	}
}

func TestPerSettingFailureIsolation(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	savings := storage.Product{
		Kind:      storage.KindSavings,
		Code:      "SV-002",
		Name:      "Flexible Saver",
		BankName:  "Second Bank",
		Active:    true,
		UpdatedAt: now.Add(-time.Minute),
		Options: []storage.RateOption{
			{
				TermMonths: 12,
				Method:     storage.MethodSimple,
				Style:      storage.StyleFlexible,
				BaseRate:   dec("3.50"),
				UpdatedAt:  now.Add(-time.Minute),
			},
		},
	}

	catalog := &fakeCatalog{products: []storage.Product{savings}, failKind: storage.KindDeposit}
	settings := &fakeSettings{items: []storage.AlertSetting{
		depositSetting(),
		{
			ID:          2,
			UserID:      2,
			WantSavings: true,
			MinRate:     dec("3.00"),
			TermMonths:  12,
			Channel:     "telegram",
		},
	}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan must not fail as a whole: %v", err)
	}
	if report.Errors != 1 {
		t.Fatalf("expected 1 per-setting error, got %d", report.Errors)
	}
	if report.Enqueued != 1 {
		t.Fatalf("healthy setting must still enqueue, got %d", report.Enqueued)
	}
	if settings.watermark(1) != nil {
		t.Fatal("failed setting's watermark must not advance")
	}
	if settings.watermark(2) == nil {
		t.Fatal("healthy setting's watermark must advance")
	}
}

func TestTermIsMandatory(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	setting := depositSetting()
	setting.TermMonths = 0

	catalog := &fakeCatalog{products: []storage.Product{depositProduct(now.Add(-time.Minute))}}
	settings := &fakeSettings{items: []storage.AlertSetting{setting}}
	events := &fakeEvents{}
	matcher := newTestMatcher(catalog, settings, events)

	report, err := matcher.ScanAndEnqueue(context.Background(), now)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Enqueued != 0 {
		t.Fatal("a setting without a required term must never match")
	}
}
