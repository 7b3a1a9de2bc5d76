package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listSettingsSQL = `SELECT
        id,
        user_id,
        want_deposit,
        want_savings,
        min_rate,
        methods,
        term_months,
        min_amount,
        max_amount,
        styles,
        channel,
        last_evaluated_at,
        created_at
    FROM alert_settings
    ORDER BY id;`

	advanceWatermarkSQL = `UPDATE alert_settings
    SET last_evaluated_at = $2
    WHERE id = $1
      AND (last_evaluated_at IS NULL OR last_evaluated_at < $2);`

	findChangedProductsSQL = `SELECT
        kind, code, name, bank_name, active, min_amount, max_amount, updated_at
    FROM products
    WHERE kind = $1
      AND updated_at > $2
    ORDER BY code;`

	findOptionChangedCodesSQL = `SELECT DISTINCT product_code
    FROM product_rate_options
    WHERE product_kind = $1
      AND updated_at > $2;`

	findProductsByCodesSQL = `SELECT
        kind, code, name, bank_name, active, min_amount, max_amount, updated_at
    FROM products
    WHERE kind = $1
      AND code = ANY($2)
    ORDER BY code;`

	listOptionsByCodesSQL = `SELECT
        product_code, term_months, method, style, base_rate, pref_rate, updated_at
    FROM product_rate_options
    WHERE product_kind = $1
      AND product_code = ANY($2)
    ORDER BY product_code, term_months;`

	tryInsertEventSQL = `INSERT INTO alert_events (
        setting_id,
        trigger_kind,
        product_kind,
        product_code,
        payload,
        dedup_key,
        status,
        attempts,
        send_not_before,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,0,$8,$9,$9
    )
    ON CONFLICT (dedup_key) DO NOTHING;`

	findReadyDueSQL = `SELECT
        id, setting_id, trigger_kind, product_kind, product_code, payload,
        dedup_key, status, attempts, last_error, send_not_before,
        created_at, updated_at, sent_at
    FROM alert_events
    WHERE status = 'READY'
      AND send_not_before <= $1
    ORDER BY id
    LIMIT $2;`

	findStuckSendingSQL = `SELECT
        id, setting_id, trigger_kind, product_kind, product_code, payload,
        dedup_key, status, attempts, last_error, send_not_before,
        created_at, updated_at, sent_at
    FROM alert_events
    WHERE status = 'SENDING'
      AND updated_at < $1
    ORDER BY id;`

	claimSendingSQL = `UPDATE alert_events
    SET status = 'SENDING', updated_at = $2
    WHERE id = $1
      AND status IN ('READY', 'FAILED');`

	markSentSQL = `UPDATE alert_events
    SET status = 'SENT', attempts = attempts + 1, last_error = NULL,
        sent_at = $2, updated_at = $2
    WHERE id = $1
      AND status = 'SENDING';`

	markFailedSQL = `UPDATE alert_events
    SET status = 'FAILED', attempts = attempts + 1, last_error = $2,
        updated_at = $3
    WHERE id = $1
      AND status = 'SENDING';`

	requeueFailedSQL = `UPDATE alert_events
    SET status = 'READY', updated_at = $1
    WHERE status = 'FAILED';`

	listRecentEventsSQL = `SELECT
        id, setting_id, trigger_kind, product_kind, product_code, payload,
        dedup_key, status, attempts, last_error, send_not_before,
        created_at, updated_at, sent_at
    FROM alert_events
    ORDER BY id DESC
    LIMIT $1;`

	countEventsByDaySQL = `SELECT
        date_trunc('day', created_at) AS day,
        COUNT(*),
        COUNT(*) FILTER (WHERE status = 'SENT'),
        COUNT(*) FILTER (WHERE status = 'FAILED')
    FROM alert_events
    WHERE created_at >= $1
      AND created_at < $2
    GROUP BY 1
    ORDER BY 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CatalogStore exposes the read contract against the product catalog.
type CatalogStore interface {
	FindChangedSince(ctx context.Context, kind ProductKind, since time.Time) ([]Product, error)
	FindCodesWithOptionChanges(ctx context.Context, kind ProductKind, since time.Time) ([]string, error)
	FindByCodes(ctx context.Context, kind ProductKind, codes []string) ([]Product, error)
}

// SettingStore exposes the alert-setting read/cursor contract.
type SettingStore interface {
	ListSettings(ctx context.Context) ([]AlertSetting, error)
	AdvanceWatermark(ctx context.Context, settingID int64, ts time.Time) error
}

// EventStore owns the alert-event queue.
type EventStore interface {
	TryInsertEvent(ctx context.Context, event AlertEvent) (bool, error)
	FindReadyDue(ctx context.Context, now time.Time, limit int) ([]AlertEvent, error)
	FindStuckSending(ctx context.Context, olderThan time.Time) ([]AlertEvent, error)
	ClaimSending(ctx context.Context, eventID int64, now time.Time) (bool, error)
	MarkSent(ctx context.Context, eventID int64, now time.Time) error
	MarkFailed(ctx context.Context, eventID int64, reason string, now time.Time) error
	RequeueFailed(ctx context.Context, now time.Time) (int64, error)
	ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error)
	CountEventsByDay(ctx context.Context, from, to time.Time) ([]DayCount, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to settings, catalog reads, and the event queue.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListSettings returns every alert setting.
func (s *Store) ListSettings(ctx context.Context) ([]AlertSetting, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSettingsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list settings: %w", queryErr)
	}
	defer rows.Close()

	settings := make([]AlertSetting, 0)
	for rows.Next() {
		setting, scanErr := scanSetting(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		settings = append(settings, setting)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return settings, nil
}

// AdvanceWatermark moves a setting's scan cursor forward. Backward moves are ignored.
func (s *Store) AdvanceWatermark(ctx context.Context, settingID int64, ts time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, advanceWatermarkSQL, settingID, ts); execErr != nil {
		return fmt.Errorf("advance watermark: %w", execErr)
	}
	return nil
}

// FindChangedSince lists products of a kind whose own timestamp advanced past since.
func (s *Store) FindChangedSince(ctx context.Context, kind ProductKind, since time.Time) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, findChangedProductsSQL, string(kind), since)
	if queryErr != nil {
		return nil, fmt.Errorf("find changed products: %w", queryErr)
	}
	products, scanErr := collectProducts(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return s.attachOptions(ctx, kind, products)
}

// FindCodesWithOptionChanges lists distinct product codes whose rate options changed.
func (s *Store) FindCodesWithOptionChanges(ctx context.Context, kind ProductKind, since time.Time) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, findOptionChangedCodesSQL, string(kind), since)
	if queryErr != nil {
		return nil, fmt.Errorf("find option-changed codes: %w", queryErr)
	}
	defer rows.Close()

	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return codes, nil
}

// FindByCodes re-fetches full products for the given codes.
func (s *Store) FindByCodes(ctx context.Context, kind ProductKind, codes []string) ([]Product, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, findProductsByCodesSQL, string(kind), codes)
	if queryErr != nil {
		return nil, fmt.Errorf("find products by codes: %w", queryErr)
	}
	products, scanErr := collectProducts(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return s.attachOptions(ctx, kind, products)
}

func (s *Store) attachOptions(ctx context.Context, kind ProductKind, products []Product) ([]Product, error) {
	if len(products) == 0 {
		return products, nil
	}

	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	codes := make([]string, len(products))
	for i, p := range products {
		codes[i] = p.Code
	}

	rows, queryErr := pool.Query(ctx, listOptionsByCodesSQL, string(kind), codes)
	if queryErr != nil {
		return nil, fmt.Errorf("list rate options: %w", queryErr)
	}
	defer rows.Close()

	byCode := make(map[string][]RateOption, len(products))
	for rows.Next() {
		var (
			code       string
			termMonths int
			method     string
			style      sql.NullString
			baseStr    string
			prefStr    sql.NullString
			updatedAt  time.Time
		)
		if err := rows.Scan(&code, &termMonths, &method, &style, &baseStr, &prefStr, &updatedAt); err != nil {
			return nil, err
		}

		base, convErr := decimal.NewFromString(baseStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse base rate: %w", convErr)
		}

		option := RateOption{
			TermMonths: termMonths,
			Method:     InterestMethod(method),
			BaseRate:   base,
			UpdatedAt:  updatedAt,
		}
		if style.Valid {
			option.Style = ContributionStyle(style.String)
		}
		if prefStr.Valid {
			pref, convErr := decimal.NewFromString(prefStr.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse preferential rate: %w", convErr)
			}
			option.PrefRate = &pref
		}
		byCode[code] = append(byCode[code], option)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for i := range products {
		products[i].Options = byCode[products[i].Code]
	}
	return products, nil
}

// TryInsertEvent enqueues an event; false means the dedup key already exists.
func (s *Store) TryInsertEvent(ctx context.Context, event AlertEvent) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, tryInsertEventSQL,
		event.SettingID,
		string(event.Trigger),
		string(event.ProductKind),
		event.ProductCode,
		[]byte(event.Payload),
		event.DedupKey,
		string(event.Status),
		event.SendNotBefore,
		event.CreatedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert alert event: %w", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// FindReadyDue lists READY events due for delivery in creation order.
func (s *Store) FindReadyDue(ctx context.Context, now time.Time, limit int) ([]AlertEvent, error) {
	return s.queryEvents(ctx, findReadyDueSQL, now, limit)
}

// FindStuckSending lists SENDING events whose last update is older than the cutoff.
func (s *Store) FindStuckSending(ctx context.Context, olderThan time.Time) ([]AlertEvent, error) {
	return s.queryEvents(ctx, findStuckSendingSQL, olderThan)
}

// ClaimSending atomically transitions an event from READY or FAILED to SENDING.
// The affected-row count is the claim signal; false means another worker won.
func (s *Store) ClaimSending(ctx context.Context, eventID int64, now time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, claimSendingSQL, eventID, now)
	if execErr != nil {
		return false, fmt.Errorf("claim sending: %w", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// MarkSent finalises a SENDING event as delivered.
func (s *Store) MarkSent(ctx context.Context, eventID int64, now time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markSentSQL, eventID, now)
	if execErr != nil {
		return fmt.Errorf("mark sent: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkFailed finalises a SENDING event as failed with a reason.
func (s *Store) MarkFailed(ctx context.Context, eventID int64, reason string, now time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markFailedSQL, eventID, reason, now)
	if execErr != nil {
		return fmt.Errorf("mark failed: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RequeueFailed moves every FAILED event back to READY. Manual operator path.
func (s *Store) RequeueFailed(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, requeueFailedSQL, now)
	if execErr != nil {
		return 0, fmt.Errorf("requeue failed events: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// ListRecentEvents lists the most recent events in reverse creation order.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error) {
	return s.queryEvents(ctx, listRecentEventsSQL, limit)
}

// CountEventsByDay aggregates queue throughput per calendar day.
func (s *Store) CountEventsByDay(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countEventsByDaySQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("count events by day: %w", queryErr)
	}
	defer rows.Close()

	counts := make([]DayCount, 0)
	for rows.Next() {
		var c DayCount
		if err := rows.Scan(&c.Day, &c.Enqueued, &c.Sent, &c.Failed); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var (
			kind      string
			product   Product
			minAmount sql.NullInt64
			maxAmount sql.NullInt64
		)
		if err := rows.Scan(
			&kind,
			&product.Code,
			&product.Name,
			&product.BankName,
			&product.Active,
			&minAmount,
			&maxAmount,
			&product.UpdatedAt,
		); err != nil {
			return nil, err
		}
		product.Kind = ProductKind(kind)
		if minAmount.Valid {
			value := minAmount.Int64
			product.MinAmount = &value
		}
		if maxAmount.Valid {
			value := maxAmount.Int64
			product.MaxAmount = &value
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

func scanSetting(rows pgx.Rows) (AlertSetting, error) {
	var (
		setting    AlertSetting
		minRateStr string
		methods    []string
		styles     []string
		minAmount  sql.NullInt64
		maxAmount  sql.NullInt64
		lastEval   sql.NullTime
	)

	if err := rows.Scan(
		&setting.ID,
		&setting.UserID,
		&setting.WantDeposit,
		&setting.WantSavings,
		&minRateStr,
		&methods,
		&setting.TermMonths,
		&minAmount,
		&maxAmount,
		&styles,
		&setting.Channel,
		&lastEval,
		&setting.CreatedAt,
	); err != nil {
		return AlertSetting{}, err
	}

	minRate, convErr := decimal.NewFromString(minRateStr)
	if convErr != nil {
		return AlertSetting{}, fmt.Errorf("parse min rate: %w", convErr)
	}
	setting.MinRate = minRate

	for _, m := range methods {
		setting.Methods = append(setting.Methods, InterestMethod(m))
	}
	for _, st := range styles {
		setting.Styles = append(setting.Styles, ContributionStyle(st))
	}
	if minAmount.Valid {
		value := minAmount.Int64
		setting.MinAmount = &value
	}
	if maxAmount.Valid {
		value := maxAmount.Int64
		setting.MaxAmount = &value
	}
	if lastEval.Valid {
		ts := lastEval.Time
		setting.LastEvaluatedAt = &ts
	}

	return setting, nil
}

func scanEvent(rows pgx.Rows) (AlertEvent, error) {
	var (
		event     AlertEvent
		trigger   string
		kind      string
		status    string
		lastError sql.NullString
		sentAt    sql.NullTime
	)

	if err := rows.Scan(
		&event.ID,
		&event.SettingID,
		&trigger,
		&kind,
		&event.ProductCode,
		&event.Payload,
		&event.DedupKey,
		&status,
		&event.Attempts,
		&lastError,
		&event.SendNotBefore,
		&event.CreatedAt,
		&event.UpdatedAt,
		&sentAt,
	); err != nil {
		return AlertEvent{}, err
	}

	event.Trigger = TriggerKind(trigger)
	event.ProductKind = ProductKind(kind)
	event.Status = EventStatus(status)
	if lastError.Valid {
		msg := lastError.String
		event.LastError = &msg
	}
	if sentAt.Valid {
		ts := sentAt.Time
		event.SentAt = &ts
	}

	return event, nil
}
