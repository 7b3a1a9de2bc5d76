package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ProductKind distinguishes the two catalog product families.
type ProductKind string

const (
	KindDeposit ProductKind = "DEPOSIT"
	KindSavings ProductKind = "SAVINGS"
)

// InterestMethod is how interest is computed for a rate option.
type InterestMethod string

const (
	MethodSimple   InterestMethod = "SIMPLE"
	MethodCompound InterestMethod = "COMPOUND"
)

// ContributionStyle is how a savings product accepts payments.
type ContributionStyle string

const (
	StyleFixed    ContributionStyle = "FIXED"
	StyleFlexible ContributionStyle = "FLEXIBLE"
	StyleLumpSum  ContributionStyle = "LUMP_SUM"
)

// TriggerKind records what caused an alert event to be enqueued.
type TriggerKind string

const (
	TriggerProductChange TriggerKind = "PRODUCT_CHANGE"
	TriggerMaturity      TriggerKind = "MATURITY"
)

// EventStatus is the delivery state of an alert event.
type EventStatus string

const (
	StatusReady   EventStatus = "READY"
	StatusSending EventStatus = "SENDING"
	StatusSent    EventStatus = "SENT"
	StatusFailed  EventStatus = "FAILED"
)

// RateOption is one term/method rate row of a catalog product.
type RateOption struct {
	TermMonths int
	Method     InterestMethod
	Style      ContributionStyle
	BaseRate   decimal.Decimal
	PrefRate   *decimal.Decimal
	UpdatedAt  time.Time
}

// Product is a catalog deposit or savings product with its rate options.
type Product struct {
	Kind      ProductKind
	Code      string
	Name      string
	BankName  string
	Active    bool
	MinAmount *int64
	MaxAmount *int64
	UpdatedAt time.Time
	Options   []RateOption
}

// AlertSetting holds one user's notification criteria. At most one per user.
type AlertSetting struct {
	ID              int64
	UserID          int64
	WantDeposit     bool
	WantSavings     bool
	MinRate         decimal.Decimal
	Methods         []InterestMethod
	TermMonths      int
	MinAmount       *int64
	MaxAmount       *int64
	Styles          []ContributionStyle
	Channel         string
	LastEvaluatedAt *time.Time
	CreatedAt       time.Time
}

// AlertEvent is one queued or already-processed notification.
type AlertEvent struct {
	ID            int64
	SettingID     int64
	Trigger       TriggerKind
	ProductKind   ProductKind
	ProductCode   string
	Payload       json.RawMessage
	DedupKey      string
	Status        EventStatus
	Attempts      int
	LastError     *string
	SendNotBefore time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// DayCount aggregates queue throughput for one calendar day.
type DayCount struct {
	Day      time.Time
	Enqueued int64
	Sent     int64
	Failed   int64
}
