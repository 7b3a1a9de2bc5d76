package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/config"
	"savingbee-alerts/internal/dispatch"
	"savingbee-alerts/internal/match"
	"savingbee-alerts/internal/notify"
	"savingbee-alerts/internal/service"
	"savingbee-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newTransport() notify.Transport {
	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		return notify.NewTelegramTransport(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return notify.NewLogTransport(a.Logger)
}

func (a *App) matcherOptions(forceSince *time.Time) (match.Options, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return match.Options{}, err
	}
	hour, minute, err := config.ParseTimeOfDay(a.Config.Dispatch.SendAt)
	if err != nil {
		return match.Options{}, err
	}
	return match.Options{
		SafetyMargin: a.Config.Scan.SafetyMargin,
		SendHour:     hour,
		SendMinute:   minute,
		Location:     loc,
		ForceSince:   forceSince,
	}, nil
}

func (a *App) newMatcher(store *storage.Store, forceSince *time.Time) (*match.Matcher, error) {
	opts, err := a.matcherOptions(forceSince)
	if err != nil {
		return nil, err
	}
	return match.New(store, store, store, opts, a.Logger), nil
}

func (a *App) newDispatchPair(store *storage.Store) (*dispatch.Dispatcher, *dispatch.Coordinator) {
	coord := dispatch.NewCoordinator(store, a.Config.Dispatch.SendingTimeout, a.Logger)
	dispatcher := dispatch.NewDispatcher(store, coord, a.newTransport(), a.Logger)
	return dispatcher, coord
}

// Run executes the long-running alert pipeline daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	matcher, err := a.newMatcher(store, nil)
	if err != nil {
		return err
	}
	dispatcher, coord := a.newDispatchPair(store)

	svc, err := service.New(a.Config, service.Deps{
		Matcher:    matcher,
		Dispatcher: dispatcher,
		Coord:      coord,
		Locker:     store,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("scan_at", a.Config.Scan.At).
		Str("send_at", a.Config.Dispatch.SendAt).
		Str("timezone", a.Config.Dispatch.Timezone).
		Msg("starting alert pipeline")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alert pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert pipeline stopped")
	return nil
}

// ScanOptions configure a one-shot scan run.
type ScanOptions struct {
	Since *time.Time
}

// DispatchOptions configure a one-shot dispatch run.
type DispatchOptions struct {
	BatchSize   int
	RetryFailed bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting queue throughput.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
