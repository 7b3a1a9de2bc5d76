package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"savingbee-alerts/internal/config"
	"savingbee-alerts/internal/dispatch"
	"savingbee-alerts/internal/match"
	"savingbee-alerts/internal/scheduler"
	"savingbee-alerts/internal/storage"
)

// Service orchestrates the daily scan and the delivery-window drain.
type Service struct {
	scheduler  *scheduler.Scheduler
	matcher    *match.Matcher
	dispatcher *dispatch.Dispatcher
	coord      *dispatch.Coordinator
	logger     zerolog.Logger

	batchSize int
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// Deps bundles the collaborators the service drives.
type Deps struct {
	Matcher    *match.Matcher
	Dispatcher *dispatch.Dispatcher
	Coord      *dispatch.Coordinator
	Locker     storage.AdvisoryLocker
}

// New constructs the alert pipeline service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	scanHour, scanMinute, err := config.ParseTimeOfDay(cfg.Scan.At)
	if err != nil {
		return nil, err
	}
	sendHour, sendMinute, err := config.ParseTimeOfDay(cfg.Dispatch.SendAt)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		matcher:    deps.Matcher,
		dispatcher: deps.Dispatcher,
		coord:      deps.Coord,
		logger:     logger.With().Str("component", "service").Logger(),
		batchSize:  cfg.Dispatch.BatchSize,
		locker:     deps.Locker,
		lockKey:    cfg.Scan.AdvisoryLockKey,
	}

	jobs := []scheduler.Job{
		{Name: "scan", Hour: scanHour, Minute: scanMinute, Run: svc.RunScan},
		{Name: "dispatch", Hour: sendHour, Minute: sendMinute, Run: svc.RunDispatch},
	}
	svc.scheduler = scheduler.New(jobs, scheduler.Options{
		Location:     loc,
		StartupDelay: cfg.Scan.StartupDelay,
	}, logger)

	return svc, nil
}

// Run begins the daily scheduling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx)
}

// RunScan executes one catalog scan, guarded by an advisory lock so that
// only one instance scans at a time.
func (s *Service) RunScan(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("now", now).Msg("skip scan because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report, err := s.matcher.ScanAndEnqueue(ctx, now)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Msg("scan run finished")
	return nil
}

// RunDispatch reclaims stuck events, then drains the due backlog.
func (s *Service) RunDispatch(ctx context.Context, now time.Time) error {
	recovered, err := s.coord.RecoverStuckSending(ctx, now)
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.logger.Warn().Int("recovered", recovered).Msg("stuck SENDING events recovered before drain")
	}

	result, err := s.dispatcher.Drain(ctx, now, s.batchSize)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("dispatch run finished")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
