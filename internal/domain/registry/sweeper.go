package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const statsSpec = "@every 1m"

// Sweeper runs the [JANITOR] job and a periodic occupancy log on a cron schedule.
type Sweeper struct {
	hub    *Hub
	cron   *cron.Cron
	logger *slog.Logger
}

func NewSweeper(hub *Hub, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		hub:    hub,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
	}
}

func (s *Sweeper) Start(context.Context) error {
	spec := fmt.Sprintf("@every %s", s.hub.SweepInterval())
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	if _, err := s.cron.AddFunc(statsSpec, s.LogStats); err != nil {
		return fmt.Errorf("schedule stats %q: %w", statsSpec, err)
	}
	s.cron.Start()
	s.logger.Info("SWEEPER_STARTED",
		slog.Duration("interval", s.hub.SweepInterval()),
		slog.Duration("idle_timeout", s.hub.IdleTimeout()),
	)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce evicts stale connections using the hub clock and idle threshold.
func (s *Sweeper) RunOnce() {
	s.hub.Sweep(s.hub.Clock().Now(), s.hub.IdleTimeout())
}

func (s *Sweeper) LogStats() {
	snap := s.hub.Snapshot()
	users := make(map[string]struct{}, len(snap))
	queued := 0
	for _, c := range snap {
		users[c.GetUserID()] = struct{}{}
		queued += c.QueueLen()
	}
	s.logger.Info("HUB_OCCUPANCY",
		slog.Int("connections", len(snap)),
		slog.Int("identities", len(users)),
		slog.Int("queued", queued),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("CRON_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("CRON_"+msg, append(keysAndValues, slog.Any("err", err))...)
}
