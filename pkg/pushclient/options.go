package pushclient

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultHeartbeatTimeout = 90 * time.Second
	DefaultBaseDelay        = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultMaxAttempts      = 10
)

type config struct {
	clock            clockwork.Clock
	logger           *slog.Logger
	navigator        Navigator
	heartbeatTimeout time.Duration
	baseDelay        time.Duration
	maxDelay         time.Duration
	maxAttempts      int
	dedupSize        int
}

type Option func(*config)

func WithClock(c clockwork.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

func WithNavigator(n Navigator) Option {
	return func(cfg *config) { cfg.navigator = n }
}

// WithHeartbeatTimeout should be at least twice the server heartbeat interval.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.heartbeatTimeout = d
		}
	}
}

func WithBackoff(base, maxDelay time.Duration) Option {
	return func(cfg *config) {
		if base > 0 {
			cfg.baseDelay = base
		}
		if maxDelay >= base {
			cfg.maxDelay = maxDelay
		}
	}
}

// WithMaxAttempts bounds consecutive reconnects; 0 retries forever.
func WithMaxAttempts(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.maxAttempts = n
		}
	}
}

func WithDedupSize(n int) Option {
	return func(cfg *config) { cfg.dedupSize = n }
}

func defaultConfig() config {
	return config{
		clock:            clockwork.NewRealClock(),
		logger:           slog.Default(),
		heartbeatTimeout: DefaultHeartbeatTimeout,
		baseDelay:        DefaultBaseDelay,
		maxDelay:         DefaultMaxDelay,
		maxAttempts:      DefaultMaxAttempts,
		dedupSize:        DefaultDedupSize,
	}
}
