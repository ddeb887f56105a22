package lifecycle

import (
	"log/slog"
	"time"

	"github.com/trailpost/billing/pkg/metrics"
	"github.com/trailpost/billing/pkg/subscription"
)

// Config holds the tunables of the lifecycle manager.
type Config struct {
	// MaxTrialDays caps the length of a trial.
	MaxTrialDays int `env:"BILLING_MAX_TRIAL_DAYS" envDefault:"30"`
	// MutateRetries bounds optimistic write retries per operation.
	MutateRetries int `env:"BILLING_MUTATE_RETRIES" envDefault:"5"`
	// ChargeTimeout bounds a single gateway call. A charge that times out has
	// an unknown outcome and is recorded as pending.
	ChargeTimeout time.Duration `env:"BILLING_CHARGE_TIMEOUT" envDefault:"30s"`
	// PendingTTL is how long an unconfirmed charge blocks new charges.
	PendingTTL time.Duration `env:"BILLING_PENDING_TTL" envDefault:"24h"`
	// AwardTimeout bounds one gamification call.
	AwardTimeout time.Duration `env:"BILLING_AWARD_TIMEOUT" envDefault:"10s"`
	// UsageResetPeriod is the age of counters reset by ResetStaleUsage.
	UsageResetPeriod time.Duration `env:"BILLING_USAGE_RESET_PERIOD" envDefault:"720h"`
}

// DefaultConfig returns the defaults used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		MaxTrialDays:     30,
		MutateRetries:    subscription.DefaultMutateRetries,
		ChargeTimeout:    30 * time.Second,
		PendingTTL:       24 * time.Hour,
		AwardTimeout:     10 * time.Second,
		UsageResetPeriod: 30 * 24 * time.Hour,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		def := m.cfg
		if cfg.MaxTrialDays > 0 {
			def.MaxTrialDays = cfg.MaxTrialDays
		}
		if cfg.MutateRetries > 0 {
			def.MutateRetries = cfg.MutateRetries
		}
		if cfg.ChargeTimeout > 0 {
			def.ChargeTimeout = cfg.ChargeTimeout
		}
		if cfg.PendingTTL > 0 {
			def.PendingTTL = cfg.PendingTTL
		}
		if cfg.AwardTimeout > 0 {
			def.AwardTimeout = cfg.AwardTimeout
		}
		if cfg.UsageResetPeriod > 0 {
			def.UsageResetPeriod = cfg.UsageResetPeriod
		}
		m.cfg = def
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records operations on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithAwarder reports points to the gamification service.
func WithAwarder(a Awarder) Option {
	return func(m *Manager) {
		if a != nil {
			m.awarder = a
		}
	}
}

// WithLocker serialises writers of one subscription, e.g. across instances.
func WithLocker(l subscription.Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}
