package main

import (
	"github.com/trailpost/billing/pkg/gamification"
	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/httpserver"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/svc/lifecycle"
)

// Backends.
const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeMongo    = "mongo"

	lockerMemory = "memory"
	lockerRedis  = "redis"

	gatewayMock   = "mock"
	gatewayStripe = "stripe"
	gatewayPaddle = "paddle"
)

// appConfig selects the backends. Settings of a backend are parsed only when
// it is selected, so its required variables stay optional otherwise.
type appConfig struct {
	Store   string `env:"BILLING_STORE" envDefault:"memory"`
	Locker  string `env:"BILLING_LOCKER" envDefault:"memory"`
	Gateway string `env:"BILLING_GATEWAY" envDefault:"mock"`
	// CatalogFile is a YAML plan catalog; the built-in catalog when empty.
	CatalogFile string `env:"BILLING_CATALOG_FILE"`

	SweepSchedule string `env:"BILLING_SWEEP_SCHEDULE" envDefault:"@every 15m"`
	ResetSchedule string `env:"BILLING_USAGE_RESET_SCHEDULE" envDefault:"@daily"`

	Log       logger.Config
	Lifecycle lifecycle.Config
	HTTP      httpserver.Config
	Breaker   gateway.BreakerConfig
	Points    gamification.Config
}
