package gamification

import "time"

// Config selects and configures the award transport.
type Config struct {
	// Transport is "http", "amqp" or "noop".
	Transport string `env:"GAMIFICATION_TRANSPORT" envDefault:"noop"`

	URL            string        `env:"GAMIFICATION_URL"`
	SigningSecret  string        `env:"GAMIFICATION_SIGNING_SECRET"`
	RequestTimeout time.Duration `env:"GAMIFICATION_REQUEST_TIMEOUT" envDefault:"5s"`
	MaxRetries     int           `env:"GAMIFICATION_MAX_RETRIES" envDefault:"3"`

	BreakerFailureThreshold uint32        `env:"GAMIFICATION_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerTimeout          time.Duration `env:"GAMIFICATION_BREAKER_TIMEOUT" envDefault:"30s"`

	AMQPURL    string `env:"GAMIFICATION_AMQP_URL"`
	Exchange   string `env:"GAMIFICATION_AMQP_EXCHANGE" envDefault:"trailpost.gamification"`
	RoutingKey string `env:"GAMIFICATION_AMQP_ROUTING_KEY" envDefault:"points.awarded"`
}
