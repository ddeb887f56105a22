package redis

import "time"

// Config holds the connection and lock settings.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	LockPrefix    string        `env:"REDIS_LOCK_PREFIX" envDefault:"billing:lock:"`
	LockTTL       time.Duration `env:"REDIS_LOCK_TTL" envDefault:"30s"` // must exceed the longest critical section
	LockRetryWait time.Duration `env:"REDIS_LOCK_RETRY_WAIT" envDefault:"50ms"`
}
