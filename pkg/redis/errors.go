package redis

import "errors"

var (
	ErrInvalidURL   = errors.New("redis: invalid connection url")
	ErrNotReady     = errors.New("redis: server not ready")
	ErrUnhealthy    = errors.New("redis: ping failed")
	ErrEmptyLockKey = errors.New("redis: empty lock key")
	ErrLockFailed   = errors.New("redis: failed to acquire lock")
)
