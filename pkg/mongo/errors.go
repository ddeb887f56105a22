package mongo

import "errors"

var (
	ErrConnect               = errors.New("mongo: failed to connect")
	ErrUnhealthy             = errors.New("mongo: primary not reachable")
	ErrFailedToCreateIndexes = errors.New("mongo: failed to create indexes")
	ErrQueryFailed           = errors.New("mongo: query failed")
	ErrInvalidFieldKey       = errors.New("mongo: invalid field key")
)
