package gateway

import (
	"errors"
	"fmt"
)

func joinInvalid(msg string) error {
	return errors.Join(ErrInvalidRequest, errors.New(msg))
}

func joinMalformed(msg string) error {
	return errors.Join(ErrMalformedEvent, errors.New(msg))
}

func joinUnsupported(eventType string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
}
