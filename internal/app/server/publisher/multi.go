package publisher

import (
	"context"
	"errors"
)

// MultiTransport triggers every event on all of its transports.
type MultiTransport []Transport

func (m MultiTransport) Trigger(ctx context.Context, channel, event string, payload Payload) error {
	var errs []error
	for _, t := range m {
		if err := t.Trigger(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
