// Package events delivers seat lifecycle notifications to realtime
// subscribers. The coordinator publishes through a Sink; deployments compose
// sinks (broker, log, test capture) with Fanout.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atakanes/seatlock/internal/domain"
)

type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event domain.Event) error

func (f SinkFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Discard drops every event. Useful as a default when no broker is configured.
var Discard Sink = SinkFunc(func(context.Context, domain.Event) error {
	return nil
})

// Fanout publishes to every sink and joins their errors, so one slow or
// broken subscriber does not hide delivery to the others.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, event domain.Event) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Publish(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

// NewLogSink writes each event to the structured log, omitting holder
// identifiers so logs stay free of session IDs.
func NewLogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(ctx context.Context, event domain.Event) error {
		logger.InfoContext(ctx, "seat event",
			"type", event.Type,
			"showtime_id", event.ShowtimeID,
			"seat_id", event.SeatID,
		)

		return nil
	})
}
