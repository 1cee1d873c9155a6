package accounting

import (
	"context"
	"errors"
)

// Sink is anything that accepts transfer accounting.
type Sink interface {
	Record(ctx context.Context, bytesSent int64, displayName string) error
}

// Tee forwards every record to all sinks, joining their errors.
type Tee []Sink

// Record implements Sink.
func (t Tee) Record(ctx context.Context, bytesSent int64, displayName string) error {
	var errs []error
	for _, s := range t {
		if err := s.Record(ctx, bytesSent, displayName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
