// Package writer streams match rows to output sinks in bounded batches.
package writer

import (
	"context"

	"ban-cadastre-engine/internal/models"
)

// Sink receives match rows in their final order. WriteBatch may buffer;
// Close flushes and finalizes the output. Abort discards everything so a
// failed run leaves no partial output behind.
type Sink interface {
	WriteBatch(ctx context.Context, rows []models.Match) error
	Close(ctx context.Context) error
	Abort()
}

// Multi fans rows out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) WriteBatch(ctx context.Context, rows []models.Match) error {
	for _, s := range m {
		if err := s.WriteBatch(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Close(ctx context.Context) error {
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Abort() {
	for _, s := range m {
		s.Abort()
	}
}
