// Package archive provides durable export of records ahead of purge. A
// purge whose policy mandates archiving never deletes a row before the
// sink has accepted a copy of it.
package archive

import (
	"context"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// Sink writes a batch of records durably. Write must not return nil until
// the batch is safely stored; the purge path treats any error as an abort
// for that root.
type Sink interface {
	Write(ctx context.Context, entityType models.EntityType, records []models.Record) error
}

// NoopSink discards records. Used when archiving is disabled globally;
// policies with EnableArchiving still call it, so operators enabling
// archiving must configure a real backend.
type NoopSink struct{}

// NewNoopSink creates a sink that accepts and discards everything.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

// Write implements Sink.
func (s *NoopSink) Write(ctx context.Context, entityType models.EntityType, records []models.Record) error {
	return nil
}

var _ Sink = (*NoopSink)(nil)
