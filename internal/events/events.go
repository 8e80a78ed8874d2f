// Package events carries audit activity onto the message broker. Entries are
// staged in an outbox by the same unit of work that appends them, then
// drained to Kafka by a background worker, so broker downtime never loses or
// reorders an event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"signato.org/internal/auditlog"
)

// Record is one staged outbox row.
type Record struct {
	ID           string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
	Attempts     int
	LastError    string
}

// Outbox is the staging boundary. FetchUnpublished returns rows oldest
// first; MarkPublished removes or tombstones them.
type Outbox interface {
	Enqueue(ctx context.Context, rec Record) error
	FetchUnpublished(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
}

// Publisher delivers a staged record to the broker.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// EncodeEntry serializes an audit entry for the wire. The envelope id is the
// partition key so one envelope's activity stays ordered.
func EncodeEntry(entry auditlog.Entry) (Record, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:           entry.ID,
		EventType:    string(entry.Type),
		PartitionKey: entry.EnvelopeID,
		Payload:      payload,
		CreatedAt:    entry.CreatedAt,
	}, nil
}
