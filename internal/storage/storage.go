// Package storage defines the delivery log: one record per interaction the
// worker pool processed. It is an audit trail, not a work queue; pending
// interactions are never persisted.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("delivery record not found")

// Outcome is the final state of a processed interaction.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeFailed         Outcome = "failed"
	OutcomeUnknownCommand Outcome = "unknown_command"
	OutcomeMalformed      Outcome = "malformed"
)

// DeliveryRecord describes how one interaction was completed. The interaction
// token is deliberately absent.
type DeliveryRecord struct {
	ID            string    `db:"id" json:"id"`
	InteractionID string    `db:"interaction_id" json:"interaction_id"`
	ApplicationID string    `db:"application_id" json:"application_id"`
	Command       string    `db:"command" json:"command"`
	Outcome       Outcome   `db:"outcome" json:"outcome"`
	StatusCode    int       `db:"status_code" json:"status_code"`
	Attempts      int       `db:"attempts" json:"attempts"`
	Error         string    `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	CompletedAt   time.Time `db:"completed_at" json:"completed_at"`
}

// ListOptions filters ListDeliveries. Results are newest first.
type ListOptions struct {
	Command string
	Outcome Outcome
	Limit   int
	Offset  int
}

// DeliveryStore persists delivery records.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, rec *DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*DeliveryRecord, error)
	ListDeliveries(ctx context.Context, opts ListOptions) ([]*DeliveryRecord, error)
	// PruneBefore deletes records completed before cutoff and returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
