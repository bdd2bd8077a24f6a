// Package store persists the audit event chain. The in-memory chain in
// pkg/audit stays authoritative for verification; these stores are its
// durable mirror and the query surface for external auditors.
package store

import (
	"context"

	"github.com/covenantlabs/covenant/pkg/audit"
)

// EventStore is a durable audit sink with a read side.
type EventStore interface {
	audit.Sink

	// ListEvents returns up to limit events for a principal in chain
	// order. An empty principal lists across all principals.
	ListEvents(ctx context.Context, principal string, limit int) ([]audit.Event, error)
}
