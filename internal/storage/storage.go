package storage

import (
	"encoding/json"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
)

//go:generate mockgen -source=storage.go -package=storage -destination=storage_mock.go

// Documents defines the interface to the durable JSON documents the
// service keeps: the pending queue and the last-known-good config
// snapshot. Both are small and rewritten in full on every save.
type Documents interface {
	// LoadQueue reads the persisted pending queue. A missing document
	// is not an error and yields an empty map.
	LoadQueue() (entities.Entries, error)
	// SaveQueue rewrites the pending queue document.
	SaveQueue(entries entities.Entries) error
	// LoadSnapshot reads the last-known-good config snapshot.
	// A missing document is not an error and yields nil.
	LoadSnapshot() (json.RawMessage, error)
	// SaveSnapshot rewrites the config snapshot document.
	SaveSnapshot(doc json.RawMessage) error
}

// Tokens defines the interface to per-domain challenge tokens on
// durable storage. A token is created once and never regenerated while
// it exists, since customers publish it in a TXT record.
type Tokens interface {
	// GetOrCreate returns the existing token for domain, creating and
	// persisting a fresh one if none exists yet. Safe under concurrent
	// calls for the same domain: exactly one token value survives.
	GetOrCreate(domain string) (string, error)
	// Remove deletes the token for domain. Removing an absent token
	// is not an error.
	Remove(domain string) error
}
