// Package queue holds domains awaiting DNS verification.
//
// Domains are added here when a client requests them. A background loop
// periodically checks whether each pending domain's records point at the
// server; once verified the domain is promoted into the live proxy config
// and removed from the queue. Entries that stay unverified past the TTL
// are marked failed and excluded from further polling until an explicit
// verify call resets them.
package queue

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/storage"
)

// Queue is a mutex-serialized map of pending domains persisted in full
// after every mutation. Losing the last unpersisted mutation on crash is
// acceptable: the queue is a soft cache the client can re-derive by
// re-submitting.
type Queue struct {
	docs   storage.Documents
	logger *zap.Logger

	mu      sync.Mutex
	entries entities.Entries
}

// New returns a Queue restored from the persisted document.
func New(docs storage.Documents, logger *zap.Logger) (*Queue, error) {
	entries, err := docs.LoadQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to restore pending queue: %w", err)
	}

	return &Queue{
		docs:    docs,
		logger:  logger,
		entries: entries,
	}, nil
}

// Add inserts domain as pending. Adding an already queued domain is a
// no-op regardless of status or upstream.
func (q *Queue) Add(domain, upstream string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[domain]; ok {
		q.logger.Info("pending queue: domain already queued, skipped", zap.String("domain", domain))
		return
	}

	q.entries[domain] = entities.Entry{
		Upstream: upstream,
		AddedAt:  time.Now(),
		Status:   entities.StatusPending,
	}
	q.save()
	q.logger.Info("pending queue: added domain",
		zap.String("domain", domain),
		zap.String("upstream", upstream),
	)
}

// Remove deletes domain from the queue if present.
func (q *Queue) Remove(domain string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[domain]; !ok {
		return
	}

	delete(q.entries, domain)
	q.save()
	q.logger.Info("pending queue: removed domain", zap.String("domain", domain))
}

// Status returns the queue status of domain,
// false when the domain is not queued.
func (q *Queue) Status(domain string) (entities.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[domain]
	return entry.Status, ok
}

// MarkFailed flips domain to failed if it is queued.
func (q *Queue) MarkFailed(domain string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[domain]
	if !ok {
		return
	}

	entry.Status = entities.StatusFailed
	q.entries[domain] = entry
	q.save()
	q.logger.Info("pending queue: marked domain failed", zap.String("domain", domain))
}

// MarkPending flips domain back to pending and refreshes its enqueue
// time so it gets a fresh TTL window.
func (q *Queue) MarkPending(domain string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[domain]
	if !ok {
		return
	}

	entry.Status = entities.StatusPending
	entry.AddedAt = time.Now()
	q.entries[domain] = entry
	q.save()
	q.logger.Info("pending queue: reset domain to pending", zap.String("domain", domain))
}

// PendingOnly returns a snapshot of entries with status pending.
func (q *Queue) PendingOnly() entities.Entries {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := entities.Entries{}
	for domain, entry := range q.entries {
		if entry.Status == entities.StatusPending {
			pending[domain] = entry
		}
	}
	return pending
}

// All returns a snapshot of every queued entry, safe to
// iterate without holding the queue lock.
func (q *Queue) All() entities.Entries {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make(entities.Entries, len(q.entries))
	for domain, entry := range q.entries {
		all[domain] = entry
	}
	return all
}

// SweepExpired flips pending entries older than ttl to failed and
// returns the newly failed domains. Atomic with respect to concurrent
// Add and Remove calls.
func (q *Queue) SweepExpired(ttl time.Duration) []string {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []string
	for domain, entry := range q.entries {
		if entry.Status != entities.StatusPending {
			continue
		}
		if now.Sub(entry.AddedAt) <= ttl {
			continue
		}

		entry.Status = entities.StatusFailed
		q.entries[domain] = entry
		failed = append(failed, domain)
	}

	if len(failed) > 0 {
		q.save()
		q.logger.Info("pending queue: marked expired domains failed", zap.Strings("domains", failed))
	}
	return failed
}

// save persists the current map. Callers must hold q.mu.
func (q *Queue) save() {
	if err := q.docs.SaveQueue(q.entries); err != nil {
		q.logger.Error("pending queue: failed to persist", zap.Error(err))
	}
}
