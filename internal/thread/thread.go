// Package thread groups time-ordered messages into stable threads.
//
// Thread identity is a pure function of (explicit id, participant set),
// never of send order: two messages with the same explicit id, or the
// same normalized participant set, always resolve to the same thread.
// Threads are created lazily on first message and never deleted.
package thread

import (
	"sort"
	"time"

	"github.com/mirrorlab/devicesim/internal/canon"
	"github.com/mirrorlab/devicesim/internal/fault"
)

// Thread is the grouping unit for messages sharing participants or an
// explicit conversation id.
type Thread struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"` // normalized, sorted, deduplicated
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Key derives the canonical thread key for a message.
//
// An explicit id wins verbatim. Otherwise the key is a domain-separated
// hash of the normalized, order-independent participant set, so
// ("alice", ["bob"]) and ("Bob", ["ALICE"]) derive the same key.
//
// Pure function: unit-testable independent of storage.
func Key(explicitID string, participants []string) (string, error) {
	if explicitID != "" {
		return explicitID, nil
	}
	normalized := normalize(participants)
	if len(normalized) == 0 {
		return "", fault.InvalidArgumentf("message has no resolvable participants")
	}
	h, err := canon.Hash(canon.DomainThreadKey, normalized)
	if err != nil {
		return "", err
	}
	return "t:" + h[:16], nil
}

// normalize canonicalizes addresses: NFC + trim + lowercase, drop
// empties, deduplicate, sort.
func normalize(participants []string) []string {
	seen := make(map[string]bool, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		addr := canon.NormalizeAddress(p)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Resolver maintains the thread set for one messaging facet.
//
// Not safe for concurrent use on its own; the owning environment
// serializes access under its lock.
type Resolver struct {
	threads map[string]*Thread
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{threads: make(map[string]*Thread)}
}

// Resolve maps a message to its thread, creating the thread on first
// contact, and updates aggregate metadata:
//
//   - MessageCount increments by exactly one
//   - LastMessageAt becomes max(existing, at)
//   - the message's participants are unioned in
//
// Returns the thread id. Fails with InvalidArgument when no explicit id
// is given and the participant set normalizes to empty.
func (r *Resolver) Resolve(explicitID string, participants []string, at time.Time) (string, error) {
	key, err := Key(explicitID, participants)
	if err != nil {
		return "", err
	}

	at = at.UTC()
	th, ok := r.threads[key]
	if !ok {
		th = &Thread{
			ID:            key,
			CreatedAt:     at,
			LastMessageAt: at,
		}
		r.threads[key] = th
	}

	th.MessageCount++
	if at.After(th.LastMessageAt) {
		th.LastMessageAt = at
	}
	th.Participants = union(th.Participants, normalize(participants))

	return key, nil
}

// Thread returns a copy of the thread's metadata.
// Fails with NotFound for an unknown id.
func (r *Resolver) Thread(id string) (Thread, error) {
	th, ok := r.threads[id]
	if !ok {
		return Thread{}, fault.NotFoundf("thread %q not found", id)
	}
	return snapshot(th), nil
}

// Threads returns all threads in deterministic order: CreatedAt
// ascending, id as tiebreak. Copies, safe to hold across mutations.
func (r *Resolver) Threads() []Thread {
	out := make([]Thread, 0, len(r.threads))
	for _, th := range r.threads {
		out = append(out, snapshot(th))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of threads.
func (r *Resolver) Len() int {
	return len(r.threads)
}

func snapshot(th *Thread) Thread {
	cp := *th
	cp.Participants = append([]string{}, th.Participants...)
	return cp
}

// union merges two sorted, deduplicated participant slices.
func union(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range incoming {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
