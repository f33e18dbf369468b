package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// hashTimeFormat pins the timestamp precision that enters the digest.
// Postgres stores timestamps at microsecond resolution, so the digest must
// survive a storage round-trip at that precision.
const hashTimeFormat = "2006-01-02T15:04:05.000000Z"

// HashChain links audit events into a tamper-evident sequence. Each event
// carries the SHA-256 digest of its own content plus the digest of the
// previous event; altering or removing any stored event breaks the chain
// from that point on.
type HashChain struct {
	mu          sync.RWMutex
	lastHash    string
	initialized bool
}

// NewHashChain creates a chain with no history. The first event it links
// gets an empty PrevHash.
func NewHashChain() *HashChain {
	return &HashChain{}
}

// InitializeWithHash seeds the chain from persisted state so that new
// events continue an existing trail instead of starting a fresh one.
func (hc *HashChain) InitializeWithHash(hash string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
	hc.initialized = true
}

// ComputeEventHash links ev to the chain and advances it. PrevHash and Hash
// are set on ev. Linking and advancing happen under one lock so two
// concurrently logged events can never claim the same predecessor.
func (hc *HashChain) ComputeEventHash(ev *Event) (string, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	ev.PrevHash = hc.lastHash
	hash, err := eventDigest(ev)
	if err != nil {
		return "", err
	}

	ev.Hash = hash
	hc.lastHash = hash
	hc.initialized = true

	return hash, nil
}

// GetLastHash returns the digest of the most recently linked event.
func (hc *HashChain) GetLastHash() string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastHash
}

// IsInitialized reports whether the chain has linked or been seeded with
// at least one event.
func (hc *HashChain) IsInitialized() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.initialized
}

// VerifyEventHash recomputes an event's digest and compares it with the
// stored one.
func VerifyEventHash(ev *Event) (bool, error) {
	hash, err := eventDigest(ev)
	if err != nil {
		return false, err
	}
	return hash == ev.Hash, nil
}

// VerifyChain checks that every event's digest is intact and that each
// event links to its predecessor. The first event anchors the window: its
// PrevHash is not checked, so a time slice cut out of a longer trail still
// verifies. Events must be in chronological order.
func VerifyChain(events []*Event) error {
	for i, ev := range events {
		ok, err := VerifyEventHash(ev)
		if err != nil {
			return fmt.Errorf("verify event %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("event %d (%s) has an invalid hash", i, ev.ID)
		}

		if i > 0 && ev.PrevHash != events[i-1].Hash {
			return fmt.Errorf("event %d (%s) breaks the chain: prev_hash %s, want %s",
				i, ev.ID, ev.PrevHash, events[i-1].Hash)
		}
	}

	return nil
}

// eventDigest computes the SHA-256 digest over the canonical JSON form of
// an event's content and its PrevHash. The stored Hash itself is excluded.
func eventDigest(ev *Event) (string, error) {
	input := struct {
		ID            string    `json:"id"`
		Timestamp     string    `json:"timestamp"`
		Type          EventType `json:"type"`
		Action        string    `json:"action"`
		Success       bool      `json:"success"`
		Serial        string    `json:"serial,omitempty"`
		TokenType     string    `json:"token_type,omitempty"`
		User          string    `json:"user,omitempty"`
		Realm         string    `json:"realm,omitempty"`
		Administrator string    `json:"administrator,omitempty"`
		Info          string    `json:"info,omitempty"`
		Client        string    `json:"client,omitempty"`
		Policies      []string  `json:"policies,omitempty"`
		PrevHash      string    `json:"prev_hash"`
	}{
		ID:            ev.ID.String(),
		Timestamp:     ev.Timestamp.UTC().Format(hashTimeFormat),
		Type:          ev.Type,
		Action:        ev.Action,
		Success:       ev.Success,
		Serial:        ev.Serial,
		TokenType:     ev.TokenType,
		User:          ev.User,
		Realm:         ev.Realm,
		Administrator: ev.Administrator,
		Info:          ev.Info,
		Client:        ev.Client,
		Policies:      ev.Policies,
		PrevHash:      ev.PrevHash,
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal event for hashing: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
