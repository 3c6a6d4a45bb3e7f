package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/inventory-service/pkg/redis"
)

// processedMarker replaces the owner token once a message has been handled.
const processedMarker = "processed"

// State is the result of a Claim.
type State int

const (
	// Claimed means the caller now owns the message and must either
	// MarkProcessed or Release it.
	Claimed State = iota
	// Processed means an earlier delivery finished; the message can be acknowledged.
	Processed
	// InFlight means another delivery holds the claim, or held it and died
	// before finishing. The message must not be acknowledged yet.
	InFlight
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Processed:
		return "processed"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager tracks transport message IDs per consumer in Redis. Keys follow the
// `inv:idempotency:msg:<consumer>:<message_id>` pattern. While a delivery is
// being handled the key holds the owner token with a short claim TTL; once the
// handler succeeds it is overwritten with a processed marker and the long TTL.
type Manager struct {
	store        redis.IdempotencyStore
	claimTTL     time.Duration
	processedTTL time.Duration
	owner        string
}

// NewManager builds an idempotency guard. claimTTL bounds how long a crashed
// worker can block redelivery; processedTTL is how long finished messages are
// remembered. owner identifies this worker; only the owner can release its claims.
func NewManager(store redis.IdempotencyStore, claimTTL, processedTTL time.Duration, owner string) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if claimTTL <= 0 {
		return nil, errors.New("claim ttl must be positive")
	}
	if processedTTL < claimTTL {
		return nil, errors.New("processed ttl must not be shorter than claim ttl")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" || owner == processedMarker {
		return nil, errors.New("owner is required")
	}
	return &Manager{
		store:        store,
		claimTTL:     claimTTL,
		processedTTL: processedTTL,
		owner:        owner,
	}, nil
}

// Claim tries to take the message for this owner.
func (m *Manager) Claim(ctx context.Context, consumer, messageID string) (State, error) {
	key, err := m.key(consumer, messageID)
	if err != nil {
		return InFlight, err
	}
	set, err := m.store.SetNX(ctx, key, m.owner, m.claimTTL)
	if err != nil {
		return InFlight, err
	}
	if set {
		return Claimed, nil
	}
	val, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return InFlight, err
	}
	if ok && val == processedMarker {
		return Processed, nil
	}
	// A key that vanished between SETNX and GET had an expired claim; the
	// redelivery will take it.
	return InFlight, nil
}

// MarkProcessed records that the message was handled. Call it only after the
// handler's effects are durable.
func (m *Manager) MarkProcessed(ctx context.Context, consumer, messageID string) error {
	key, err := m.key(consumer, messageID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, processedMarker, m.processedTTL)
}

// Release drops this owner's claim so a redelivered message can be processed
// again. A claim held by another worker, or a processed marker, is kept.
func (m *Manager) Release(ctx context.Context, consumer, messageID string) error {
	key, err := m.key(consumer, messageID)
	if err != nil {
		return err
	}
	_, err = m.store.ReleaseIfOwner(ctx, key, m.owner)
	return err
}

func (m *Manager) key(consumer, messageID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(messageID) == "" {
		return "", errors.New("message id is required")
	}
	return m.store.IdempotencyKey("msg:"+consumer, messageID), nil
}
