package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReminderLedger remembers which reminders were already delivered. It uses
// redis when a client is configured and an in-process map otherwise.
type ReminderLedger struct {
	client *redis.Client
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewReminderLedger constructs a ledger. A nil client selects the in-memory store.
func NewReminderLedger(client *redis.Client, logger *zap.Logger) *ReminderLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderLedger{
		client:  client,
		logger:  logger,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkOnce records key for ttl and reports whether this call was the first to do so.
func (l *ReminderLedger) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.client != nil {
		ok, err := l.client.SetNX(ctx, key, l.now().UTC().Format(time.RFC3339), ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		return ok, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, expires := range l.entries {
		if !expires.After(now) {
			delete(l.entries, k)
		}
	}
	if _, seen := l.entries[key]; seen {
		return false, nil
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}
