package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX: the first writer of
// a key wins and every later writer within ttl sees it as already used.
type ReplayGuard struct {
	c *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{c: c}
}

// Seen records key and reports whether it was already recorded.
func (g *ReplayGuard) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.c.Key("replay:", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay guard %s: %w", key, err)
	}
	return !ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
