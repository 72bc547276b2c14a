package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/cache"
)

const turnCacheTTL = 24 * time.Hour

// JSONCache is the part of the Redis cache the turn cache needs
type JSONCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// TurnCache remembers the response of each turn so a replayed request gets
// the original answer back. A nil backend turns it into a no-op; replays are
// then rebuilt from the session.
type TurnCache struct {
	backend JSONCache
	log     *utils.Logger
}

func NewTurnCache(backend JSONCache, log *utils.Logger) *TurnCache {
	return &TurnCache{backend: backend, log: log}
}

func turnKey(sessionID string, sequence int64) string {
	return fmt.Sprintf("turn:%s:%d", sessionID, sequence)
}

// Get returns the cached response for the turn, if any
func (c *TurnCache) Get(ctx context.Context, sessionID string, sequence int64) (*TurnResponse, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}
	var resp TurnResponse
	if err := c.backend.GetJSON(ctx, turnKey(sessionID, sequence), &resp); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.log.Warn("Turn cache read failed", "session_id", sessionID, "sequence", sequence, "error", err)
		}
		return nil, false
	}
	return &resp, true
}

// Put stores the response; failures are logged and otherwise ignored
func (c *TurnCache) Put(ctx context.Context, resp *TurnResponse) {
	if c == nil || c.backend == nil || resp == nil {
		return
	}
	if err := c.backend.SetJSON(ctx, turnKey(resp.SessionID, resp.Sequence), resp, turnCacheTTL); err != nil {
		c.log.Warn("Turn cache write failed", "session_id", resp.SessionID, "sequence", resp.Sequence, "error", err)
	}
}
