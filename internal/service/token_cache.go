package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const syntheticTokenTTL = time.Hour

// TokenCache hands out provider access tokens, refreshing at most once at a time.
type TokenCache struct {
	fetcher   ports.TokenFetcher
	clock     clock.Clock
	margin    time.Duration
	synthetic bool
	log       zerolog.Logger

	mu    sync.RWMutex
	token *domain.AccessToken
	group singleflight.Group
}

var _ ports.TokenProvider = (*TokenCache)(nil)

// NewTokenCache creates a token cache. When synthetic is set, a failed fetch yields a
// locally generated token instead of an error so simulated flows keep working.
func NewTokenCache(fetcher ports.TokenFetcher, clk clock.Clock, margin time.Duration, synthetic bool, log zerolog.Logger) *TokenCache {
	return &TokenCache{
		fetcher:   fetcher,
		clock:     clk,
		margin:    margin,
		synthetic: synthetic,
		log:       log,
	}
}

// AccessToken returns the cached token while it is valid beyond the safety margin.
// Concurrent callers during a refresh share a single fetch.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok.ValidAt(c.clock.Now(), c.margin) {
		return tok.Value, nil
	}

	v, err, shared := c.group.Do("token", func() (interface{}, error) {
		// Another flight may have finished between the read above and this call.
		c.mu.RLock()
		current := c.token
		c.mu.RUnlock()
		if current.ValidAt(c.clock.Now(), c.margin) {
			return current.Value, nil
		}
		// The flight outlives any single caller, so it must not inherit one caller's cancellation.
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug().Msg("token refresh shared with concurrent caller")
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	tok, err := c.fetcher.FetchToken(ctx)
	if err != nil {
		if !c.synthetic {
			c.log.Error().Err(err).Msg("access token fetch failed")
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		c.log.Warn().Err(err).Msg("access token fetch failed, issuing synthetic token")
		tok = &domain.AccessToken{
			Value:     "SIMULATED-" + uuid.NewString(),
			ExpiresAt: c.clock.Now().Add(syntheticTokenTTL),
		}
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	c.log.Debug().Time("expires_at", tok.ExpiresAt).Msg("access token refreshed")
	return tok.Value, nil
}
