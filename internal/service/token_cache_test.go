package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports/mocks"
	"stk-push-gateway/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestTokenCache_CachesUntilMargin(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTokenFetcher(ctrl)
	clk := clock.NewFake(t0)
	cache := NewTokenCache(fetcher, clk, time.Minute, false, newTestLogger())

	fetcher.EXPECT().FetchToken(gomock.Any()).
		Return(&domain.AccessToken{Value: "tok-1", ExpiresAt: t0.Add(time.Hour)}, nil)

	for i := 0; i < 3; i++ {
		tok, err := cache.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}

	// Inside the safety margin the token is refreshed.
	clk.Advance(59*time.Minute + time.Second)
	fetcher.EXPECT().FetchToken(gomock.Any()).
		Return(&domain.AccessToken{Value: "tok-2", ExpiresAt: clk.Now().Add(time.Hour)}, nil)

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestTokenCache_Invalidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTokenFetcher(ctrl)
	cache := NewTokenCache(fetcher, clock.NewFake(t0), time.Minute, false, newTestLogger())

	gomock.InOrder(
		fetcher.EXPECT().FetchToken(gomock.Any()).Return(&domain.AccessToken{Value: "tok-1", ExpiresAt: t0.Add(time.Hour)}, nil),
		fetcher.EXPECT().FetchToken(gomock.Any()).Return(&domain.AccessToken{Value: "tok-2", ExpiresAt: t0.Add(time.Hour)}, nil),
	)

	tok, _ := cache.AccessToken(context.Background())
	assert.Equal(t, "tok-1", tok)

	cache.Invalidate()
	tok, _ = cache.AccessToken(context.Background())
	assert.Equal(t, "tok-2", tok)
}

// countingFetcher blocks inside FetchToken until released so callers pile up on one flight.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (f *countingFetcher) FetchToken(ctx context.Context) (*domain.AccessToken, error) {
	f.calls.Add(1)
	<-f.release
	return &domain.AccessToken{Value: "shared", ExpiresAt: t0.Add(time.Hour)}, nil
}

func TestTokenCache_SingleFlight(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	cache := NewTokenCache(fetcher, clock.NewFake(t0), time.Minute, false, newTestLogger())

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.AccessToken(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	for _, tok := range results {
		assert.Equal(t, "shared", tok)
	}
}

func TestTokenCache_FetchError_Live(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTokenFetcher(ctrl)
	cache := NewTokenCache(fetcher, clock.NewFake(t0), time.Minute, false, newTestLogger())

	fetcher.EXPECT().FetchToken(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := cache.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestTokenCache_FetchError_Synthetic(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTokenFetcher(ctrl)
	clk := clock.NewFake(t0)
	cache := NewTokenCache(fetcher, clk, time.Minute, true, newTestLogger())

	fetcher.EXPECT().FetchToken(gomock.Any()).Return(nil, errors.New("connection refused"))

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "SIMULATED-"))

	// The synthetic token is reused for its hour of validity.
	clk.Advance(30 * time.Minute)
	again, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}
