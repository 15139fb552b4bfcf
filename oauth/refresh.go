// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted through a Store. It performs jittered checks and
// refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Store reads and writes provider tokens; db.TokenStoreAdapter satisfies it.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error
}

// StartRefresher launches a goroutine that periodically checks a stored token and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	logger := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshIfDue(ctx, store, provider, window, fn)
			switch {
			case err != nil:
				logger.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				logger.Info("token refreshed")
			}
			// per-iteration jitter (+/-20% of interval)
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// RefreshIfDue refreshes the provider token when it expires within window.
// It reports whether a new token was stored. Missing tokens and tokens
// without a refresh token are skipped.
func RefreshIfDue(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	at, rt, exp, scope, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	if at == "" && rt == "" {
		return false, nil
	}
	if rt == "" || time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, fmt.Errorf("persist token: %w", err)
	}
	return true, nil
}
