package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/observability"
)

// DefaultPattern is the rule pattern that matches any path not covered by a
// more specific rule.
const DefaultPattern = "default"

// Limit type labels reported on rejections.
const (
	LimitTypeBurst  = "burst"
	LimitTypeNormal = "normal"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the call was admitted and recorded.
	Allowed bool
	// LimitType names the threshold that rejected the call ("burst" or
	// "normal"); empty when allowed.
	LimitType string
	// Pattern is the rule pattern that matched the request path.
	Pattern string
	// Limit and BurstLimit echo the matched rule's thresholds.
	Limit      int
	BurstLimit int
	// Count is the in-window call count observed before this call.
	Count int
	// RetryAfter is a hint for rejected callers: the window length.
	RetryAfter time.Duration
}

// Limiter performs sliding-window admission checks against a counter store.
type Limiter struct {
	store   CounterStore
	window  time.Duration
	rules   []config.RateLimitRule
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewLimiter creates a limiter from endpoint admission configuration.
func NewLimiter(store CounterStore, cfg config.RateLimitConfig, logger zerolog.Logger, metrics *observability.Metrics) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		store:   store,
		window:  window,
		rules:   cfg.Rules,
		logger:  observability.WithComponent(logger, "ratelimit"),
		metrics: metrics,
	}
}

// Admit checks whether a call identified by key (typically the client IP)
// against an endpoint path may proceed, recording it when admitted.
//
// The burst cap is the outer bound: counts at or above it reject with
// limit_type=burst; counts at or above the normal threshold but under the
// cap reject with limit_type=normal; anything below is admitted and
// recorded. Store failures admit the call — admission control protects the
// service, it must not become the outage.
func (l *Limiter) Admit(ctx context.Context, key, path string) Decision {
	rule := l.resolveRule(path)
	bucket := key + "|" + rule.Pattern

	count, recorded, err := l.store.Admit(ctx, bucket, l.window, rule.Limit)
	if err != nil {
		l.logger.Error().Err(err).Str("bucket", bucket).Msg("counter store failure, admitting")
		l.metrics.RecordRequestAdmitted(rule.Pattern)
		return Decision{Allowed: true, Pattern: rule.Pattern, Limit: rule.Limit, BurstLimit: rule.BurstLimit}
	}

	decision := Decision{
		Pattern:    rule.Pattern,
		Limit:      rule.Limit,
		BurstLimit: rule.BurstLimit,
		Count:      count,
		RetryAfter: l.window,
	}

	if recorded {
		decision.Allowed = true
		l.metrics.RecordRequestAdmitted(rule.Pattern)
		return decision
	}

	if count >= rule.BurstLimit {
		decision.LimitType = LimitTypeBurst
	} else {
		decision.LimitType = LimitTypeNormal
	}

	l.metrics.RecordRequestThrottled(rule.Pattern, decision.LimitType)
	l.logger.Warn().
		Str("key", key).
		Str("pattern", rule.Pattern).
		Int("count", count).
		Str("limit_type", decision.LimitType).
		Msg("request throttled")

	return decision
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// resolveRule picks the longest-prefix rule matching the path, falling back
// to the default rule. With no configured default, an unmatched path gets a
// permissive synthetic rule.
func (l *Limiter) resolveRule(path string) config.RateLimitRule {
	var best *config.RateLimitRule
	var fallback *config.RateLimitRule

	for i := range l.rules {
		rule := &l.rules[i]
		if rule.Pattern == DefaultPattern {
			fallback = rule
			continue
		}
		if strings.HasPrefix(path, rule.Pattern) {
			if best == nil || len(rule.Pattern) > len(best.Pattern) {
				best = rule
			}
		}
	}

	if best != nil {
		return *best
	}
	if fallback != nil {
		return *fallback
	}
	return config.RateLimitRule{Pattern: DefaultPattern, Limit: 1 << 30, BurstLimit: 1 << 30}
}
