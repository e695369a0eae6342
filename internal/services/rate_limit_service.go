package services

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/repositories"
)

// RequestIdentity is the slice of an inbound request the limiter keys on.
type RequestIdentity struct {
	IP     string
	UserID string // empty for unauthenticated requests
}

// RateLimitRule is one static entry in the rule table.
type RateLimitRule struct {
	Max     int
	Window  time.Duration
	KeyFunc func(id RequestIdentity) string
	Message string
}

// KeyByIP keys a rule on the client address.
func KeyByIP(prefix string) func(RequestIdentity) string {
	return func(id RequestIdentity) string { return prefix + ":" + id.IP }
}

// KeyByUserOrIP keys on the authenticated user when present, falling
// back to the client address.
func KeyByUserOrIP(prefix string) func(RequestIdentity) string {
	return func(id RequestIdentity) string {
		if id.UserID != "" {
			return prefix + ":" + id.UserID
		}
		return prefix + ":" + id.IP
	}
}

// RateWindowStore defines the atomic window operation the limiter needs
// from the counter store.
type RateWindowStore interface {
	Touch(ctx context.Context, key string, now time.Time, window time.Duration) (*repositories.WindowState, error)
}

type compiledRule struct {
	pattern *regexp.Regexp
	rule    RateLimitRule
}

// RateLimitService enforces sliding-window request caps per (rule, key).
// Rules are matched on "METHOD PATH": exact entries first, then wildcard
// patterns in registration order, then the default rule.
type RateLimitService struct {
	store     RateWindowStore
	exact     map[string]RateLimitRule
	wildcards []compiledRule
	fallback  RateLimitRule
	policy    StoreErrorPolicy
	logger    *slog.Logger
}

// NewRateLimitService creates a limiter with the given default rule.
// Callers should pass FailOpen: availability beats strict enforcement
// for this guard.
func NewRateLimitService(store RateWindowStore, fallback RateLimitRule, policy StoreErrorPolicy, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		store:    store,
		exact:    make(map[string]RateLimitRule),
		fallback: fallback,
		policy:   policy,
		logger:   logger,
	}
}

// AddRule registers a rule for "METHOD /path". A "*" in the path
// matches any single segment or suffix.
func (s *RateLimitService) AddRule(routeKey string, rule RateLimitRule) {
	if !strings.Contains(routeKey, "*") {
		s.exact[routeKey] = rule
		return
	}

	// Wildcard: escape, then widen the escaped "*" back into a match-all.
	pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(routeKey), `\*`, ".*") + "$"
	s.wildcards = append(s.wildcards, compiledRule{
		pattern: regexp.MustCompile(pattern),
		rule:    rule,
	})
}

// ResolveRule finds the rule governing a request.
func (s *RateLimitService) ResolveRule(method, path string) RateLimitRule {
	routeKey := method + " " + path

	if rule, ok := s.exact[routeKey]; ok {
		return rule
	}
	for _, cr := range s.wildcards {
		if cr.pattern.MatchString(routeKey) {
			return cr.rule
		}
	}
	return s.fallback
}

// Check records the request against its rule's window and decides
// admission. The count compared against the cap is the window population
// before this event was inserted; a denied event therefore still counts
// in storage, trading slight over-admission pressure for a single round
// trip. Headers should be emitted on every response, allowed or not.
func (s *RateLimitService) Check(ctx context.Context, method, path string, id RequestIdentity, now time.Time) (*models.RateLimitDecision, error) {
	rule := s.ResolveRule(method, path)
	return s.checkRule(ctx, rule, id, now)
}

// CheckLoginAttempt is the specialized login variant keyed by source IP,
// independent of the account-level lockout.
func (s *RateLimitService) CheckLoginAttempt(ctx context.Context, ip string, now time.Time) (*models.RateLimitDecision, error) {
	rule, ok := s.exact["POST /auth/login"]
	if !ok {
		rule = s.fallback
	}
	return s.checkRule(ctx, rule, RequestIdentity{IP: ip}, now)
}

func (s *RateLimitService) checkRule(ctx context.Context, rule RateLimitRule, id RequestIdentity, now time.Time) (*models.RateLimitDecision, error) {
	key := rule.KeyFunc(id)

	state, err := s.store.Touch(ctx, key, now, rule.Window)
	if err != nil {
		s.logger.Warn("rate limit store unavailable",
			slog.String("key", key),
			slog.String("on_store_error", s.policy.String()),
			slog.Any("error", err))
		if s.policy == FailOpen {
			return &models.RateLimitDecision{
				Allowed:   true,
				Limit:     rule.Max,
				Remaining: rule.Max - 1,
				ResetAt:   now.Add(rule.Window),
			}, nil
		}
		return nil, models.ErrStoreUnavailable
	}

	resetAt := now.Add(rule.Window)
	if !state.OldestAt.IsZero() {
		resetAt = state.OldestAt.Add(rule.Window)
	}

	if state.Count >= int64(rule.Max) {
		retryAfter := int(resetAt.Sub(now).Seconds()) + 1

		s.logger.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.Int64("count", state.Count),
			slog.Int("max", rule.Max))

		return &models.RateLimitDecision{
			Allowed:           false,
			Limit:             rule.Max,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfter,
		}, nil
	}

	remaining := rule.Max - int(state.Count) - 1
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitDecision{
		Allowed:   true,
		Limit:     rule.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
