package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/metrics"
	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/services"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
)

// RateLimitChecker is the sliding-window decision the middleware needs.
type RateLimitChecker interface {
	Check(ctx context.Context, method, path string, id services.RequestIdentity, now time.Time) (*models.RateLimitDecision, error)
}

// SlidingWindowLimit enforces the distributed per-(rule, key) cap and
// emits limit headers on every response, allowed or denied, so clients
// can self-throttle. Mount it after the auth middleware wherever
// user-keyed rules apply; before it, every rule degrades to the client
// address.
func SlidingWindowLimit(checker RateLimitChecker, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := services.RequestIdentity{
				IP: pkghttp.ExtractClientIP(r, ipConfig),
			}
			if claims := auth.GetUserFromContext(r); claims != nil {
				id.UserID = claims.UserID
			}

			decision, err := checker.Check(r.Context(), r.Method, r.URL.Path, id, time.Now())
			if err != nil {
				// Only a fail-closed limiter surfaces store errors.
				pkghttp.WriteError(w, http.StatusServiceUnavailable, "store_unavailable",
					"Rate limiting temporarily unavailable")
				return
			}

			writeRateLimitHeaders(w, decision)

			if !decision.Allowed {
				metrics.RateLimitDenials.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
				pkghttp.WriteTooManyRequests(w, "Too many requests, please slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, d *models.RateLimitDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// InProcessIPLimit is the outermost, cheapest layer: a per-instance IP
// throttle on auth endpoints that sheds abusive traffic before it
// reaches the shared counter store.
func InProcessIPLimit(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests from this address")
		}),
	)
}
