package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/peteollama/jamie-gateway/internal/httputil"
	"github.com/peteollama/jamie-gateway/internal/telemetry"
)

const (
	headerRateLimitRequests  = "X-RateLimit-Limit-Requests"
	headerRateLimitRemaining = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset     = "X-RateLimit-Reset-Requests"
	headerRetryAfter         = "Retry-After"
)

// Middleware enforces a per-caller requests-per-minute limit. Callers are
// bucketed by remote address; chi's RealIP middleware runs first so the
// address survives proxies. rpm is read per request to honor hot reload.
func Middleware(limiter *Limiter, rpm func() int, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := rpm()
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqID := w.Header().Get("X-Request-ID")
			result, _ := limiter.Check(r.Context(), "ip:"+r.RemoteAddr, int64(limit), time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(limit))
			w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"remote", r.RemoteAddr,
					"limit", limit,
				)
				if metrics != nil {
					metrics.RecordRateLimitHit("rpm")
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					"Rate limit exceeded: retry after "+result.ResetAt.Format(time.RFC3339))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
