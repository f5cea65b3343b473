package middlewares

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sbilibin2017/gw-accounts/internal/logger"
	"github.com/sbilibin2017/gw-accounts/internal/models"
)

//go:generate mockgen -source=throttle.go -destination=throttle_mock.go -package=middlewares

// Hitter counts attempts per key within a window.
type Hitter interface {
	Hit(ctx context.Context, key string) (int64, time.Duration, error)
}

// ThrottleMiddleware rejects a client with 429 once it has made more than
// limit requests in the current window. Clients are keyed by r.RemoteAddr,
// which chi's RealIP rewrites from client headers; mount RealIP only behind
// a trusted proxy.
// Counter errors are logged and the request is let through.
func ThrottleMiddleware(hitter Hitter, limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := clientIP(r)

			n, left, err := hitter.Hit(ctx, key)
			if err != nil {
				logger.FromContext(ctx).Errorw("throttle check failed", "client", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			if n > limit {
				logger.FromContext(ctx).Warnw("request throttled", "client", key, "attempts", n, "limit", limit)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(left.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{
					Error: "too many registration attempts",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
