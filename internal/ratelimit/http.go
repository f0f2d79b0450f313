package ratelimit

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc extracts the limiting identifier from a request.
type KeyFunc func(r *http.Request) string

// ClientIP is the default KeyFunc: the first X-Forwarded-For hop when
// present, otherwise the RemoteAddr host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// SetHeaders writes the standard rate-limit response headers for a result.
// Retry-After is only set on denials.
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}

// Middleware throttles an http.Handler under the named category. Denied
// requests receive 429 with the rate-limit headers. A misconfigured
// category is a server bug: it is logged and the request denied with 500.
func Middleware(l *Limiter, category string, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Check(keyFn(r), category)
			if err != nil {
				if errors.Is(err, ErrUnknownCategory) {
					log.Printf("[ratelimit] %v (denying request)", err)
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				log.Printf("[ratelimit] check failed: %v", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			SetHeaders(w.Header(), res)
			if !res.Allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
