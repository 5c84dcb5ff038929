package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy defines the CORS headers to emit for matching origins.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSPolicy is what the booking surface needs from browser widgets.
func DefaultCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader},
		MaxAge:         10 * time.Minute,
	}
}

// WithCORS is a no-op when AllowedOrigins is empty.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := normalizeList(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	static := map[string]string{}
	if v := strings.Join(normalizeList(cfg.AllowedMethods), ", "); v != "" {
		static["Access-Control-Allow-Methods"] = v
	}
	if v := strings.Join(normalizeList(cfg.AllowedHeaders), ", "); v != "" {
		static["Access-Control-Allow-Headers"] = v
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		static["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if cfg.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow, ok := matchOrigin(origin, origins, cfg.AllowCredentials)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			for k, v := range static {
				h.Set(k, v)
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func matchOrigin(origin string, allowed []string, allowCredentials bool) (string, bool) {
	for _, candidate := range allowed {
		switch {
		case candidate == "*" && allowCredentials:
			// Browsers reject "*" together with credentials; echo the origin instead.
			return origin, true
		case candidate == "*":
			return "*", true
		case strings.EqualFold(candidate, origin):
			return origin, true
		}
	}
	return "", false
}
