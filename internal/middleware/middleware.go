package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"prediction-dashboard/internal/config"
	"prediction-dashboard/internal/errors"
	"prediction-dashboard/internal/observability"
)

const (
	streamPrefix = "/sse/"
	healthPath   = "/health"

	rateLimitRetryAfter = time.Second
	streamRetryAfter    = 5 * time.Second

	// clientIdleTTL is how long a client without open streams keeps its
	// limiter state.
	clientIdleTTL = time.Minute
)

type Middleware func(http.Handler) http.Handler

func Chain(middlewares ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// IsStream reports whether r opens a long-lived event stream rather than a
// request/response exchange.
func IsStream(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, streamPrefix) ||
		strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = observability.NewRequestID()
			}

			w.Header().Set("X-Request-ID", requestID)
			ctx := observability.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logger writes one line per finished request. Streams get an extra line
// when they open, since they may stay connected for hours. Health checks
// are logged at debug level.
func Logger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapWriter(w)
			requestID := observability.GetRequestID(r.Context())
			stream := IsStream(r)

			if stream {
				logger.Info("stream opened",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent(),
					"request_id", requestID,
				)
			}

			next.ServeHTTP(wrapped, r)

			msg, level := "request completed", slog.LevelInfo
			switch {
			case stream:
				msg = "stream closed"
			case r.URL.Path == healthPath:
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, msg,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.bytes,
				"duration", time.Since(start),
				"request_id", requestID,
			)
		})
	}
}

// Tracing opens a span per request; backend calls made while serving it
// become child spans. The finished span is logged at debug level.
func Tracing(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
			defer func() {
				span.Finish()
				logger.LogAttrs(context.Background(), slog.LevelDebug, "span finished", span.LogAttrs()...)
			}()

			span.SetTag("http.method", r.Method)
			span.SetTag("http.url", r.URL.String())
			if requestID := observability.GetRequestID(r.Context()); requestID != "" {
				span.SetTag("request_id", requestID)
			}
			if IsStream(r) {
				span.SetTag("http.stream", "true")
			}

			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetTag("http.status_code", strconv.Itoa(wrapped.statusCode))
			if wrapped.statusCode >= 400 {
				span.SetError(fmt.Errorf("HTTP %d", wrapped.statusCode))
			}
		})
	}
}

// CORS allows the configured origins to call the JSON API and the datastar
// actions, which send a Datastar-Request header.
func CORS(config config.SecurityConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			w.Header().Add("Vary", "Origin")
			if isAllowedOrigin(origin, config.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Datastar-Request")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline' 'unsafe-eval' https://cdn.jsdelivr.net; style-src 'self' 'unsafe-inline'; connect-src 'self'")
			if IsStream(r) {
				// Reverse proxies must not buffer event streams.
				w.Header().Set("X-Accel-Buffering", "no")
			}

			next.ServeHTTP(w, r)
		})
	}
}

type clientState struct {
	limiter  *rate.Limiter
	streams  int
	lastSeen time.Time
}

// RateLimiter keeps a token bucket and an open-stream count per client IP.
// Idle clients are pruned lazily on access.
type RateLimiter struct {
	clients   map[string]*clientState
	config    config.SecurityConfig
	now       func() time.Time
	lastPrune time.Time
	mu        sync.Mutex
}

func NewRateLimiter(config config.SecurityConfig) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientState),
		config:  config,
		now:     time.Now,
	}
}

func (rl *RateLimiter) clientLocked(ip string) *clientState {
	now := rl.now()
	if now.Sub(rl.lastPrune) > clientIdleTTL {
		for key, c := range rl.clients {
			if c.streams == 0 && now.Sub(c.lastSeen) > clientIdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastPrune = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientState{limiter: rate.NewLimiter(rate.Limit(rl.config.RateLimitRPS), rl.config.RateLimitBurst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c
}

func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.config.EnableRateLimit {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.clientLocked(ip).limiter.Allow()
}

// AcquireStream reserves one of the client's stream slots. The returned
// release func frees it and is safe to call more than once.
func (rl *RateLimiter) AcquireStream(ip string) (release func(), ok bool) {
	if rl.config.MaxStreams <= 0 {
		return func() {}, true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c := rl.clientLocked(ip)
	if c.streams >= rl.config.MaxStreams {
		return nil, false
	}
	c.streams++

	var once sync.Once
	return func() {
		once.Do(func() {
			rl.mu.Lock()
			defer rl.mu.Unlock()
			c.streams--
			c.lastSeen = rl.now()
		})
	}, true
}

func (rl *RateLimiter) trackedClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimit applies the token bucket to ordinary requests. Event streams
// are exempt from it, since a stream is one request held open, and are
// capped by the per-client stream count instead.
func RateLimit(limiter *RateLimiter, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			requestID := observability.GetRequestID(r.Context())

			if IsStream(r) {
				release, ok := limiter.AcquireStream(ip)
				if !ok {
					logger.Warn("stream limit exceeded",
						"ip", ip,
						"max_streams", limiter.config.MaxStreams,
						"request_id", requestID,
					)
					errors.WriteError(w, logger, errors.RateLimit("Too many open streams").WithRetryAfter(streamRetryAfter), requestID)
					return
				}
				defer release()
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"request_id", requestID,
				)
				errors.WriteError(w, logger, errors.RateLimit("Too many requests").WithRetryAfter(rateLimitRetryAfter), requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func TrustedProxy(config config.SecurityConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isTrustedProxy(r.RemoteAddr, config.TrustedProxies) {
				r.Header.Del("X-Forwarded-For")
				r.Header.Del("X-Real-IP")
				r.Header.Del("X-Forwarded-Proto")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recovery turns a handler panic into a 500 envelope. When the panic hits
// after the response has started, as in a stream, only the log is written
// and the connection is dropped.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrapWriter(w)

			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				requestID := observability.GetRequestID(r.Context())
				logger.Error("panic recovered",
					"error", err,
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"response_started", wrapped.wroteHeader,
					"stack", string(debug.Stack()),
				)

				if wrapped.wroteHeader {
					return
				}
				errors.WriteError(w, logger, errors.Internal("An unexpected error occurred"), requestID)
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	bytes       int64
}

// wrapWriter reuses an existing wrapper so stacked middleware share one
// status and byte count.
func wrapWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher if the underlying ResponseWriter does
func (rw *responseWriter) Flush() {
	rw.wroteHeader = true
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isAllowedOrigin(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, allowedOrigin := range allowed {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}
	return false
}

func isTrustedProxy(remoteAddr string, trusted []string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	for _, trustedIP := range trusted {
		if trustedIP == host {
			return true
		}
	}
	return false
}
