package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/orozarna/internal/auth"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/origin"
)

type contextKey string

const (
	claimsKey    contextKey = "claims"
	requestIDKey contextKey = "request_id"
	originKey    contextKey = "origin"
)

// Request headers read by the middleware.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderDeviceID  = "X-Device-ID"
)

// requestOrigin is where a request came from, resolved once per request.
type requestOrigin struct {
	Class    model.OriginClass
	Addr     netip.Addr
	DeviceID string
}

// RequestIDMiddleware assigns every request an id, reusing a well formed
// one supplied by the client.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// OriginMiddleware classifies the network every request arrived from.
func OriginMiddleware(resolver origin.Resolver, classifier *origin.Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			md := resolver.Resolve(r)
			o := requestOrigin{
				Class:    classifier.Classify(md),
				Addr:     md.SourceAddr,
				DeviceID: strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), originKey, o)))
		})
	}
}

// TimeoutMiddleware bounds the request context.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware validates the bearer token and adds its claims to the context.
func AuthMiddleware(accounts *auth.Accounts) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := accounts.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if errors.Is(err, auth.ErrInvalidSession) {
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// RequestID returns the request id assigned by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func originOf(ctx context.Context) requestOrigin {
	o, ok := ctx.Value(originKey).(requestOrigin)
	if !ok {
		return requestOrigin{Class: model.OriginUnknown}
	}
	return o
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests with method, path, status, origin and duration.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.RequestURI(),
				"status", rec.status,
				"duration", time.Since(start).Round(time.Millisecond),
				"request_id", rec.Header().Get(HeaderRequestID),
			)
		})
	}
}
