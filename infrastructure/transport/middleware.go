// Package transport puts the signature verifier in front of HTTP handlers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lb-conn/wssecurity/application/ports"
	"github.com/lb-conn/wssecurity/domain"
)

// DefaultMaxBodyBytes bounds the inbound message size.
const DefaultMaxBodyBytes int64 = 1 << 20

// UnauthorizedBody is the only thing a rejected peer learns.
const UnauthorizedBody = "Unauthorized: Invalid WS-Security Signature"

type contextKey struct{}

type options struct {
	maxBodyBytes int64
}

// Option configures the middleware.
type Option func(*options)

// WithMaxBodyBytes sets the largest accepted request body. Non-positive
// values keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// Middleware verifies every request body before it reaches next. Rejected
// requests get 401 with a fixed body and next is never called. Accepted
// requests continue with the verified payload as body and the verdict in the
// request context. A verdict without payload, as produced when no reference
// covers the whole document, is refused too: next only ever reads bytes the
// signature covers.
func Middleware(verifier ports.Verifier, opts ...Option) func(http.Handler) http.Handler {
	o := options{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, o.maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}

			verdict := verifier.Verify(body)
			if !verdict.Accepted || verdict.Payload == nil {
				unauthorized(w)
				return
			}

			payload := verdict.Payload
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, verdict))
			r.Body = io.NopCloser(bytes.NewReader(payload))
			r.ContentLength = int64(len(payload))
			r.Header.Set("Content-Length", strconv.Itoa(len(payload)))
			next.ServeHTTP(w, r)
		})
	}
}

// EchoMiddleware is Middleware for echo routers.
func EchoMiddleware(verifier ports.Verifier, opts ...Option) echo.MiddlewareFunc {
	return echo.WrapMiddleware(Middleware(verifier, opts...))
}

// VerdictFromContext returns the verdict stored by the middleware.
func VerdictFromContext(ctx context.Context) (domain.Verdict, bool) {
	v, ok := ctx.Value(contextKey{}).(domain.Verdict)
	return v, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, UnauthorizedBody)
}
