package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrMissingCredential = errors.New("missing Authorization header")

// MissingCredentialMessage is the body text returned with a 401.
const MissingCredentialMessage = "Missing Authorization header"

// Token is the caller's ARM access token. It is forwarded upstream as-is and
// never validated, refreshed or written to logs.
type Token string

func (t Token) String() string {
	if t == "" {
		return ""
	}
	return "[redacted]"
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t Token) Len() int { return len(t) }

// Value returns the raw credential for the outbound Authorization header.
func (t Token) Value() string { return string(t) }

// ParseAuthorization accepts either "Bearer <token>" or a raw token.
func ParseAuthorization(header string) (Token, error) {
	v := strings.TrimSpace(header)
	const scheme = "Bearer"
	switch {
	case strings.EqualFold(v, scheme):
		v = ""
	case len(v) > len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) && (v[len(scheme)] == ' ' || v[len(scheme)] == '\t'):
		v = strings.TrimSpace(v[len(scheme):])
	}
	if v == "" {
		return "", ErrMissingCredential
	}
	return Token(v), nil
}

// CallerKey derives a stable, non-reversible identifier for a token, suitable
// for rate-limit keys.
func CallerKey(t Token) string {
	h := sha256.New()
	h.Write([]byte(t))
	return hex.EncodeToString(h.Sum(nil))
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	tokenKey     contextKey = "token"
	requestIDKey contextKey = "request_id"
)

func NewMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := chimiddleware.GetReqID(ctx)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			log.Info().
				Str("request_id", requestID).
				Str("path", r.URL.Path).
				Int("authorization_length", len(authHeader)).
				Msg("relay request received")

			token, err := ParseAuthorization(authHeader)
			if err != nil {
				log.Warn().Str("request_id", requestID).Msg("missing Authorization header")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": MissingCredentialMessage})
				return
			}

			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helpers to extract from context
func TokenFrom(ctx context.Context) Token {
	if t, ok := ctx.Value(tokenKey).(Token); ok {
		return t
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithToken(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}
