package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/recledger/internal/crypto"
	"github.com/alanyoungcy/recledger/internal/domain"
)

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated caller.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// AuthConfig configures SignatureAuth.
type AuthConfig struct {
	MaxSkew      time.Duration
	MaxBodyBytes int64
	// Replay is optional; without it replayed signatures are only bounded by
	// MaxSkew.
	Replay domain.ReplayGuard
	Now    func() time.Time
	// OnFailure is called with a short reason for every rejected request.
	OnFailure func(reason string)
	Logger    *slog.Logger
}

// SignatureAuth authenticates mutating requests. The caller signs the method,
// path, timestamp, nonce and body hash with its key; the recovered address becomes
// the request principal. Safe methods pass through unauthenticated.
func SignatureAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = crypto.DefaultMaxSkew
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fail := func(w http.ResponseWriter, status int, reason, msg string) {
		if cfg.OnFailure != nil {
			cfg.OnFailure(reason)
		}
		writeJSONError(w, status, msg, domain.CodeUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					fail(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
					return
				}
				fail(w, http.StatusBadRequest, "bad_body", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			p, err := crypto.VerifyRequest(r.Header, r.Method, r.URL.Path, body, cfg.Now(), cfg.MaxSkew)
			if err != nil {
				switch {
				case errors.Is(err, crypto.ErrMissingAuth):
					fail(w, http.StatusUnauthorized, "missing", "missing signature headers")
				case errors.Is(err, crypto.ErrStale):
					fail(w, http.StatusUnauthorized, "stale", "request timestamp outside allowed window")
				default:
					fail(w, http.StatusUnauthorized, "bad_signature", "invalid request signature")
				}
				return
			}

			if cfg.Replay != nil {
				seen, err := cfg.Replay.Seen(r.Context(), crypto.ReplayKey(p, r.Header), 2*cfg.MaxSkew)
				if err != nil {
					cfg.Logger.ErrorContext(r.Context(), "replay guard unavailable", slog.String("error", err.Error()))
					writeJSONError(w, http.StatusServiceUnavailable, "replay guard unavailable", domain.CodeInternal)
					return
				}
				if seen {
					fail(w, http.StatusUnauthorized, "replay", "request nonce already used")
					return
				}
			}

			Authenticated(w, p)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string, code uint32) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"code":%d}`, msg, code)
}
