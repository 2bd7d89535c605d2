package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/crypto"
	"github.com/alanyoungcy/recledger/internal/domain"
)

const testKey = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoPrincipal writes the authenticated principal and the body it saw.
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	body, _ := io.ReadAll(r.Body)
	if ok {
		w.Header().Set("X-Seen-Principal", p.Hex())
	}
	w.Write(body)
})

func TestSignatureAuth(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	var reasons []string
	h := SignatureAuth(AuthConfig{
		OnFailure: func(r string) { reasons = append(reasons, r) },
		Logger:    quietLogger(),
	})(echoPrincipal)

	body := []byte(`{"amount":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/accounts/withdraw", bytes.NewReader(body))
	require.NoError(t, s.SignRequest(req.Header, req.Method, req.URL.Path, body, time.Now()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.Address().Hex(), rec.Header().Get("X-Seen-Principal"))
	assert.Equal(t, string(body), rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/v1/accounts/withdraw", bytes.NewReader([]byte(`{"amount":6}`)))
	require.NoError(t, s.SignRequest(req.Header, req.Method, req.URL.Path, body, time.Now()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request signature","code":200}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Seen-Principal"))

	assert.Equal(t, []string{"bad_signature"}, reasons)
}

type memReplay map[string]bool

func (m memReplay) Seen(_ context.Context, key string, _ time.Duration) (bool, error) {
	if m[key] {
		return true, nil
	}
	m[key] = true
	return false, nil
}

func TestSignatureAuthRejectsReencodedReplay(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	var reasons []string
	h := SignatureAuth(AuthConfig{
		Replay:    memReplay{},
		OnFailure: func(r string) { reasons = append(reasons, r) },
		Logger:    quietLogger(),
	})(echoPrincipal)

	body := []byte(`{"amount":1000}`)
	path := "/v1/accounts/0x00000000000000000000000000000000000000b1/credit"
	orig := http.Header{}
	require.NoError(t, s.SignRequest(orig, http.MethodPost, path, body, time.Now()))
	send := func(mutate func(http.Header)) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		for k, v := range orig {
			req.Header[k] = append([]string(nil), v...)
		}
		if mutate != nil {
			mutate(req.Header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send(nil))
	assert.Equal(t, http.StatusUnauthorized, send(nil))

	sig, err := hexutil.Decode(orig.Get(crypto.HeaderSignature))
	require.NoError(t, err)
	shifted := append([]byte(nil), sig...)
	shifted[64] -= 27
	assert.Equal(t, http.StatusUnauthorized, send(func(h http.Header) {
		h.Set(crypto.HeaderSignature, hexutil.Encode(shifted))
	}))
	assert.Equal(t, http.StatusUnauthorized, send(func(h http.Header) {
		h.Set(crypto.HeaderSignature, "0x"+strings.ToUpper(hexutil.Encode(sig)[2:]))
	}))
	assert.Equal(t, []string{"replay", "replay", "replay"}, reasons)
}

func TestSignatureAuthAcceptsRepeatedRequests(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	h := SignatureAuth(AuthConfig{Replay: memReplay{}, Logger: quietLogger()})(echoPrincipal)

	now := time.Now()
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/listings/1/finalize", nil)
		require.NoError(t, s.SignRequest(req.Header, req.Method, req.URL.Path, nil, now))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
	}
}

func TestSignatureAuthBodyLimit(t *testing.T) {
	h := SignatureAuth(AuthConfig{MaxBodyBytes: 4, Logger: quietLogger()})(echoPrincipal)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evidence", bytes.NewReader([]byte("too long"))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type stubLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimitKeys(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := RateLimit(lim, 10, time.Second, quietLogger())(echoPrincipal)

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	p := domain.Principal{0xaa}
	req = httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(WithPrincipal(req.Context(), p)))

	assert.Equal(t, []string{
		"ratelimit:api:ip:203.0.113.9",
		"ratelimit:api:principal:" + p.Hex(),
	}, lim.keys)

	lim.allow = false
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	lim.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingRecordsPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := domain.Principal{0xbb}
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Authenticated(w, p)
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/x", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), p.Hex())
}
