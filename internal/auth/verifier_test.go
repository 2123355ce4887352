package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", slog.Default())
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	v := newVerifier(t)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{"valid", sign(t, secret, jwt.RegisteredClaims{Subject: "12345", ExpiresAt: future}), "12345", nil},
		{"missing", "", "", ErrTokenMissing},
		{"expired", sign(t, secret, jwt.RegisteredClaims{Subject: "1", ExpiresAt: past}), "", ErrTokenExpired},
		{"wrong key", sign(t, "other", jwt.RegisteredClaims{Subject: "1"}), "", ErrTokenInvalid},
		{"no subject", sign(t, secret, jwt.RegisteredClaims{ExpiresAt: future}), "", ErrTokenInvalid},
		{"garbage", "not.a.token", "", ErrTokenMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.Verify(tc.token)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	var seen string
	h := v.Middleware(func(w http.ResponseWriter, err error) {
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PlayerID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := sign(t, secret, jwt.RegisteredClaims{Subject: "777"})
	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "777", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.RegisteredClaims{Subject: "888"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "888", seen)
}
