package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/nexus/internal/config"
)

type jwksFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   int
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.hits++
		doc := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"kid": "test-key",
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *jwksFixture) validator(issuer, audience string) *Validator {
	return NewValidator(&config.OAuthConfig{
		URL:              f.server.URL,
		ExpectedIssuer:   issuer,
		ExpectedAudience: audience,
	})
}

func TestValidateAcceptsSignedToken(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("https://issuer.example.com", "")

	token := f.sign(t, jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("https://issuer.example.com", "")

	token := f.sign(t, jwt.MapClaims{
		"iss": "https://evil.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "")

	token := f.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateRejectsMissingExpiry(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "")

	token := f.sign(t, jwt.MapClaims{"sub": "u"})

	_, err := v.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "")

	token := f.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tampered := token[:len(token)-4] + "AAAA"

	_, err := v.Validate(context.Background(), tampered)
	assert.Error(t, err)
}

func TestValidateAudience(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "nexus")

	good := f.sign(t, jwt.MapClaims{
		"aud": "nexus",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := v.Validate(context.Background(), good)
	assert.NoError(t, err)

	bad := f.sign(t, jwt.MapClaims{
		"aud": "other",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Validate(context.Background(), bad)
	assert.Error(t, err)
}

func TestValidateCachesJWKS(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "")

	token := f.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	for i := 0; i < 3; i++ {
		_, err := v.Validate(context.Background(), token)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.hits)
}

func TestValidateFallsBackToCachedKeysOnRefreshFailure(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator("", "")
	v.pollInterval = 0 // every validation attempts a refresh

	token := f.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(context.Background(), token)
	require.NoError(t, err)

	f.server.Close()

	_, err = v.Validate(context.Background(), token)
	assert.NoError(t, err, "cached keys keep working when the JWKS endpoint is down")
}
