package exchange

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials(t *testing.T) (Credentials, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	return Credentials{KeyName: "organizations/org/apiKeys/unit", PrivateKey: string(pemBytes)}, key
}

func TestSignRequestProducesVerifiableToken(t *testing.T) {
	creds, key := testCredentials(t)
	s, err := newSigner(creds)
	require.NoError(t, err)

	token, err := s.SignRequest("GET", "api.coinbase.com", "/api/v3/brokerage/products")
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, creds.KeyName, claims["sub"])
	assert.Equal(t, "cdp", claims["iss"])
	assert.Equal(t, "GET api.coinbase.com/api/v3/brokerage/products", claims["uri"])
	assert.Equal(t, creds.KeyName, parsed.Header["kid"])
	assert.NotEmpty(t, parsed.Header["nonce"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), exp.Time, 5*time.Second)
}

func TestSignChannelOmitsURIClaim(t *testing.T) {
	creds, key := testCredentials(t)
	s, err := newSigner(creds)
	require.NoError(t, err)

	token, err := s.SignChannel()
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	_, hasURI := claims["uri"]
	assert.False(t, hasURI)
	assert.Equal(t, "cdp", claims["iss"])
}

func TestNoncesAreUnique(t *testing.T) {
	creds, _ := testCredentials(t)
	s, err := newSigner(creds)
	require.NoError(t, err)

	first, err := s.SignChannel()
	require.NoError(t, err)
	second, err := s.SignChannel()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	_, err := newSigner(Credentials{KeyName: "k", PrivateKey: "not a key"})
	assert.Error(t, err)

	// Valid PEM framing around bytes that are not an EC key.
	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("garbage")})
	_, err = newSigner(Credentials{KeyName: "k", PrivateKey: string(block)})
	assert.Error(t, err)
}
