package exchange

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds a CDP API key pair. PrivateKey is the PEM-encoded
// EC private key as issued by the Coinbase developer portal.
type Credentials struct {
	KeyName    string
	PrivateKey string
}

// signer mints the short-lived JWTs Advanced Trade expects, one per
// request.
type signer struct {
	keyName string
	key     *ecdsa.PrivateKey
}

func newSigner(creds Credentials) (*signer, error) {
	block, _ := pem.Decode([]byte(creds.PrivateKey))
	if block == nil {
		return nil, fmt.Errorf("auth: private key is not PEM encoded")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse EC private key: %w", err)
	}
	return &signer{keyName: creds.KeyName, key: key}, nil
}

// SignRequest returns a bearer token bound to one REST call. The uri
// claim ties the token to the method and path so it cannot be replayed
// elsewhere.
func (s *signer) SignRequest(method, host, path string) (string, error) {
	claims := jwt.MapClaims{
		"sub": s.keyName,
		"iss": "cdp",
		"nbf": time.Now().Unix(),
		"exp": time.Now().Add(2 * time.Minute).Unix(),
		"uri": fmt.Sprintf("%s %s%s", method, host, path),
	}
	return s.sign(claims)
}

// SignChannel returns a token for the websocket user channel. Channel
// tokens carry no uri claim.
func (s *signer) SignChannel() (string, error) {
	claims := jwt.MapClaims{
		"sub": s.keyName,
		"iss": "cdp",
		"nbf": time.Now().Unix(),
		"exp": time.Now().Add(2 * time.Minute).Unix(),
	}
	return s.sign(claims)
}

func (s *signer) sign(claims jwt.MapClaims) (string, error) {
	nonce, err := makeNonce()
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.keyName
	tok.Header["nonce"] = nonce
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func makeNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
