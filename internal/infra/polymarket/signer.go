package polymarket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Signer produces CLOB L2 (API key) authentication headers.
// It authenticates requests only; orders are signed by an external service.
type Signer struct {
	address    string
	apiKey     string
	secret     string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(address, apiKey, secret, passphrase string) *Signer {
	return &Signer{
		address:    address,
		apiKey:     apiKey,
		secret:     secret,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// Enabled reports whether credentials are configured.
func (s *Signer) Enabled() bool {
	return s != nil && s.apiKey != "" && s.secret != ""
}

// GenerateHeaders creates the L2 headers for a request.
// path excludes host and query; body is the exact JSON sent, empty if none.
func (s *Signer) GenerateHeaders(method, path, body string) (map[string]string, error) {
	// Unix seconds
	timestamp := fmt.Sprintf("%d", s.now().Unix())

	// timestamp + method + requestPath + body
	payload := timestamp + method + path + body

	sign, err := computeHmacSha256(payload, s.secret)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"POLY_ADDRESS":    s.address,
		"POLY_SIGNATURE":  sign,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    s.apiKey,
		"POLY_PASSPHRASE": s.passphrase,
	}, nil
}

// The API secret is URL-safe base64; the signature is returned the same way.
func computeHmacSha256(message, secret string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(padBase64(secret))
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}
