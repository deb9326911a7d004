package polymarket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

func TestSigner_GenerateHeaders(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("0123456789abcdef"))
	s := NewSigner("0xabc", "key", secret, "pass")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	headers, err := s.GenerateHeaders("POST", "/order", `{"a":1}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("0123456789abcdef"))
	mac.Write([]byte(`1700000000POST/order{"a":1}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if headers["POLY_SIGNATURE"] != want {
		t.Errorf("Expected signature %s, got %s", want, headers["POLY_SIGNATURE"])
	}
	if headers["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("Expected timestamp 1700000000, got %s", headers["POLY_TIMESTAMP"])
	}
	if headers["POLY_API_KEY"] != "key" || headers["POLY_PASSPHRASE"] != "pass" || headers["POLY_ADDRESS"] != "0xabc" {
		t.Errorf("Unexpected identity headers: %v", headers)
	}
}

func TestSigner_UnpaddedSecret(t *testing.T) {
	secret := base64.RawURLEncoding.EncodeToString([]byte("odd-length-secret"))
	s := NewSigner("", "key", secret, "")

	if _, err := s.GenerateHeaders("GET", "/data/order/1", ""); err != nil {
		t.Errorf("Expected unpadded secret to decode, got %v", err)
	}
}

func TestSigner_BadSecret(t *testing.T) {
	s := NewSigner("", "key", "!!!not base64!!!", "")

	if _, err := s.GenerateHeaders("GET", "/", ""); err == nil {
		t.Error("Expected error for undecodable secret")
	}
}

func TestSigner_Enabled(t *testing.T) {
	var nilSigner *Signer
	if nilSigner.Enabled() {
		t.Error("Expected nil signer to be disabled")
	}
	if NewSigner("", "", "", "").Enabled() {
		t.Error("Expected signer without credentials to be disabled")
	}
	if !NewSigner("", "k", "c2VjcmV0", "").Enabled() {
		t.Error("Expected signer with credentials to be enabled")
	}
}
