package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Nexus-Signature"

const signaturePrefix = "sha256="

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// HMACVerifier checks `sha256=<hex>` HMAC-SHA256 signatures over raw bodies.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier returns nil when secret is empty.
func NewHMACVerifier(secret string) *HMACVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign returns the header value for payload.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the expected HMAC in constant time.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(strings.ToLower(signature), signaturePrefix) {
		return ErrBadSignature
	}
	provided, err := hex.DecodeString(signature[len(signaturePrefix):])
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
