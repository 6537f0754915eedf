package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SignatureHeader carries the body signature on LINE webhook calls.
const SignatureHeader = "X-Line-Signature"

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("webhook: missing signature")
	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Sign returns base64(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body.
func Verify(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}

	return nil
}
