// Package signature verifies webhook authenticity before any payload byte is
// parsed. All comparisons are constant-time.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// Header names carrying the platform signatures.
const (
	ShopifyHeader     = "X-Shopify-Hmac-SHA256"
	WooCommerceHeader = "X-WC-Webhook-Signature"
	WhatsAppHeader    = "X-Hub-Signature-256"
)

// ErrInvalidSignature indicates a missing, malformed, or mismatched signature.
// It is the only failure that maps to a non-2xx webhook response.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrSecretNotConfigured indicates no signing secret is configured for the
// tenant and platform. Verification cannot be skipped.
var ErrSecretNotConfigured = errors.New("signing secret not configured")

// VerifyShopify checks the Shopify webhook signature: base64 of
// HMAC-SHA256(secret, raw body).
func VerifyShopify(body []byte, header, secret string) error {
	return verifyBase64(body, header, secret)
}

// VerifyWooCommerce checks the WooCommerce webhook signature. WooCommerce uses
// the same base64 HMAC-SHA256 scheme as Shopify.
func VerifyWooCommerce(body []byte, header, secret string) error {
	return verifyBase64(body, header, secret)
}

// VerifyWhatsApp checks the Meta webhook signature: "sha256=" followed by the
// hex HMAC-SHA256 of the raw body keyed with the app secret.
func VerifyWhatsApp(body []byte, header, appSecret string) error {
	if appSecret == "" {
		return ErrSecretNotConfigured
	}
	header = strings.TrimSpace(header)
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || hexSig == "" {
		return ErrInvalidSignature
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyChallenge handles the Meta webhook subscription handshake. It returns
// the challenge string to echo back when mode and token match.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, error) {
	if verifyToken == "" {
		return "", ErrSecretNotConfigured
	}
	if mode != "subscribe" {
		return "", ErrInvalidSignature
	}
	if subtleCompare(token, verifyToken) {
		return challenge, nil
	}
	return "", ErrInvalidSignature
}

func verifyBase64(body []byte, header, secret string) error {
	if secret == "" {
		return ErrSecretNotConfigured
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil || len(provided) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
