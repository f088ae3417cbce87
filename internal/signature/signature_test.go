package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/signature"
)

func base64MAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func hexMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyShopify(t *testing.T) {
	t.Parallel()
	body := []byte(`{"id": 42}`)

	require.NoError(t, signature.VerifyShopify(body, base64MAC(body, "s3cret"), "s3cret"))

	cases := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   error
	}{
		{"wrong secret", body, base64MAC(body, "other"), "s3cret", signature.ErrInvalidSignature},
		{"tampered body", []byte(`{"id": 43}`), base64MAC(body, "s3cret"), "s3cret", signature.ErrInvalidSignature},
		{"missing header", body, "", "s3cret", signature.ErrInvalidSignature},
		{"not base64", body, "%%%", "s3cret", signature.ErrInvalidSignature},
		{"no secret configured", body, base64MAC(body, "s3cret"), "", signature.ErrSecretNotConfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, signature.VerifyShopify(tc.body, tc.header, tc.secret), tc.want)
		})
	}
}

func TestVerifyWooCommerce(t *testing.T) {
	t.Parallel()
	body := []byte(`{"id": 727}`)
	require.NoError(t, signature.VerifyWooCommerce(body, base64MAC(body, "wc"), "wc"))
	require.ErrorIs(t, signature.VerifyWooCommerce(body, base64MAC(body, "nope"), "wc"), signature.ErrInvalidSignature)
}

func TestVerifyWhatsApp(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object": "whatsapp_business_account"}`)

	require.NoError(t, signature.VerifyWhatsApp(body, hexMAC(body, "appsecret"), "appsecret"))

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"missing prefix", hexMAC(body, "appsecret")[7:], signature.ErrInvalidSignature},
		{"wrong secret", hexMAC(body, "other"), signature.ErrInvalidSignature},
		{"empty header", "", signature.ErrInvalidSignature},
		{"not hex", "sha256=zzzz", signature.ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, signature.VerifyWhatsApp(body, tc.header, "appsecret"), tc.want)
		})
	}

	require.ErrorIs(t, signature.VerifyWhatsApp(body, hexMAC(body, "appsecret"), ""), signature.ErrSecretNotConfigured)
}

func TestVerifyChallenge(t *testing.T) {
	t.Parallel()

	got, err := signature.VerifyChallenge("subscribe", "tok", "12345", "tok")
	require.NoError(t, err)
	require.Equal(t, "12345", got)

	_, err = signature.VerifyChallenge("subscribe", "wrong", "12345", "tok")
	require.ErrorIs(t, err, signature.ErrInvalidSignature)

	_, err = signature.VerifyChallenge("unsubscribe", "tok", "12345", "tok")
	require.ErrorIs(t, err, signature.ErrInvalidSignature)

	_, err = signature.VerifyChallenge("subscribe", "tok", "12345", "")
	require.ErrorIs(t, err, signature.ErrSecretNotConfigured)
}
