package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderSignature = "X-Hub-Signature-256"

	signaturePrefix = "sha256="
)

// VerifySignature reports whether signature is the HMAC-SHA256 of payload
// under secret. The "sha256=" prefix GitHub sends is optional.
func VerifySignature(payload []byte, signature, secret string) bool {
	if len(payload) == 0 || secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, signaturePrefix)
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, computeSignature(payload, secret))
}

// Sign returns the header value GitHub would send for payload.
func Sign(payload []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(computeSignature(payload, secret))
}

func computeSignature(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// SecretSource resolves the webhook secret a tenant's deliveries are signed with.
type SecretSource interface {
	WebhookSecret(ctx context.Context, tenantID string) (string, error)
}

type SecretSourceFunc func(ctx context.Context, tenantID string) (string, error)

func (f SecretSourceFunc) WebhookSecret(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

// StaticSecret signs every tenant with the same configured secret.
type StaticSecret string

func (s StaticSecret) WebhookSecret(context.Context, string) (string, error) {
	secret := strings.TrimSpace(string(s))
	if secret == "" {
		return "", fmt.Errorf("webhooks: webhook secret is not configured")
	}
	return secret, nil
}

func SignatureError(deliveryID string) *goerrors.Error {
	return core.NewError(
		"webhooks: signature verification failed",
		goerrors.CategoryAuth,
		core.ErrorSignatureInvalid,
	).WithMetadata(map[string]any{"delivery_id": deliveryID})
}
