package webhooks

import (
	"context"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte("Hello, World!")
	signature := Sign(payload, testSecret)
	if signature != "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17" {
		t.Fatalf("unexpected signature %q", signature)
	}
	if !VerifySignature(payload, signature, testSecret) {
		t.Fatalf("expected prefixed signature to verify")
	}
	if !VerifySignature(payload, signature[len("sha256="):], testSecret) {
		t.Fatalf("expected bare hex signature to verify")
	}
}

func TestVerifySignature_AnyFlippedByteFails(t *testing.T) {
	payload := []byte(pushPayload)
	signature := Sign(payload, testSecret)
	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		if VerifySignature(tampered, signature, testSecret) {
			t.Fatalf("flipping payload byte %d still verified", i)
		}
	}
	secret := []byte(testSecret)
	for i := range secret {
		tampered := append([]byte(nil), secret...)
		tampered[i] ^= 0x01
		if VerifySignature(payload, signature, string(tampered)) {
			t.Fatalf("flipping secret byte %d still verified", i)
		}
	}
}

func TestVerifySignature_RejectsEmptyInputs(t *testing.T) {
	payload := []byte(pushPayload)
	if VerifySignature(nil, Sign(nil, testSecret), testSecret) {
		t.Fatalf("empty payload must not verify")
	}
	if VerifySignature(payload, "", testSecret) || VerifySignature(payload, "sha256=", testSecret) {
		t.Fatalf("missing signature must not verify")
	}
	if VerifySignature(payload, "sha256=not-hex", testSecret) {
		t.Fatalf("non-hex signature must not verify")
	}
	if VerifySignature(payload, Sign(payload, ""), "") {
		t.Fatalf("empty secret must not verify")
	}
}

func TestStaticSecret(t *testing.T) {
	if _, err := StaticSecret(" ").WebhookSecret(context.Background(), testTenant); err == nil {
		t.Fatalf("expected unconfigured secret to fail")
	}
	secret, err := StaticSecret(testSecret).WebhookSecret(context.Background(), testTenant)
	if err != nil || secret != testSecret {
		t.Fatalf("unexpected secret %q %v", secret, err)
	}
}
