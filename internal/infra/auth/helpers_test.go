package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

const testIssuer = "test-issuer"

var (
	rsaOnce  sync.Once
	rsaKey   *rsa.PrivateKey
	rsaOther *rsa.PrivateKey
)

// testKeys генерирует пару RSA ключей один раз на весь пакет.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	rsaOnce.Do(func() {
		var err error
		if rsaKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if rsaOther, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return rsaKey, rsaOther
}

func privatePEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func publicPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func defaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		ValidateClaims:   true,
		ObligatoryClaims: []string{ClaimSubject, ClaimIssuer, ClaimExpiresAt},
	}
}

// newRSAService — RS256, issuer test-issuer, срок 30 минут.
func newRSAService(t *testing.T) *Service {
	t.Helper()
	priv, _ := testKeys(t)
	keys, err := NewRSAKeyInfo(RS256, priv, nil)
	if err != nil {
		t.Fatalf("rsa key info: %v", err)
	}
	svc, err := NewServiceWithKeys(keys,
		IssuerConfig{Issuer: testIssuer, Expiration: 30 * time.Minute},
		defaultVerifierConfig(),
		zaptest.NewLogger(t),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func issue(t *testing.T, svc *Service, subject string, claims map[string]any) string {
	t.Helper()
	token, _, err := svc.Issue(subject, claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

// shiftClock сдвигает часы проверяющей стороны.
func shiftClock(svc *Service, d time.Duration) {
	svc.verifier.now = func() time.Time { return time.Now().Add(d) }
}
