package engine

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func newTestService(t *testing.T) *auth.Service {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	keys, err := auth.NewRSAKeyInfo(auth.RS256, testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := auth.NewServiceWithKeys(keys,
		auth.IssuerConfig{Issuer: "test-issuer", Expiration: 30 * time.Minute},
		auth.VerifierConfig{ValidateClaims: true, ObligatoryClaims: []string{"sub", "iss", "exp"}},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func issueToken(t *testing.T, svc *auth.Service, subject string, claims map[string]any) (string, *auth.Claims) {
	t.Helper()
	token, c, err := svc.Issue(subject, claims)
	if err != nil {
		t.Fatal(err)
	}
	return token, c
}
