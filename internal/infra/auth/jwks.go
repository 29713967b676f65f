package auth

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Thumbprint считает RFC 7638 отпечаток ключа, используется как kid в заголовке токена.
func Thumbprint(pub *rsa.PublicKey) (string, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("jwk from rsa key: %w", err)
	}
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// PublicJWKS публикует ключ проверки в виде JWK Set.
// HMAC секрет никогда не публикуется, для него возвращается пустой набор.
func PublicJWKS(info *KeyInfo) (jwk.Set, error) {
	set := jwk.NewSet()

	pub := info.PublicKey()
	if pub == nil {
		return set, nil
	}

	key, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, fmt.Errorf("jwk from rsa key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, info.KeyID()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(info.Algorithm())); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return set, nil
}
