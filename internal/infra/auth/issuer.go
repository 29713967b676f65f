package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ExpirationUnit — единица измерения auth.expiration_time.
type ExpirationUnit string

const (
	UnitSeconds ExpirationUnit = "SECONDS"
	UnitMinutes ExpirationUnit = "MINUTES"
	UnitHours   ExpirationUnit = "HOURS"
	UnitDays    ExpirationUnit = "DAYS"
)

// ExpirationDuration переводит (значение, единица) из конфига в time.Duration.
func ExpirationDuration(value int64, unit string) (time.Duration, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: expiration time must be positive, got %d", ErrInvalidArgument, value)
	}
	switch ExpirationUnit(strings.ToUpper(strings.TrimSpace(unit))) {
	case UnitSeconds:
		return time.Duration(value) * time.Second, nil
	case UnitMinutes, "":
		return time.Duration(value) * time.Minute, nil
	case UnitHours:
		return time.Duration(value) * time.Hour, nil
	case UnitDays:
		return time.Duration(value) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: unsupported expiration time unit %q", ErrInvalidArgument, unit)
}

// IssuerConfig — настройки выпуска токенов.
type IssuerConfig struct {
	Issuer     string
	Expiration time.Duration
}

// Issuer подписывает токены. Ключ разделяется между горутинами только на чтение.
type Issuer struct {
	cfg  IssuerConfig
	keys *KeyInfo
	now  func() time.Time
}

func NewIssuer(cfg IssuerConfig, keys *KeyInfo) (*Issuer, error) {
	if keys == nil || !keys.CanSign() {
		return nil, keyInitError("issuer", errors.New("signing key is not configured"))
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is blank", ErrInvalidArgument)
	}
	if cfg.Expiration <= 0 {
		return nil, fmt.Errorf("%w: expiration must be positive", ErrInvalidArgument)
	}
	return &Issuer{cfg: cfg, keys: keys, now: time.Now}, nil
}

// Issue собирает claims и возвращает компактный JWS (header.payload.signature).
// Claims вызывающего кода применяются первыми, поэтому iss, sub, iat, exp и jti
// всегда перекрываются значениями выпускающей стороны.
func (i *Issuer) Issue(subject string, callerClaims map[string]any) (string, *Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil, fmt.Errorf("%w: subject is blank", ErrInvalidArgument)
	}

	claims := make(jwt.MapClaims, len(callerClaims)+5)
	for k, v := range callerClaims {
		claims[k] = v
	}

	issuedAt := i.now().Truncate(time.Second)
	claims[ClaimIssuer] = i.cfg.Issuer
	claims[ClaimSubject] = subject
	claims[ClaimIssuedAt] = issuedAt.Unix()
	claims[ClaimExpiresAt] = issuedAt.Add(i.cfg.Expiration).Unix()
	claims[ClaimID] = uuid.NewString()

	token := jwt.NewWithClaims(i.keys.Algorithm().SigningMethod(), claims)
	if kid := i.keys.KeyID(); kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(i.keys.SigningKey())
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, NewClaims(claims), nil
}
