package auth

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Зарезервированные имена стандартных claims.
const (
	ClaimSubject   = "sub"
	ClaimIssuer    = "iss"
	ClaimAudience  = "aud"
	ClaimID        = "jti"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
)

// Claims — неизменяемый набор claims одного токена.
// Создается заново на каждый issue/verify и живет не дольше запроса.
type Claims struct {
	values  jwt.MapClaims
	expired bool
}

// NewClaims копирует переданную мапу, чтобы вызывающий код не мог изменить claims после создания.
func NewClaims(values map[string]any) *Claims {
	c := &Claims{values: make(jwt.MapClaims, len(values))}
	maps.Copy(c.values, values)
	return c
}

func newVerifiedClaims(values jwt.MapClaims, expired bool) *Claims {
	c := NewClaims(values)
	c.expired = expired
	return c
}

// Get возвращает сырое значение claim.
func (c *Claims) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// String возвращает строковое представление claim (числа форматируются без экспоненты).
func (c *Claims) String(name string) string {
	return formatClaimValue(c.values[name])
}

func formatClaimValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func (c *Claims) Subject() string {
	s, _ := c.values.GetSubject()
	return s
}

func (c *Claims) Issuer() string {
	s, _ := c.values.GetIssuer()
	return s
}

func (c *Claims) Audience() []string {
	aud, _ := c.values.GetAudience()
	return aud
}

func (c *Claims) ID() string {
	return c.String(ClaimID)
}

func (c *Claims) IssuedAt() time.Time {
	return c.Time(ClaimIssuedAt)
}

func (c *Claims) ExpiresAt() time.Time {
	return c.Time(ClaimExpiresAt)
}

// Time читает NumericDate claim. После разбора JSON это float64,
// у только что выпущенного токена — int64.
func (c *Claims) Time(name string) time.Time {
	switch v := c.values[name].(type) {
	case float64:
		return unixSeconds(v)
	case int64:
		return time.Unix(v, 0)
	case int:
		return time.Unix(int64(v), 0)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return unixSeconds(f)
		}
	}
	return time.Time{}
}

// unixSeconds делит секунды на целую и дробную части: в наносекундах
// int64 переполняется уже после 2262 года.
func unixSeconds(f float64) time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Expired true, если подпись валидна, но срок действия истек.
func (c *Claims) Expired() bool {
	return c.expired
}

// Len — количество claims.
func (c *Claims) Len() int {
	return len(c.values)
}

// Map отдает копию для сериализации.
func (c *Claims) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	maps.Copy(out, c.values)
	return out
}

// missing возвращает имена обязательных claims, которых нет или которые пусты.
func (c *Claims) missing(required []string) []string {
	var out []string
	for _, name := range required {
		v, ok := c.values[name]
		if !ok || v == nil {
			out = append(out, name)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			out = append(out, name)
		}
	}
	return out
}
