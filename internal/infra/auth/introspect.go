package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrAccessDenied возвращают интроспекторы, отклонившие проверенный токен.
var ErrAccessDenied = errors.New("auth: access denied by claims")

// ClaimsIntrospector — шаг Verified -> Authorized: дополнительное ограничение доступа по содержимому claims.
type ClaimsIntrospector interface {
	Introspect(ctx context.Context, sc *SecurityContext) error
}

// IntrospectorFunc позволяет передать функцию как ClaimsIntrospector.
type IntrospectorFunc func(ctx context.Context, sc *SecurityContext) error

func (f IntrospectorFunc) Introspect(ctx context.Context, sc *SecurityContext) error {
	return f(ctx, sc)
}

// RequireClaim пропускает токен, если claim name содержит хотя бы одно из values.
// Строковое значение claim трактуется как список через запятую ("admin,ops"),
// JSON массив — как список своих элементов.
// Без values достаточно присутствия непустого claim.
func RequireClaim(name string, values ...string) ClaimsIntrospector {
	return IntrospectorFunc(func(_ context.Context, sc *SecurityContext) error {
		if sc == nil || sc.Claims == nil {
			return ErrAccessDenied
		}
		have := claimValues(sc.Claims, name)
		if len(have) == 0 {
			return fmt.Errorf("%w: claim %q is absent", ErrAccessDenied, name)
		}
		if len(values) == 0 {
			return nil
		}
		for _, v := range have {
			if slices.Contains(values, v) {
				return nil
			}
		}
		return fmt.Errorf("%w: claim %q does not grant %v", ErrAccessDenied, name, values)
	})
}

// claimValues раскладывает claim в список непустых строк.
func claimValues(c *Claims, name string) []string {
	raw, ok := c.Get(name)
	if !ok || raw == nil {
		return nil
	}

	var items []string
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			items = append(items, formatClaimValue(item))
		}
	case []string:
		items = v
	default:
		items = strings.Split(c.String(name), ",")
	}

	out := items[:0:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
