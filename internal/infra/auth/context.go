package auth

import "context"

type securityContextKey struct{}

// SecurityContext прикрепляется к запросу фильтром и живет ровно один запрос.
type SecurityContext struct {
	Principal string
	Claims    *Claims
	Expired   bool
	Anonymous bool
}

func anonymousContext() *SecurityContext {
	return &SecurityContext{Anonymous: true}
}

func newSecurityContext(c *Claims) *SecurityContext {
	return &SecurityContext{
		Principal: c.Subject(),
		Claims:    c,
		Expired:   c.Expired(),
	}
}

// WithSecurityContext кладет контекст безопасности в context.Context.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFrom достает контекст, положенный фильтром или gRPC интерцептором.
func SecurityContextFrom(ctx context.Context) (*SecurityContext, bool) {
	if ctx == nil {
		return nil, false
	}
	sc, ok := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc, ok && sc != nil
}
