package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-authgate/internal/audit"
	"go.uber.org/zap"
)

// Scope определяет, каким статусом отвечать на невалидный токен: 401 или 403.
type Scope int

const (
	ScopeAuthentication Scope = iota
	ScopeAuthorization
)

// ExpiredPolicy — единая политика для токенов с истекшим сроком.
type ExpiredPolicy int

const (
	// ExpiredReject отвечает 401.
	ExpiredReject ExpiredPolicy = iota
	// ExpiredPassThrough пропускает запрос дальше с SecurityContext.Expired = true.
	ExpiredPassThrough
)

func ParseExpiredPolicy(s string) (ExpiredPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return ExpiredReject, nil
	case "pass", "pass-through", "passthrough":
		return ExpiredPassThrough, nil
	}
	return ExpiredReject, fmt.Errorf("%w: unknown expired policy %q", ErrInvalidArgument, s)
}

// State — состояние запроса в цепочке фильтра.
type State int

const (
	StateUnauthenticated State = iota
	StateExtracted
	StateVerified
	StateAuthorized
	StateAnonymous
	StateRejected
)

func (s State) String() string {
	return [...]string{"unauthenticated", "extracted", "verified", "authorized", "anonymous", "rejected"}[s]
}

// Decision — итог прохода по цепочке. Status заполнен только для StateRejected.
type Decision struct {
	State   State
	Status  int
	Reason  string
	Outcome string
	Context *SecurityContext
	Err     error
}

func (d Decision) Rejected() bool { return d.State == StateRejected }

const (
	OutcomeMissing     = "missing"
	OutcomeAnonymous   = "anonymous"
	OutcomeUnavailable = "unavailable"
	OutcomeDenied      = "denied"
)

// OutcomeRecorder — метрики фильтра (реализуется engine.Metrics).
type OutcomeRecorder interface {
	ObserveVerification(outcome string, took time.Duration)
	ObserveRejection(status int, reason string)
}

// Filter — цепочка Unauthenticated -> Extracted -> Verified -> Authorized.
type Filter struct {
	provider      ServiceProvider
	logger        *zap.Logger
	extractor     Extractor
	scope         Scope
	expired       ExpiredPolicy
	anonymous     bool
	introspectors []ClaimsIntrospector
	recorder      OutcomeRecorder
	auditor       audit.Auditor
	channel       string
}

type Option func(*Filter)

func WithExtractor(e Extractor) Option { return func(f *Filter) { f.extractor = e } }

func WithScope(s Scope) Option { return func(f *Filter) { f.scope = s } }

func WithExpiredPolicy(p ExpiredPolicy) Option { return func(f *Filter) { f.expired = p } }

// AllowAnonymous — ресурс доступен без токена (но предъявленный токен все равно проверяется).
func AllowAnonymous() Option { return func(f *Filter) { f.anonymous = true } }

func WithIntrospectors(in ...ClaimsIntrospector) Option {
	return func(f *Filter) { f.introspectors = append(f.introspectors, in...) }
}

func WithRecorder(r OutcomeRecorder) Option { return func(f *Filter) { f.recorder = r } }

func WithAuditor(a audit.Auditor) Option { return func(f *Filter) { f.auditor = a } }

// WithChannel помечает события аудита (http, grpc).
func WithChannel(name string) Option { return func(f *Filter) { f.channel = name } }

func NewFilter(provider ServiceProvider, logger *zap.Logger, opts ...Option) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{
		provider:  provider,
		logger:    logger.Named("auth-filter"),
		extractor: NewExtractor(DefaultCookieName, false),
		channel:   "http",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewMiddleware — chi-совместимая обертка над Filter.
func NewMiddleware(provider ServiceProvider, logger *zap.Logger, opts ...Option) func(http.Handler) http.Handler {
	return NewFilter(provider, logger, opts...).Middleware
}

func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		d := f.Authenticate(r)
		f.audit(r.Context(), r.Method+" "+r.URL.Path, d, start)

		if d.Rejected() {
			writeRejection(w, d)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSecurityContext(r.Context(), d.Context)))
	})
}

// Authenticate прогоняет HTTP запрос по цепочке без записи ответа.
func (f *Filter) Authenticate(r *http.Request) Decision {
	// сервис проверяется до извлечения токена: без него не ждем, а сразу отвечаем 503
	if f.provider == nil || f.provider.Current() == nil {
		return f.unavailable()
	}
	token, found := f.extractor.Extract(r)
	return f.Decide(r.Context(), token, found)
}

// Decide — общий для HTTP и gRPC шаг после извлечения токена.
func (f *Filter) Decide(ctx context.Context, token string, found bool) Decision {
	var svc *Service
	if f.provider != nil {
		svc = f.provider.Current()
	}
	if svc == nil {
		return f.unavailable()
	}

	if !found || token == "" {
		if f.anonymous {
			return Decision{State: StateAnonymous, Outcome: OutcomeAnonymous, Context: anonymousContext()}
		}
		return f.reject(http.StatusBadRequest, OutcomeMissing, "token missing", ErrTokenMissing)
	}

	// Extracted -> Verified
	start := time.Now()
	out := svc.Verify(token)
	if f.recorder != nil {
		f.recorder.ObserveVerification(out.Status.String(), time.Since(start))
	}

	switch out.Status {
	case StatusInvalid:
		status := http.StatusUnauthorized
		if f.scope == ScopeAuthorization {
			status = http.StatusForbidden
		}
		f.logger.Warn("auth failure", zap.String("reason", out.Reason))
		return f.reject(status, out.Status.String(), out.Reason, out.Err)
	case StatusExpired:
		if f.expired == ExpiredReject {
			f.logger.Debug("expired token rejected", zap.String("sub", out.Claims.Subject()))
			return f.reject(http.StatusUnauthorized, out.Status.String(), "token expired", out.Err)
		}
	}

	sc := newSecurityContext(out.Claims)

	// Verified -> Authorized
	for _, in := range f.introspectors {
		if err := in.Introspect(ctx, sc); err != nil {
			f.logger.Warn("claims introspection denied access",
				zap.String("sub", sc.Principal),
				zap.Error(err))
			return f.reject(http.StatusUnauthorized, OutcomeDenied, "access denied", err)
		}
	}

	return Decision{State: StateAuthorized, Outcome: out.Status.String(), Context: sc}
}

func (f *Filter) unavailable() Decision {
	f.logger.Error("jwt service is not bound, rejecting request")
	return f.reject(http.StatusServiceUnavailable, OutcomeUnavailable, ErrServiceUnavailable.Error(), ErrServiceUnavailable)
}

func (f *Filter) reject(status int, outcome, reason string, err error) Decision {
	if f.recorder != nil {
		f.recorder.ObserveRejection(status, outcome)
	}
	return Decision{State: StateRejected, Status: status, Outcome: outcome, Reason: reason, Err: err}
}

// Audit пишет решение фильтра в журнал (используется и gRPC интерцептором).
func (f *Filter) Audit(ctx context.Context, resource string, d Decision, start time.Time) {
	f.audit(ctx, resource, d, start)
}

func (f *Filter) audit(ctx context.Context, resource string, d Decision, start time.Time) {
	if f.auditor == nil {
		return
	}
	event := audit.AuthEvent{
		ID:         uuid.NewString(),
		TraceID:    audit.TraceIDFromContext(ctx),
		Channel:    f.channel,
		Resource:   resource,
		Outcome:    d.Outcome,
		Status:     d.Status,
		Reason:     d.Reason,
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if d.Context != nil && d.Context.Claims != nil {
		event.Subject = d.Context.Principal
		event.TokenID = d.Context.Claims.ID()
	}
	if !d.Rejected() {
		event.Status = http.StatusOK
	}
	f.auditor.Log(event)
}

func writeRejection(w http.ResponseWriter, d Decision) {
	switch d.Status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "Unauthorized", d.Status)
	case http.StatusForbidden:
		http.Error(w, "Forbidden", d.Status)
	default:
		http.Error(w, d.Reason, d.Status)
	}
}
