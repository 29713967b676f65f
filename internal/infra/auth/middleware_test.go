package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/spaceai-authgate/internal/audit"
	"go.uber.org/zap/zaptest"
)

type recorderStub struct {
	mu         sync.Mutex
	verified   []string
	rejections []int
}

func (r *recorderStub) ObserveVerification(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, outcome)
}

func (r *recorderStub) ObserveRejection(status int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, status)
}

type auditorStub struct {
	mu     sync.Mutex
	events []audit.AuthEvent
}

func (a *auditorStub) Log(e audit.AuthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

// serve прогоняет запрос через фильтр; sc == nil, если обработчик не вызывался.
func serve(t *testing.T, provider ServiceProvider, r *http.Request, opts ...Option) (*httptest.ResponseRecorder, *SecurityContext) {
	t.Helper()
	var got *SecurityContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := SecurityContextFrom(r.Context())
		if !ok {
			t.Fatal("handler reached without security context")
		}
		got = sc
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	NewMiddleware(provider, zaptest.NewLogger(t), opts...)(next).ServeHTTP(rec, r)
	return rec, got
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/check", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestMiddlewareValidToken(t *testing.T) {
	svc := newRSAService(t)
	rec, sc := serve(t, NewServiceHolder(svc), bearerRequest(issue(t, svc, "alice", map[string]any{"roles": "admin"})))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sc == nil || sc.Principal != "alice" || sc.Expired || sc.Anonymous {
		t.Fatalf("security context = %+v", sc)
	}
	if sc.Claims.String("roles") != "admin" {
		t.Fatalf("roles = %q", sc.Claims.String("roles"))
	}
}

func TestMiddlewareRejections(t *testing.T) {
	svc := newRSAService(t)
	valid := issue(t, svc, "alice", nil)

	tests := []struct {
		name   string
		token  string
		opts   []Option
		status int
	}{
		{"missing token", "", nil, http.StatusBadRequest},
		{"tampered token", tamperSignature(valid), nil, http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", nil, http.StatusUnauthorized},
		{"tampered token in authorization scope", tamperSignature(valid), []Option{WithScope(ScopeAuthorization)}, http.StatusForbidden},
		{"anonymous allowed but token invalid", "not-a-jwt", []Option{AllowAnonymous()}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, sc := serve(t, NewServiceHolder(svc), bearerRequest(tt.token), tt.opts...)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if sc != nil {
				t.Fatal("handler must not be reached")
			}
			if tt.status == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("401 without WWW-Authenticate")
			}
		})
	}
}

func TestMiddlewareServiceUnavailable(t *testing.T) {
	holder := NewServiceHolder(nil)

	for _, token := range []string{"", "anything"} {
		rec, sc := serve(t, holder, bearerRequest(token))
		if rec.Code != http.StatusServiceUnavailable || sc != nil {
			t.Fatalf("token %q: status = %d, reached = %v", token, rec.Code, sc != nil)
		}
	}

	svc := newRSAService(t)
	holder.Bind(svc)
	if rec, _ := serve(t, holder, bearerRequest(issue(t, svc, "alice", nil))); rec.Code != http.StatusOK {
		t.Fatalf("after bind: status = %d", rec.Code)
	}

	holder.Unbind()
	if rec, _ := serve(t, holder, bearerRequest("x")); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("after unbind: status = %d", rec.Code)
	}
}

func TestMiddlewareExpiredPolicy(t *testing.T) {
	svc := newRSAService(t)
	token := issue(t, svc, "alice", nil)
	shiftClock(svc, time.Hour)

	rec, sc := serve(t, NewServiceHolder(svc), bearerRequest(token))
	if rec.Code != http.StatusUnauthorized || sc != nil {
		t.Fatalf("reject: status = %d, reached = %v", rec.Code, sc != nil)
	}

	rec, sc = serve(t, NewServiceHolder(svc), bearerRequest(token), WithExpiredPolicy(ExpiredPassThrough))
	if rec.Code != http.StatusOK {
		t.Fatalf("pass-through: status = %d", rec.Code)
	}
	if sc == nil || !sc.Expired || sc.Principal != "alice" {
		t.Fatalf("pass-through: security context = %+v", sc)
	}
}

func TestMiddlewareAnonymous(t *testing.T) {
	svc := newRSAService(t)

	rec, sc := serve(t, NewServiceHolder(svc), bearerRequest(""), AllowAnonymous())
	if rec.Code != http.StatusOK || sc == nil || !sc.Anonymous {
		t.Fatalf("status = %d, context = %+v", rec.Code, sc)
	}
}

func TestMiddlewareCookieToken(t *testing.T) {
	svc := newRSAService(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: issue(t, svc, "alice", nil)})

	rec, sc := serve(t, NewServiceHolder(svc), r, WithExtractor(NewExtractor("session", false)))
	if rec.Code != http.StatusOK || sc.Principal != "alice" {
		t.Fatalf("status = %d, context = %+v", rec.Code, sc)
	}
}

func TestMiddlewareIntrospection(t *testing.T) {
	svc := newRSAService(t)
	admin := RequireClaim("roles", "admin")

	rec, _ := serve(t, NewServiceHolder(svc), bearerRequest(issue(t, svc, "bob", map[string]any{"roles": "user,ops"})),
		WithIntrospectors(admin))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without role: status = %d", rec.Code)
	}

	rec, sc := serve(t, NewServiceHolder(svc), bearerRequest(issue(t, svc, "alice", map[string]any{"roles": "ops, admin"})),
		WithIntrospectors(admin))
	if rec.Code != http.StatusOK || sc.Principal != "alice" {
		t.Fatalf("with role: status = %d", rec.Code)
	}

	// на отказ интроспекции scope не влияет: это не ошибка токена
	rec, _ = serve(t, NewServiceHolder(svc), bearerRequest(issue(t, svc, "bob", nil)),
		WithScope(ScopeAuthorization), WithIntrospectors(admin))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("authorization scope: status = %d", rec.Code)
	}
}

func TestMiddlewareRecordsAndAudits(t *testing.T) {
	svc := newRSAService(t)
	rec := &recorderStub{}
	aud := &auditorStub{}
	token := issue(t, svc, "alice", nil)

	r := bearerRequest(token)
	r = r.WithContext(audit.WithTraceID(r.Context(), "trace-1"))
	serve(t, NewServiceHolder(svc), r, WithRecorder(rec), WithAuditor(aud), WithChannel("test"))
	serve(t, NewServiceHolder(svc), bearerRequest(""), WithRecorder(rec), WithAuditor(aud))

	if len(rec.verified) != 1 || rec.verified[0] != "valid" {
		t.Fatalf("verifications = %v", rec.verified)
	}
	if len(rec.rejections) != 1 || rec.rejections[0] != http.StatusBadRequest {
		t.Fatalf("rejections = %v", rec.rejections)
	}
	if len(aud.events) != 2 {
		t.Fatalf("audit events = %d", len(aud.events))
	}

	ok, missing := aud.events[0], aud.events[1]
	if ok.Subject != "alice" || ok.Status != http.StatusOK || ok.TraceID != "trace-1" || ok.Channel != "test" {
		t.Fatalf("success event = %+v", ok)
	}
	if ok.TokenID == "" || ok.Resource != "GET /auth/check" {
		t.Fatalf("success event = %+v", ok)
	}
	if missing.Outcome != OutcomeMissing || missing.Status != http.StatusBadRequest || missing.Channel != "http" {
		t.Fatalf("missing event = %+v", missing)
	}
}

func TestDecideStates(t *testing.T) {
	svc := newRSAService(t)
	f := NewFilter(NewServiceHolder(svc), zaptest.NewLogger(t), AllowAnonymous())
	ctx := context.Background()

	if d := f.Decide(ctx, issue(t, svc, "alice", nil), true); d.State != StateAuthorized || d.Rejected() {
		t.Fatalf("valid: %s", d.State)
	}
	if d := f.Decide(ctx, "", false); d.State != StateAnonymous {
		t.Fatalf("absent: %s", d.State)
	}
	d := f.Decide(ctx, "bad", true)
	if d.State != StateRejected || d.Status != http.StatusUnauthorized {
		t.Fatalf("invalid: %s %d", d.State, d.Status)
	}

	unbound := NewFilter(NewServiceHolder(nil), nil)
	d = unbound.Decide(ctx, "bad", true)
	if d.Status != http.StatusServiceUnavailable || !errors.Is(d.Err, ErrServiceUnavailable) {
		t.Fatalf("unbound: %d %v", d.Status, d.Err)
	}
}

func TestParseExpiredPolicy(t *testing.T) {
	for in, want := range map[string]ExpiredPolicy{"": ExpiredReject, "reject": ExpiredReject, "PASS": ExpiredPassThrough, "pass-through": ExpiredPassThrough} {
		got, err := ParseExpiredPolicy(in)
		if err != nil || got != want {
			t.Errorf("%q = %v (%v)", in, got, err)
		}
	}
	if _, err := ParseExpiredPolicy("ignore"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown policy: %v", err)
	}
}
