package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-authgate/internal/domain"
	"golang.org/x/time/rate"
)

// ErrRateLimited — превышен лимит попыток логина.
var ErrRateLimited = errors.New("login rate limit exceeded")

// UserProvider — источник учетных данных (Postgres).
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// ReliabilityOptions — параметры предохранителя и лимитера.
type ReliabilityOptions struct {
	RateLimit    float64 // запросов в секунду, <= 0 — без лимита
	Burst        int
	Attempts     uint
	CallTimeout  time.Duration
	BreakerName  string
	TripAfter    uint32 // подряд идущих ошибок до размыкания
	BreakerReset time.Duration
}

func (o *ReliabilityOptions) normalize() {
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 3 * time.Second
	}
	if o.BreakerName == "" {
		o.BreakerName = "user-store"
	}
	if o.TripAfter == 0 {
		o.TripAfter = 5
	}
	if o.BreakerReset <= 0 {
		o.BreakerReset = 30 * time.Second
	}
}

// ReliableUserStore оборачивает хранилище пользователей: Rate Limit -> Circuit Breaker -> Retry.
type ReliableUserStore struct {
	next     UserProvider
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliableUserStore(next UserProvider, opts ReliabilityOptions) *ReliableUserStore {
	opts.normalize()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.BreakerName,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     opts.BreakerReset, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.TripAfter
		},
	})

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &ReliableUserStore{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		attempts: opts.Attempts,
		timeout:  opts.CallTimeout,
	}
}

// GetUserByUsername возвращает (nil, nil), если пользователя нет.
func (s *ReliableUserStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	// 1. Rate Limiter: логин не ждет, а сразу отказывает (защита от перебора)
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	// 2. Circuit Breaker
	res, err := s.cb.Execute(func() (interface{}, error) {
		var user *domain.User

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.attempts),
			retry.DelayType(retry.BackOffDelay),
		)
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			var callErr error
			user, callErr = s.next.GetUserByUsername(tCtx, username)
			return callErr
		})
		return user, retryErr
	})
	if err != nil {
		return nil, fmt.Errorf("user store: %w", err)
	}

	user, _ := res.(*domain.User)
	return user, nil
}

// State — текущее состояние предохранителя (для логов и health).
func (s *ReliableUserStore) State() string {
	return s.cb.State().String()
}
