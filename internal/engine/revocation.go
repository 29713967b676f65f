package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-authgate/internal/infra"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"go.uber.org/zap"
)

// ErrTokenRevoked возвращает интроспекция для отозванного jti.
var ErrTokenRevoked = errors.New("token has been revoked")

// RevocationManager держит L1 (RAM) копию множества отозванных jti.
// Источник правды — Redis Sorted Set (score = exp токена), изменения приходят через Pub/Sub.
// Hot Path (IsRevoked) сеть не трогает.
type RevocationManager struct {
	mu sync.RWMutex
	// jti -> exp токена; нулевое время — срок неизвестен, запись живет до следующего Init
	revoked map[string]time.Time
	rdb     *redis.Client
	logger  *zap.Logger
	metrics *Metrics
}

func NewRevocationManager(rdb *redis.Client, logger *zap.Logger, metrics *Metrics) *RevocationManager {
	return &RevocationManager{
		revoked: make(map[string]time.Time),
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "revocation")),
		metrics: metrics,
	}
}

// Init загружает текущее состояние при старте сервиса (и при каждом переподключении).
// Записи об уже истекших токенах попутно вычищаются из Redis.
func (m *RevocationManager) Init(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	pipe := m.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, infra.RedisKeyRevokedTokens, "-inf", now)
	rangeCmd := pipe.ZRangeByScoreWithScores(ctx, infra.RedisKeyRevokedTokens, &redis.ZRangeBy{Min: "(" + now, Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to fetch revoked tokens: %w", err)
	}
	entries := rangeCmd.Val()

	fresh := make(map[string]time.Time, len(entries))
	for _, z := range entries {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		fresh[id] = expiryFromScore(z.Score)
	}

	m.mu.Lock()
	m.revoked = fresh
	m.mu.Unlock()

	m.observeSize()
	m.logger.Info("revocation cache synced", zap.Int("count", len(fresh)))
	return nil
}

// StartListener подписывается на сигналы отзыва в реальном времени
// и раз в sweepEvery выбрасывает из L1 записи истекших токенов.
func (m *RevocationManager) StartListener(ctx context.Context, sweepEvery time.Duration) {
	go m.sweepLoop(ctx, sweepEvery)
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanRevocations,
		func() error { return m.Init(ctx) },
		func(id string, revoked bool) { m.onSignal(ctx, id, revoked) },
	)
}

// Revoke сохраняет jti в Redis и рассылает сигнал всем инстансам.
// expiresAt — exp токена: после него запись в множестве уже не нужна.
func (m *RevocationManager) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return fmt.Errorf("%w: token id is blank", auth.ErrInvalidArgument)
	}

	pipe := m.rdb.TxPipeline()
	pipe.ZAdd(ctx, infra.RedisKeyRevokedTokens, redis.Z{Score: expiryScore(expiresAt), Member: tokenID})
	pipe.Publish(ctx, infra.RedisChanRevocations, infra.RevocationSignal(tokenID, true))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis revoke failed: %w", err)
	}

	// свой инстанс обновляем сразу, не дожидаясь эха из Pub/Sub
	m.apply(tokenID, true, expiresAt)
	m.logger.Info("token revoked", zap.String("jti", tokenID), zap.Time("expires_at", expiresAt))
	return nil
}

// IsRevoked — максимально быстрый метод для проверки в Hot Path
func (m *RevocationManager) IsRevoked(tokenID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[tokenID]
	return ok
}

// Introspect реализует auth.ClaimsIntrospector.
func (m *RevocationManager) Introspect(_ context.Context, sc *auth.SecurityContext) error {
	if sc == nil || sc.Claims == nil {
		return nil
	}
	if id := sc.Claims.ID(); id != "" && m.IsRevoked(id) {
		return fmt.Errorf("%w: %w", auth.ErrAccessDenied, ErrTokenRevoked)
	}
	return nil
}

// onSignal применяет сигнал другого инстанса. Exp в сигнале нет, его берем из Sorted Set.
func (m *RevocationManager) onSignal(ctx context.Context, tokenID string, revoked bool) {
	var exp time.Time
	if revoked {
		score, err := m.rdb.ZScore(ctx, infra.RedisKeyRevokedTokens, tokenID).Result()
		switch {
		case err == nil:
			exp = expiryFromScore(score)
		case !errors.Is(err, redis.Nil):
			m.logger.Warn("failed to read revoked token expiry", zap.String("jti", tokenID), zap.Error(err))
		}
	}
	m.apply(tokenID, revoked, exp)
}

func (m *RevocationManager) apply(tokenID string, revoked bool, expiresAt time.Time) {
	m.mu.Lock()
	if revoked {
		m.revoked[tokenID] = expiresAt
	} else {
		delete(m.revoked, tokenID)
	}
	m.mu.Unlock()
	m.observeSize()
}

// sweep удаляет записи токенов, истекших к моменту now: такой токен и так не пройдет проверку.
func (m *RevocationManager) sweep(now time.Time) int {
	m.mu.Lock()
	removed := 0
	for id, exp := range m.revoked {
		if !exp.IsZero() && !now.Before(exp) {
			delete(m.revoked, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.observeSize()
		m.logger.Debug("expired revocations swept", zap.Int("count", removed))
	}
	return removed
}

func (m *RevocationManager) sweepLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// expiryScore: у токена без exp запись бессрочная (+inf), иначе ее вычистит Init.
func expiryScore(expiresAt time.Time) float64 {
	if expiresAt.IsZero() {
		return math.Inf(1)
	}
	return float64(expiresAt.Unix())
}

func expiryFromScore(score float64) time.Time {
	if math.IsInf(score, 0) || math.IsNaN(score) {
		return time.Time{}
	}
	return time.Unix(int64(score), 0)
}

func (m *RevocationManager) observeSize() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.revoked)
	m.mu.RUnlock()
	m.metrics.RevokedTokens.Set(float64(n))
}
