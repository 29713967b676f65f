package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-authgate/internal/audit"
	"github.com/xela07ax/spaceai-authgate/internal/domain"
	"github.com/xela07ax/spaceai-authgate/internal/engine"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials — единая ошибка для "нет пользователя" и "неверный пароль".
var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Revoker — хранилище отозванных токенов (engine.RevocationManager).
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

type AuthService struct {
	repo    AuthProvider
	jwt     auth.ServiceProvider
	revoker Revoker
	auditor audit.Auditor
	metrics *engine.Metrics
	logger  *zap.Logger
}

func NewAuthService(
	repo AuthProvider,
	jwt auth.ServiceProvider,
	revoker Revoker,
	auditor audit.Auditor,
	metrics *engine.Metrics,
	logger *zap.Logger,
) *AuthService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &AuthService{
		repo:    repo,
		jwt:     jwt,
		revoker: revoker,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("auth-service"),
	}
}

// GenerateToken проверяет учетные данные и выпускает токен.
// Пароль используется только внутри вызова и нигде не сохраняется.
func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	start := time.Now()

	// Сервис проверяем до похода в базу: без ключей выпускать нечего
	svc := s.jwt.Current()
	if svc == nil {
		s.metrics.ObserveLoginFailure("unavailable")
		s.audit(ctx, username, "unavailable", "jwt service unavailable", start)
		return nil, auth.ErrServiceUnavailable
	}

	if strings.TrimSpace(username) == "" || password == "" {
		s.metrics.ObserveLoginFailure("credentials")
		return nil, ErrInvalidCredentials
	}

	// 1. Аутентификация (Источник правды — Postgres)
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, engine.ErrRateLimited) {
			s.metrics.ObserveLoginFailure("rate_limit")
			s.audit(ctx, username, "rate_limited", err.Error(), start)
			return nil, err
		}
		s.metrics.ObserveLoginFailure("store")
		s.logger.Error("user lookup failed", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil || user.Disabled {
		s.metrics.ObserveLoginFailure("credentials")
		s.audit(ctx, username, "denied", ErrInvalidCredentials.Error(), start)
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.metrics.ObserveLoginFailure("credentials")
		s.audit(ctx, username, "denied", ErrInvalidCredentials.Error(), start)
		return nil, ErrInvalidCredentials
	}

	// 3. Claims: роли берем из прав пользователя в БД
	claims := map[string]any{
		"uid": user.ID,
	}
	if len(user.Roles) > 0 {
		claims["roles"] = strings.Join(user.Roles, ",")
	}

	// 4. Подпись (iss, sub, iat, exp, jti проставит Issuer)
	token, issued, err := svc.Issue(user.Username, claims)
	if err != nil {
		s.logger.Error("failed to issue token", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	s.metrics.ObserveIssued()
	s.audit(ctx, user.Username, "issued", "", start)

	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(issued.ExpiresAt()).Seconds()),
	}, nil
}

// RevokeToken отзывает токен, которым подписан текущий запрос.
func (s *AuthService) RevokeToken(ctx context.Context, sc *auth.SecurityContext) error {
	if sc == nil || sc.Claims == nil {
		return fmt.Errorf("%w: no token in request context", auth.ErrInvalidArgument)
	}
	if s.revoker == nil {
		return auth.ErrServiceUnavailable
	}
	if err := s.revoker.Revoke(ctx, sc.Claims.ID(), sc.Claims.ExpiresAt()); err != nil {
		s.logger.Error("token revocation failed", zap.String("sub", sc.Principal), zap.Error(err))
		return err
	}
	return nil
}

func (s *AuthService) audit(ctx context.Context, subject, outcome, reason string, start time.Time) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(audit.AuthEvent{
		ID:         uuid.NewString(),
		TraceID:    audit.TraceIDFromContext(ctx),
		Channel:    "login",
		Resource:   "POST /auth/token",
		Subject:    subject,
		Outcome:    outcome,
		Reason:     reason,
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	})
}
