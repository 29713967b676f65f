package handler

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/xela07ax/spaceai-authgate/internal/console/service"
	"github.com/xela07ax/spaceai-authgate/internal/domain"
	"github.com/xela07ax/spaceai-authgate/internal/engine"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"go.uber.org/zap"
)

type AuthHandler struct {
	service *service.AuthService
	jwt     auth.ServiceProvider
	logger  *zap.Logger
}

func NewAuthHandler(s *service.AuthService, jwt auth.ServiceProvider, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, jwt: jwt, logger: logger.Named("auth-handler")}
}

// Login принимает form (subject, password) или JSON (username, password).
// POST /auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(w, r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrServiceUnavailable):
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, engine.ErrRateLimited):
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		case errors.Is(err, service.ErrInvalidCredentials):
			// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		default:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Authorization", "Bearer "+resp.AccessToken)
	writeJSON(w, http.StatusOK, resp)
}

// Check подтверждает валидность токена. Маршрут подключается с ExpiredPassThrough,
// поэтому истекший токен отличается от невалидного телом ответа.
// GET /auth/check
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	sc, ok := auth.SecurityContextFrom(r.Context())
	if !ok || sc.Anonymous {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	resp := domain.CheckResponse{Status: "valid", Subject: sc.Principal}
	if exp := sc.Claims.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = &exp
	}

	if sc.Expired {
		resp.Status = "expired"
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	resp.Claims = sc.Claims.Map()
	writeJSON(w, http.StatusOK, resp)
}

// Revoke отзывает токен текущего запроса.
// POST /auth/revoke
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	sc, ok := auth.SecurityContextFrom(r.Context())
	if !ok || sc.Anonymous {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.RevokeToken(r.Context(), sc); err != nil {
		switch {
		case errors.Is(err, auth.ErrServiceUnavailable):
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, auth.ErrInvalidArgument):
			// например, токен без jti: отзывать нечего
			http.Error(w, "token cannot be revoked", http.StatusBadRequest)
		default:
			http.Error(w, "Failed to revoke token", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JWKS публикует ключ проверки.
// GET /.well-known/jwks.json
func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	svc := h.jwt.Current()
	if svc == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	set, err := auth.PublicJWKS(svc.Keys())
	if err != nil {
		h.logger.Error("failed to build jwks", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, set)
}

// Health отвечает 503, пока JWT сервис не привязан.
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.jwt.Current() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (domain.LoginRequest, error) {
	var req domain.LoginRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = r.PostForm.Get("subject")
	if req.Username == "" {
		req.Username = r.PostForm.Get("username")
	}
	req.Password = r.PostForm.Get("password")
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
