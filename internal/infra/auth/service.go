package auth

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// ServiceConfig — все, что нужно для сборки JWT сервиса из конфигурации.
type ServiceConfig struct {
	Keys     KeySource
	Issuer   IssuerConfig
	Verifier VerifierConfig
}

// Service объединяет выпуск и проверку токенов поверх одного неизменяемого KeyInfo.
// Смена ключей — это сборка нового Service, а не мутация старого.
type Service struct {
	keys     *KeyInfo
	issuer   *Issuer
	verifier *Verifier
}

// NewService загружает ключи и собирает сервис. Ошибка ключей фатальна для активации.
func NewService(cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	keys, err := LoadKeyInfo(cfg.Keys)
	if err != nil {
		return nil, err
	}
	return NewServiceWithKeys(keys, cfg.Issuer, cfg.Verifier, logger)
}

func NewServiceWithKeys(keys *KeyInfo, icfg IssuerConfig, vcfg VerifierConfig, logger *zap.Logger) (*Service, error) {
	verifier, err := NewVerifier(vcfg, keys, logger)
	if err != nil {
		return nil, err
	}
	s := &Service{keys: keys, verifier: verifier}

	// без приватного ключа сервис работает только на проверку
	if keys.CanSign() {
		if s.issuer, err = NewIssuer(icfg, keys); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Keys() *KeyInfo { return s.keys }

func (s *Service) Verify(token string) Outcome {
	return s.verifier.Verify(token)
}

// Issue выпускает токен; в режиме только-проверки возвращает ErrServiceUnavailable.
func (s *Service) Issue(subject string, claims map[string]any) (string, *Claims, error) {
	if s.issuer == nil {
		return "", nil, errors.Join(ErrServiceUnavailable, errors.New("signing key is not configured"))
	}
	return s.issuer.Issue(subject, claims)
}

// ServiceProvider отдает текущий сервис или nil, если он не привязан.
type ServiceProvider interface {
	Current() *Service
}

// ServiceHolder — точка подмены сервиса при реконфигурации.
// Уже начатые проверки дорабатывают со старым ключом: ссылка на него остается валидной.
type ServiceHolder struct {
	current atomic.Pointer[Service]
}

func NewServiceHolder(s *Service) *ServiceHolder {
	h := &ServiceHolder{}
	if s != nil {
		h.Bind(s)
	}
	return h
}

func (h *ServiceHolder) Bind(s *Service) {
	h.current.Store(s)
}

func (h *ServiceHolder) Unbind() {
	h.current.Store(nil)
}

func (h *ServiceHolder) Current() *Service {
	return h.current.Load()
}
