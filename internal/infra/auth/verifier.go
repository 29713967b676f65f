package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Status — результат проверки токена.
type Status int

const (
	StatusInvalid Status = iota
	StatusValid
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Причины отказа, которые попадают в Outcome.Reason и в метрики.
const (
	ReasonBlankToken       = "blank token"
	ReasonMalformed        = "malformed token"
	ReasonSignature        = "signature mismatch"
	ReasonClaims           = "invalid claims"
	ReasonMissingClaims    = "obligatory claims missing"
	ReasonUnsupportedAlg   = "unsupported algorithm"
	ReasonVerificationFail = "verification failed"
)

// Outcome — теговый вариант Valid(claims) | Expired(claims) | Invalid(reason).
// Для Invalid Claims всегда nil.
type Outcome struct {
	Status Status
	Claims *Claims
	Reason string
	// Err — исходная ошибка библиотеки, только для диагностики в логах.
	Err error
}

func (o Outcome) Valid() bool   { return o.Status == StatusValid }
func (o Outcome) Expired() bool { return o.Status == StatusExpired }
func (o Outcome) Invalid() bool { return o.Status == StatusInvalid }

func invalid(reason string, err error) Outcome {
	return Outcome{Status: StatusInvalid, Reason: reason, Err: err}
}

// VerifierConfig — настройки проверки.
type VerifierConfig struct {
	// ValidateClaims включает проверку ObligatoryClaims после успешного разбора.
	ValidateClaims   bool
	ObligatoryClaims []string
	// PrintExceptionTrace разрешает писать в лог детали ошибок разбора (по умолчанию выключено).
	PrintExceptionTrace bool
}

// Verifier проверяет токены. Чистая функция от (token, ключ), безопасна для конкурентного вызова.
type Verifier struct {
	cfg    VerifierConfig
	keys   *KeyInfo
	parser *jwt.Parser
	logger *zap.Logger
	now    func() time.Time
}

func NewVerifier(cfg VerifierConfig, keys *KeyInfo, logger *zap.Logger) (*Verifier, error) {
	if keys == nil || keys.VerificationKey() == nil {
		return nil, keyInitError("verifier", errors.New("verification key is not configured"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Verifier{
		cfg:    cfg,
		keys:   keys,
		logger: logger.Named("jwt-verifier"),
		now:    time.Now,
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{string(keys.Algorithm())}),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v, nil
}

// Verify не возвращает ошибку: любой сбой разбора классифицируется в Outcome.
func (v *Verifier) Verify(tokenStr string) Outcome {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return invalid(ReasonBlankToken, nil)
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.keys.VerificationKey(), nil
	})

	out := v.classify(token, claims, err)
	if out.Status != StatusInvalid {
		// exp/iat/nbf проверяет сам golang-jwt, а sub, iss, aud и jti без ожидаемого значения он не смотрит
		if err := registeredClaimTypes(claims); err != nil {
			out = invalid(ReasonClaims, err)
		}
	}
	if out.Status != StatusInvalid && v.cfg.ValidateClaims {
		if missing := out.Claims.missing(v.cfg.ObligatoryClaims); len(missing) > 0 {
			out = invalid(ReasonMissingClaims, fmt.Errorf("missing obligatory claims: %s", strings.Join(missing, ", ")))
		}
	}

	if out.Status == StatusInvalid {
		v.logFailure(out)
	}
	return out
}

func (v *Verifier) classify(token *jwt.Token, claims jwt.MapClaims, err error) Outcome {
	if err == nil {
		if token == nil || !token.Valid {
			return invalid(ReasonVerificationFail, errors.New("token is not valid"))
		}
		return Outcome{Status: StatusValid, Claims: newVerifiedClaims(claims, false)}
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(ReasonMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalid(ReasonSignature, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// неизвестный alg в заголовке; несовпадение с настроенным алгоритмом golang-jwt отдает как ошибку подписи
		return invalid(ReasonUnsupportedAlg, err)
	case errors.Is(err, jwt.ErrTokenExpired) && expiredOnly(err):
		// подпись уже проверена: golang-jwt валидирует claims только после подписи
		return Outcome{Status: StatusExpired, Claims: newVerifiedClaims(claims, true), Err: err}
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return invalid(ReasonClaims, err)
	}
	return invalid(ReasonVerificationFail, err)
}

// registeredClaimTypes отклоняет зарегистрированные claims не того типа (например, "sub": 42).
func registeredClaimTypes(claims jwt.MapClaims) error {
	if _, err := claims.GetSubject(); err != nil {
		return err
	}
	if _, err := claims.GetIssuer(); err != nil {
		return err
	}
	if _, err := claims.GetAudience(); err != nil {
		return err
	}
	if id, ok := claims[ClaimID]; ok {
		if _, isString := id.(string); !isString {
			return fmt.Errorf("%w: %s is invalid", jwt.ErrInvalidType, ClaimID)
		}
	}
	return nil
}

// expiredOnly — истечение срока не смешано с другими нарушениями claims (nbf, iat и т.п.).
func expiredOnly(err error) bool {
	for _, other := range []error{
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidSubject,
		jwt.ErrTokenInvalidId,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func (v *Verifier) logFailure(out Outcome) {
	if !v.cfg.PrintExceptionTrace {
		v.logger.Debug("jwt rejected", zap.String("reason", out.Reason))
		return
	}
	v.logger.Warn("jwt rejected",
		zap.String("reason", out.Reason),
		zap.Error(out.Err),
		zap.Stack("trace"),
	)
}
