package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyInitialization — ключевой материал не удалось загрузить. Сервис не должен стартовать.
	ErrKeyInitialization = errors.New("auth: key initialization failed")
	// ErrInvalidArgument сигнализирует об ошибке вызывающей стороны (пустой subject и т.п.)
	ErrInvalidArgument = errors.New("auth: invalid argument")
	// ErrServiceUnavailable — JWT сервис еще не привязан (или уже отвязан).
	ErrServiceUnavailable = errors.New("auth: jwt service unavailable")
	// ErrTokenMissing — запрос не содержит ни заголовка, ни cookie с токеном.
	ErrTokenMissing = errors.New("auth: token missing")
)

// KeyInitError описывает, на каком шаге сломалась загрузка ключа.
type KeyInitError struct {
	Op  string
	Err error
}

func (e *KeyInitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: key initialization failed: %s", e.Op)
	}
	return fmt.Sprintf("auth: key initialization failed: %s: %v", e.Op, e.Err)
}

func (e *KeyInitError) Unwrap() error {
	return e.Err
}

// Is позволяет проверять errors.Is(err, ErrKeyInitialization).
func (e *KeyInitError) Is(target error) bool {
	return target == ErrKeyInitialization
}

func keyInitError(op string, err error) error {
	return &KeyInitError{Op: op, Err: err}
}
