package domain

import "errors"

// Классы ошибок, общие для всех операций. Конкретные ошибки оборачивают
// один из них через fmt.Errorf("%w: ...").
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrConflict         = errors.New("conflict")
)

// IsClientError сообщает, относится ли ошибка к одному из известных классов.
// Всё остальное считается сбоем внешнего коллаборатора (хранилища и т.п.).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrConflict)
}
