// Package service содержит прикладные операции платформы: статьи, комментарии,
// пользователи. Транспорт вызывает только его, хранилище видит только он.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/UkralStul/technews/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct проверяет теги validate и превращает ошибки в domain.ErrValidation.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

// ListQuery - параметры постраничного списка.
type ListQuery struct {
	Category string
	Limit    int
	Offset   int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Page - страница списка вместе с общим числом элементов.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
