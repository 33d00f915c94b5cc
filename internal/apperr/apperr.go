// Package apperr содержит общие ошибки уровня приложения.
package apperr

import "errors"

// ErrValidation возвращается при некорректных или отсутствующих входных данных.
var ErrValidation = errors.New("validation failed")

// ErrAuthentication возвращается при отсутствующих, просроченных или поддельных учётных данных.
var ErrAuthentication = errors.New("authentication failed")

// ErrForbidden возвращается, когда аутентифицированному пользователю не хватает прав.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound возвращается, если запрошенный ресурс не существует.
var ErrNotFound = errors.New("not found")
