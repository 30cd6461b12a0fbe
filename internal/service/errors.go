package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrQuotaExceeded      = errors.New("monthly quota exceeded")
	ErrRateLimited        = errors.New("too many requests")
	ErrUnavailable        = errors.New("service unavailable")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// ValidationError 输入校验失败，handler 映射为 400
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError 外部 API 调用失败
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string { return e.Provider + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }
