package service

import (
	"errors"
	"fmt"
)

// ErrorKind 请求级错误分类，由handler映射为HTTP状态码
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidRequest
	KindInvalidImage
	KindModelNotReady
	KindOverloaded
	KindFetchTimeout
	KindFetchFailed
	KindInferenceFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindInvalidImage:
		return "invalid_image"
	case KindModelNotReady:
		return "model_not_ready"
	case KindOverloaded:
		return "overloaded"
	case KindFetchTimeout:
		return "fetch_timeout"
	case KindFetchFailed:
		return "fetch_failed"
	case KindInferenceFailure:
		return "inference_failure"
	default:
		return "internal"
	}
}

// Error 带分类的错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同分类的 *Error 视为相等，便于 errors.Is(err, ErrOverloaded)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

var (
	ErrModelNotReady = &Error{Kind: KindModelNotReady, Message: "model not loaded"}
	ErrOverloaded    = &Error{Kind: KindOverloaded, Message: "inference queue is full, retry later"}
)

// KindOf 非 *Error 的错误归为 KindInternal
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
