package apperr

import (
	"errors"
	"net/http"
)

// 错误分类（API 层按类别映射状态码，组件内部用 %w 包装）
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInferenceFailure       = errors.New("inference failure")
	ErrTimeout                = errors.New("timeout")
	ErrEmptyResult            = errors.New("empty result")
	ErrStorageFailure         = errors.New("storage failure")
)

// HTTPStatus 错误类别 -> HTTP 状态码
// 非法输入 400；未知资源 404；非法状态转移 409；队列满 429；其余 500
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
