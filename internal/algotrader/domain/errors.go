package domain

import "errors"

var (
	// ErrInvalidObservation 价格或成交量不为正
	ErrInvalidObservation = errors.New("invalid price/volume observation")
	// ErrNotReady 尚未累计任何观测值时请求 VWAP
	ErrNotReady = errors.New("vwap analytic has no observations")
	// ErrIllegalState 对已成交订单请求切片或在未成交时读取成交信息
	ErrIllegalState = errors.New("illegal algo order state")
	// ErrConflict 乐观锁冲突：保存时版本已被其他写入推进
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrNotFound 聚合不存在
	ErrNotFound = errors.New("aggregate not found")

	ErrInvalidOrderID   = errors.New("invalid order id")
	ErrInvalidOrder     = errors.New("invalid algo order")
	ErrInvalidSliceSize = errors.New("slice size must be positive")
	ErrInvalidQuoteBar  = errors.New("invalid quote bar")
)
