package auction

import "errors"

var (
	// ErrInvalidArgument 表示建立拍賣時的輸入不合法（空標題、負的起標價）
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIllegalState 表示操作在目前的生命週期狀態下不被允許
	ErrIllegalState = errors.New("illegal state")
	// ErrNotFound 表示查無此拍賣
	ErrNotFound = errors.New("auction not found")
)
