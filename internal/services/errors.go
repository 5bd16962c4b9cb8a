package services

import "errors"

// 服务层错误分类。具体错误通过 fmt.Errorf("%w: ...") 包装，调用方使用 errors.Is 判断，
// HTTP/WebSocket 层负责映射为状态码或错误帧。
var (
	// ErrNotFound 会话或参与方不存在（或调用方无权知道其存在）
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition 会话当前状态不允许该操作
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation 请求载荷不合法（时长越界、消息字段缺失等）
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication 凭证缺失或无效
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization 调用方不是会话参与方
	ErrAuthorization = errors.New("access denied")
)
