package domain

import "errors"

// 引擎级业务错误。HTTP 层负责把它们映射为对外的通用提示，
// 内部细节不回传给调用方。
var (
	// ErrAllocationExhausted 表示地址生成重试次数用尽。
	ErrAllocationExhausted = errors.New("address allocation exhausted")

	// ErrMailboxNotFound 表示没有匹配的存活邮箱。
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrSessionNotFound 表示会话不存在。
	ErrSessionNotFound = errors.New("session not found")

	// ErrAddressConflict 表示地址已被某个存活邮箱占用。
	// 存储层在唯一索引冲突时返回它，分配器把它当作普通碰撞重试。
	ErrAddressConflict = errors.New("address already in use")

	// ErrDuplicateMessage 表示相同 SourceMessageID 的邮件已存在。
	ErrDuplicateMessage = errors.New("duplicate source message")
)
