package ingest

import "context"

// RawMessage 是邮件源取回的一封未处理邮件。
type RawMessage struct {
	UID  uint32 // 邮件源内的消息标识，用于标记已读
	Data []byte // 原始 RFC 5322 字节
}

// Source 抽象一条邮件源连接。
//
// 实现方负责单条连接内的协议细节；重连、退避与致命判定
// 由 Loop 统一处理，实现方只需在连接失效时返回错误。
type Source interface {
	// Connect 建立连接并进入可收取状态。
	Connect(ctx context.Context) error

	// WaitForMail 阻塞等待新邮件信号或兜底轮询周期到达。
	// 返回错误表示连接已不可用，需要重连。
	WaitForMail(ctx context.Context) error

	// FetchUnseen 取回所有未处理邮件。
	FetchUnseen(ctx context.Context) ([]RawMessage, error)

	// MarkSeen 标记一封邮件已被消费，避免重复处理。
	MarkSeen(ctx context.Context, uid uint32) error

	// Close 关闭当前连接，可对已关闭连接重复调用。
	Close() error
}
