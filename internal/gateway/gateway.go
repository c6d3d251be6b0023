package gateway

import "context"

// Gateway 消息网关（发送短信 / 发起电话）
// 本子系统视角为 fire-and-forget：返回的错误仅用于记录日志，
// 不会重试，也不影响调用方的状态变更
type Gateway interface {
	SendText(ctx context.Context, toNumber, body string) error
	PlaceCall(ctx context.Context, toNumber string) error
}
