package subscription

import (
	"context"
	"time"

	"esrun/errors"
	"esrun/eventlog"
)

// DeadLetter 一封死信
//
// 重试耗尽或确定性失败的事件连同失败上下文一起路由到死信槽，
// 供审计与人工修复。
type DeadLetter struct {
	// ID 死信标识
	ID string `json:"id"`

	// Group 产生死信的订阅组
	Group string `json:"group"`

	// Event 失败的原始事件
	Event eventlog.ResolvedEvent `json:"event"`

	// Reason 最后一次失败的错误文本
	Reason string `json:"reason"`

	// Kind 失败分类
	Kind errors.Kind `json:"kind"`

	// Attempts 放弃前的总尝试次数
	Attempts int `json:"attempts"`

	// FailedAt 放弃时刻
	FailedAt time.Time `json:"failed_at"`
}

// IDeadLetterSink 死信槽接口
//
// 投递失败由调用方记录日志，绝不致命——死信槽故障
// 不能反过来卡住订阅消费。
type IDeadLetterSink interface {
	// Publish 投递一封死信
	Publish(ctx context.Context, letter DeadLetter) error
}
