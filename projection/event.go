// Package projection 将日志事件折叠为幂等的反规范化读模型
//
// 引擎本身与领域无关：领域语义只通过参数提取器（Extractor）注入。
// 写入的幂等性由去重闸与版本比较双重独立保证。
package projection

import (
	"encoding/json"

	"esrun/eventlog"
)

// Event 投影的归一化输入单元
//
// 每个被送达的日志事件派生一份，不持久化。
type Event struct {
	StreamID string
	Revision uint64
	Type     string
	Data     json.RawMessage
	Metadata eventlog.Metadata

	// Position 全局日志位置（通过订阅送达时存在）
	Position *eventlog.StreamPosition
}

// FromResolved 从日志事件派生投影事件
func FromResolved(ev eventlog.ResolvedEvent) Event {
	pos := ev.Position
	return Event{
		StreamID: ev.StreamID,
		Revision: ev.Revision,
		Type:     ev.Envelope.Type,
		Data:     ev.Envelope.Data,
		Metadata: ev.Envelope.Metadata,
		Position: &pos,
	}
}

// Outcome 单次投影尝试的结果标签
type Outcome string

const (
	// OutcomeApplied 写入生效
	OutcomeApplied Outcome = "APPLIED"

	// OutcomeStaleOCC 版本不高于已存版本，整个操作原子中止
	OutcomeStaleOCC Outcome = "STALE_OCC"

	// OutcomeSkippedDedup 去重闸命中（同一 (tenant, stream, revision) 已处理）
	OutcomeSkippedDedup Outcome = "SKIPPED_DEDUP"

	// OutcomeSkippedHint 版本提示短路（缓存的已应用版本不低于本次）
	OutcomeSkippedHint Outcome = "SKIPPED_HINT"

	// OutcomeUnknown 提取/键派生/脚本执行失败
	OutcomeUnknown Outcome = "UNKNOWN"
)
