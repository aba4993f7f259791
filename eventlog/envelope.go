package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StreamPosition 全局日志偏移
//
// commit/prepare 是日志服务端产生的不透明单调序号，
// 仅用于排序与断点续读，不承载业务语义。
type StreamPosition struct {
	Commit  uint64 `json:"commit"`
	Prepare uint64 `json:"prepare"`
}

// Compare 按 commit 优先、prepare 次之比较两个位置
//
// 返回：
//   - -1: p 在 other 之前
//   - 0: 相同位置
//   - 1: p 在 other 之后
func (p StreamPosition) Compare(other StreamPosition) int {
	if p.Commit != other.Commit {
		if p.Commit < other.Commit {
			return -1
		}
		return 1
	}
	if p.Prepare != other.Prepare {
		if p.Prepare < other.Prepare {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero 是否为零值位置（表示从头开始）
func (p StreamPosition) IsZero() bool {
	return p.Commit == 0 && p.Prepare == 0
}

// Metadata 事件元数据（标准化字段）
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Tenant        string `json:"tenant,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
}

// EventEnvelope 一条已记录的事实
//
// 追加后不可变。Data 保持原始 JSON，由消费方自行反序列化。
type EventEnvelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEnvelope 创建事件信封
func NewEnvelope(eventType string, data any, metadata Metadata) (EventEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return EventEnvelope{}, err
	}
	if metadata.SchemaVersion <= 0 {
		metadata.SchemaVersion = 1
	}
	return EventEnvelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Data:      raw,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}, nil
}

// ResolvedEvent 带流内序号与全局位置的已解析事件
type ResolvedEvent struct {
	StreamID string
	Revision uint64 // 流内序号，从 0 开始
	Envelope EventEnvelope
	Position StreamPosition
}
