// Package aggregate 通过快照 + 事件重放重建聚合状态
package aggregate

import (
	"fmt"
)

// Identity 聚合身份
//
// 流标识与快照标识都从这组字段确定性派生，
// 同一聚合在任何进程里算出的标识完全一致。
type Identity struct {
	BoundedContext string
	AggregateType  string
	SchemaVersion  int
	Tenant         string
	EntityID       string
}

// StreamID 派生事件流标识
//
// 形如 "sales.order-T1-42"；未设置限界上下文时省略前缀。
func (id Identity) StreamID() string {
	base := fmt.Sprintf("%s-%s-%s", id.AggregateType, id.Tenant, id.EntityID)
	if id.BoundedContext == "" {
		return base
	}
	return id.BoundedContext + "." + base
}

// SnapshotID 派生快照标识
//
// 包含模式版本：升级 reducer 模式后旧快照自然失效，
// 不会被误加载到新状态结构上。
func (id Identity) SnapshotID() string {
	return fmt.Sprintf("%s:%s:v%d:%s:%s",
		id.BoundedContext, id.AggregateType, id.SchemaVersion, id.Tenant, id.EntityID)
}

// Validate 校验身份字段完整性
func (id Identity) Validate() error {
	if id.AggregateType == "" {
		return fmt.Errorf("aggregate type cannot be empty")
	}
	if id.Tenant == "" {
		return fmt.Errorf("tenant cannot be empty")
	}
	if id.EntityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	return nil
}
