package projection

import "esrun/eventlog"

// IProgressTracker 投影健康追踪接口
//
// 引擎对每个送达的事件上报一次，无论成败——位置上报
// 与处理结果解耦，卡死的毒事件也不会让进度停滞。
type IProgressTracker interface {
	// ReportPosition 上报最近一次处理到的日志位置
	ReportPosition(position eventlog.StreamPosition)

	// ReportOutcome 上报单次投影结果
	ReportOutcome(outcome Outcome)

	// ReportError 上报处理失败（提取、键派生或存储执行失败）
	ReportError(err error)
}

// NoopTracker 空实现
type NoopTracker struct{}

func (NoopTracker) ReportPosition(position eventlog.StreamPosition) {}
func (NoopTracker) ReportOutcome(outcome Outcome)                   {}
func (NoopTracker) ReportError(err error)                           {}

// Ensure interface compliance
var _ IProgressTracker = NoopTracker{}
