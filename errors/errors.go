// Package errors 定义运行时的错误分类体系
//
// 设计原则：
//  1. 封闭的错误种类集合（Kind），而不是开放的字符串错误目录；
//  2. 每个错误携带结构化上下文（details），便于日志与死信审计；
//  3. 分类结果直接驱动订阅循环的重试决策（见 Classify）。
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
)

// context 错误别名，避免在 Classify 里直接散落 context 包引用
var (
	contextCanceled = context.Canceled
	contextDeadline = context.DeadlineExceeded
)

// Kind 错误种类
//
// 与错误处理策略一一对应：
//   - KindCancelled: 协作取消，不是错误，干净短路；
//   - KindDomain: 确定性业务失败（校验/未找到/未授权），永不重试；
//   - KindInfrastructure: 瞬态基础设施失败（超时/连接），有界重试；
//   - KindIntegrity: 数据完整性失败（重放时 reducer 异常），该次加载致命；
//   - KindConflict: 乐观并发冲突，预期内结果，记录但不按错误处理。
type Kind int

const (
	KindUnknown Kind = iota
	KindCancelled
	KindDomain
	KindInfrastructure
	KindIntegrity
	KindConflict
)

// String 返回种类名称
func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindDomain:
		return "domain"
	case KindInfrastructure:
		return "infrastructure"
	case KindIntegrity:
		return "integrity"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Retryable 该种类错误是否应由调用方重试
//
// 只有瞬态基础设施失败可重试；未知错误按基础设施处理（保守重试），
// 由 Classify 在分类阶段归一化。
func (k Kind) Retryable() bool {
	return k == KindInfrastructure
}

// E 运行时错误
//
// 同时实现 error 与 errors.Is/As 解包协议。
type E struct {
	kind    Kind
	message string
	cause   error
	details map[string]any
}

// New 创建指定种类的错误
func New(kind Kind, message string) *E {
	return &E{kind: kind, message: message}
}

// Wrap 包装底层错误
//
// err 为 nil 时返回 nil，便于直接透传。
func Wrap(kind Kind, message string, err error) *E {
	if err == nil {
		return nil
	}
	return &E{kind: kind, message: message, cause: err}
}

// Newf 创建带格式化消息的错误
func Newf(kind Kind, format string, args ...any) *E {
	return &E{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Error 实现 error 接口
func (e *E) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.kind, e.message)
}

// Kind 返回错误种类
func (e *E) Kind() Kind { return e.kind }

// Message 返回错误消息
func (e *E) Message() string { return e.message }

// Unwrap 返回原始错误
func (e *E) Unwrap() error { return e.cause }

// Details 返回结构化上下文（只读视图由调用方自觉保证）
func (e *E) Details() map[string]any { return e.details }

// With 添加结构化上下文，返回自身便于链式调用
func (e *E) With(key string, value any) *E {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// KindOf 提取错误的种类
//
// 非本包错误返回 KindUnknown，由 Classify 做启发式归类。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *E
	if stdErrors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsKind 判断错误是否属于指定种类
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// 启发式分类用的消息特征
//
// 与外部依赖（日志客户端、Redis 驱动等）返回的裸错误对齐：
// 这些库不会使用本包的 Kind，只能按消息归类。
var (
	infraHints = []string{
		"timeout", "timed out", "deadline exceeded",
		"connection", "connect", "broken pipe", "reset by peer",
		"unavailable", "network", "eof", "too many requests",
	}
	domainHints = []string{
		"validation", "invalid", "not found", "unauthorized",
		"forbidden", "conflict", "already exists", "duplicate",
	}
)

// Classify 将任意错误归类到封闭的 Kind 集合
//
// 规则（按优先级）：
//  1. context 取消/超时：取消视为 KindCancelled，deadline 视为基础设施；
//  2. 本包错误：直接使用其 Kind；
//  3. 消息特征：基础设施特征优先于领域特征（"connection refused" 里
//     可能同时出现 "refused"/"connection"，取更保守的可重试归类）；
//  4. 其余归为 KindUnknown，调用方按不可重试处理并走死信路径。
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if stdErrors.Is(err, contextCanceled) {
		return KindCancelled
	}
	if stdErrors.Is(err, contextDeadline) {
		return KindInfrastructure
	}

	if k := KindOf(err); k != KindUnknown {
		return k
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range infraHints {
		if strings.Contains(msg, hint) {
			return KindInfrastructure
		}
	}
	for _, hint := range domainHints {
		if strings.Contains(msg, hint) {
			return KindDomain
		}
	}

	return KindUnknown
}
