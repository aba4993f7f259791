package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestE_Error 测试错误格式化
func TestE_Error(t *testing.T) {
	e := New(KindDomain, "订单校验失败")
	assert.Equal(t, "[domain] 订单校验失败", e.Error())

	wrapped := Wrap(KindInfrastructure, "redis 写入失败", stdErrors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "[infrastructure]")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

// TestE_Unwrap 测试错误解包
func TestE_Unwrap(t *testing.T) {
	cause := stdErrors.New("boom")
	e := Wrap(KindIntegrity, "reducer 异常", cause)

	assert.True(t, stdErrors.Is(e, cause))

	var target *E
	assert.True(t, stdErrors.As(fmt.Errorf("outer: %w", e), &target))
	assert.Equal(t, KindIntegrity, target.Kind())
}

// TestE_With 测试结构化上下文
func TestE_With(t *testing.T) {
	e := New(KindIntegrity, "apply failed").
		With("event_type", "OrderCreated").
		With("version", uint64(7))

	assert.Equal(t, "OrderCreated", e.Details()["event_type"])
	assert.Equal(t, uint64(7), e.Details()["version"])
}

// TestClassify 测试错误分类
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindInfrastructure},
		{"typed domain", New(KindDomain, "x"), KindDomain},
		{"typed conflict", New(KindConflict, "x"), KindConflict},
		{"wrapped typed", fmt.Errorf("outer: %w", New(KindIntegrity, "x")), KindIntegrity},
		{"timeout message", stdErrors.New("dial tcp: i/o timeout"), KindInfrastructure},
		{"connection message", stdErrors.New("connection refused"), KindInfrastructure},
		{"unavailable message", stdErrors.New("service unavailable"), KindInfrastructure},
		{"validation message", stdErrors.New("validation failed: missing id"), KindDomain},
		{"not found message", stdErrors.New("entity not found"), KindDomain},
		{"unauthorized message", stdErrors.New("unauthorized access"), KindDomain},
		{"opaque", stdErrors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

// TestKind_Retryable 测试重试语义
func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindInfrastructure.Retryable())
	assert.False(t, KindDomain.Retryable())
	assert.False(t, KindCancelled.Retryable())
	assert.False(t, KindIntegrity.Retryable())
	assert.False(t, KindConflict.Retryable())
	assert.False(t, KindUnknown.Retryable())
}

// TestWrap_Nil 测试 nil 透传
func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(KindDomain, "x", nil))
}
