package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Params 类型化投影参数
//
// 由提取器从事件数据中提取——这是引擎唯一的领域相关接缝。
type Params struct {
	// EntityType 实体类型（键命名空间的一部分）
	EntityType string

	// EntityID 实体标识
	EntityID string

	// Version 实体的领域版本（乐观并发比较依据）
	Version uint64

	// Deleted 为 true 时走软删除路径
	Deleted bool

	// UpdatedAt 更新时间（租户索引的排序分值）
	UpdatedAt time.Time

	// Fields 待投影的字段（软删除路径忽略）
	Fields map[string]any
}

// Validate 校验参数完整性
func (p Params) Validate() error {
	if p.EntityType == "" {
		return fmt.Errorf("entity type cannot be empty")
	}
	if p.EntityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if p.Version == 0 {
		return fmt.Errorf("version must be positive")
	}
	return nil
}

// Extractor 参数提取器
//
// 从归一化事件中提取类型化参数。返回错误表示事件数据
// 与该投影的约定不符，按基础设施失败上抛由上游分类。
type Extractor func(event Event) (Params, error)

// FieldPair 有序的 (字段名, 字符串值) 对
type FieldPair struct {
	Field string
	Value string
}

// NormalizeFields 防御性字段归一化
//
// 把任意 Go 值转成确定的字符串表示，绝不留下歧义：
//   - nil / NaN / ±Inf → 空串
//   - time.Time → ISO-8601（RFC3339Nano）
//   - bool → "true"/"false"
//   - 数值 → 十进制字符串
//   - 其他（对象/切片）→ JSON
//
// 输出按字段名排序，保证同一输入的序列化结果逐字节一致。
func NormalizeFields(fields map[string]any) ([]FieldPair, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]FieldPair, 0, len(names))
	for _, name := range names {
		value, err := normalizeValue(fields[name])
		if err != nil {
			return nil, fmt.Errorf("normalize field %q: %w", name, err)
		}
		pairs = append(pairs, FieldPair{Field: name, Value: value})
	}
	return pairs, nil
}

func normalizeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if val == nil {
			return "", nil
		}
		return val.UTC().Format(time.RFC3339Nano), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", nil
		}
		return formatFloat(val), nil
	case float32:
		return normalizeValue(float64(val))
	case int:
		return fmt.Sprintf("%d", val), nil
	case int32:
		return fmt.Sprintf("%d", val), nil
	case int64:
		return fmt.Sprintf("%d", val), nil
	case uint:
		return fmt.Sprintf("%d", val), nil
	case uint32:
		return fmt.Sprintf("%d", val), nil
	case uint64:
		return fmt.Sprintf("%d", val), nil
	case json.Number:
		return val.String(), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

func formatFloat(f float64) string {
	// 整数值的浮点（JSON 解码的常态）不带小数点
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
