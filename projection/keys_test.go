package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilder(t *testing.T) {
	kb := keyBuilder{}

	assert.Equal(t, "proj:order:{T1}:42", kb.EntityKey("order", "T1", "42"))
	assert.Equal(t, "proj:order:{T1}:index", kb.IndexKey("order", "T1"))
	assert.Equal(t, "dedup:T1:order-T1-42:7", kb.DedupKey("T1", "order-T1-42", 7))
	assert.Equal(t, "ver:T1:order:42", kb.HintKey("T1", "order", "42"))
}

func TestKeyBuilder_WithPrefix(t *testing.T) {
	kb := keyBuilder{prefix: "staging:"}

	assert.Equal(t, "staging:proj:order:{T1}:42", kb.EntityKey("order", "T1", "42"))
	assert.Equal(t, "staging:proj:order:{T1}:index", kb.IndexKey("order", "T1"))
}

func TestHashTag(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"普通键", "proj:order:{T1}:42", "T1"},
		{"索引键", "proj:order:{T1}:index", "T1"},
		{"无标签", "proj:order:T1:42", ""},
		{"空标签", "proj:order:{}:42", ""},
		{"未闭合", "proj:order:{T1", ""},
		{"取第一对", "a{x}b{y}", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hashTag(tt.key))
		})
	}
}

func TestValidateLocality(t *testing.T) {
	kb := keyBuilder{}

	// 同一构建器产出的实体键与索引键必然同槽
	err := validateLocality(kb.EntityKey("order", "T1", "42"), kb.IndexKey("order", "T1"))
	assert.NoError(t, err)

	// 标签不一致是硬错误
	err = validateLocality("proj:order:{T1}:42", "proj:order:{T2}:index")
	assert.Error(t, err)

	// 缺失标签同样拒绝
	err = validateLocality("proj:order:42", "proj:order:index")
	assert.Error(t, err)
}
