package projection

import (
	"fmt"
	"strings"

	"esrun/errors"
)

// 键布局（prefix 为空时）：
//
//	实体哈希    proj:<entityType>:{<tenant>}:<entityID>
//	租户索引    proj:<entityType>:{<tenant>}:index
//	去重标记    dedup:<tenant>:<streamID>:<revision>
//	版本提示    ver:<tenant>:<entityType>:<entityID>
//
// 实体键与索引键把租户包在花括号里作为集群哈希标签：
// 二者必须落在同一 slot，原子脚本才能同时操作两个键。
type keyBuilder struct {
	prefix string
}

// EntityKey 实体哈希键
func (kb keyBuilder) EntityKey(entityType, tenant, entityID string) string {
	return fmt.Sprintf("%sproj:%s:{%s}:%s", kb.prefix, entityType, tenant, entityID)
}

// IndexKey 租户索引键（按更新时间排序的有序集合）
func (kb keyBuilder) IndexKey(entityType, tenant string) string {
	return fmt.Sprintf("%sproj:%s:{%s}:index", kb.prefix, entityType, tenant)
}

// DedupKey 去重标记键
func (kb keyBuilder) DedupKey(tenant, streamID string, revision uint64) string {
	return fmt.Sprintf("%sdedup:%s:%s:%d", kb.prefix, tenant, streamID, revision)
}

// HintKey 版本提示键
func (kb keyBuilder) HintKey(tenant, entityType, entityID string) string {
	return fmt.Sprintf("%sver:%s:%s:%s", kb.prefix, tenant, entityType, entityID)
}

// hashTag 提取键中的集群哈希标签
//
// 返回第一对花括号内的非空内容；没有标签时返回空串。
func hashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return ""
	}
	return key[start+1 : start+1+end]
}

// validateLocality 校验两个键共享同一哈希标签
//
// 不匹配是硬错误：原子脚本跨 slot 操作会在集群上随机失败，
// 绝不能静默放过。
func validateLocality(entityKey, indexKey string) error {
	entityTag := hashTag(entityKey)
	indexTag := hashTag(indexKey)
	if entityTag == "" || entityTag != indexTag {
		return errors.Newf(errors.KindInfrastructure,
			"cluster locality violation: entity key %q and index key %q do not share a hash tag",
			entityKey, indexKey)
	}
	return nil
}
