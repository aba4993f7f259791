package eventlog

import (
	"context"
	"strings"
	"sync"
)

// MemoryEventLog 内存事件日志（测试与本地开发用）
//
// 不持久化，进程重启后数据丢失。
// 单调 commit 序号由追加顺序产生，prepare 与 commit 相同。
type MemoryEventLog struct {
	mu      sync.RWMutex
	streams map[string][]ResolvedEvent // 流内事件（按 Revision 升序）
	all     []ResolvedEvent            // 全局日志（按 Position 升序）
	commit  uint64

	// notify 在每次追加后关闭并重建，唤醒所有等待中的订阅
	notify chan struct{}
}

// NewMemoryEventLog 创建内存事件日志
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		streams: make(map[string][]ResolvedEvent),
		notify:  make(chan struct{}),
	}
}

// Append 追加事件到指定流
func (l *MemoryEventLog) Append(ctx context.Context, streamID string, events []EventEnvelope, expected ExpectedRevision) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.streams[streamID]
	exists := len(existing) > 0
	var lastRevision uint64
	if exists {
		lastRevision = existing[len(existing)-1].Revision
	}

	if !expected.Matches(exists, lastRevision) {
		return 0, ErrRevisionConflict
	}

	nextRevision := uint64(0)
	if exists {
		nextRevision = lastRevision + 1
	}

	for _, env := range events {
		l.commit++
		resolved := ResolvedEvent{
			StreamID: streamID,
			Revision: nextRevision,
			Envelope: env,
			Position: StreamPosition{Commit: l.commit, Prepare: l.commit},
		}
		l.streams[streamID] = append(l.streams[streamID], resolved)
		l.all = append(l.all, resolved)
		nextRevision++
	}

	// 唤醒等待中的订阅
	close(l.notify)
	l.notify = make(chan struct{})

	return nextRevision - 1, nil
}

// ReadStream 读取单个流
func (l *MemoryEventLog) ReadStream(ctx context.Context, streamID string, fromRevision uint64, direction Direction, limit int) ([]ResolvedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[streamID]
	var result []ResolvedEvent

	switch direction {
	case Forward:
		for _, ev := range stream {
			if ev.Revision < fromRevision {
				continue
			}
			result = append(result, ev)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	case Backward:
		for i := len(stream) - 1; i >= 0; i-- {
			if stream[i].Revision > fromRevision {
				continue
			}
			result = append(result, stream[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}

	return result, nil
}

// LastRevision 返回流的最后序号（监控/测试辅助）
//
// 返回：
//   - uint64: 最后序号
//   - bool: 流是否存在
func (l *MemoryEventLog) LastRevision(streamID string) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[streamID]
	if len(stream) == 0 {
		return 0, false
	}
	return stream[len(stream)-1].Revision, true
}

// SubscribeAll 从指定位置订阅全局日志
func (l *MemoryEventLog) SubscribeAll(ctx context.Context, from *StreamPosition, streamPrefix string) (ISubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var start StreamPosition
	if from != nil {
		start = *from
	}

	return &memorySubscription{
		log:    l,
		after:  start,
		prefix: streamPrefix,
	}, nil
}

// memorySubscription 内存日志的全局订阅游标
type memorySubscription struct {
	log    *MemoryEventLog
	after  StreamPosition // 已消费到的位置（不包含）
	prefix string
	closed bool
	mu     sync.Mutex
}

// Next 阻塞等待下一个事件
func (s *memorySubscription) Next(ctx context.Context) (*ResolvedEvent, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.log.mu.RLock()
		var found *ResolvedEvent
		for i := range s.log.all {
			ev := s.log.all[i]
			if ev.Position.Compare(s.after) <= 0 {
				continue
			}
			if s.prefix != "" && !strings.HasPrefix(ev.StreamID, s.prefix) {
				// 过滤掉的事件也要推进游标，否则会反复扫描
				s.after = ev.Position
				continue
			}
			found = &ev
			break
		}
		notify := s.log.notify
		s.log.mu.RUnlock()

		if found != nil {
			s.mu.Lock()
			s.after = found.Position
			s.mu.Unlock()
			return found, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close 关闭订阅
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure interface compliance
var (
	_ IEventLogClient = (*MemoryEventLog)(nil)
	_ ISubscription   = (*memorySubscription)(nil)
)
