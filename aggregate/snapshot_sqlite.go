package aggregate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite 打开 SQLite 快照库
//
// 使用 modernc.org/sqlite 纯 Go 驱动，无 CGO 依赖。
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// SQLiteSnapshotRepository SQLite 快照仓储
//
// 每个 snapshot_id 只保留一条最新快照，状态序列化为 JSON。
// 快照只是重建的性能优化层，事件日志仍是唯一事实来源。
type SQLiteSnapshotRepository[S any] struct {
	db        *sql.DB
	tableName string
}

// NewSQLiteSnapshotRepository 创建 SQLite 快照仓储
//
// tableName 为空时默认使用 "aggregate_snapshots"。
func NewSQLiteSnapshotRepository[S any](db *sql.DB, tableName string) *SQLiteSnapshotRepository[S] {
	if tableName == "" {
		tableName = "aggregate_snapshots"
	}
	return &SQLiteSnapshotRepository[S]{db: db, tableName: tableName}
}

// EnsureTable 建表（幂等）
func (r *SQLiteSnapshotRepository[S]) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	snapshot_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	version INTEGER NOT NULL,
	stream_revision INTEGER NOT NULL,
	taken_at DATETIME NOT NULL
)`, r.tableName)
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// LoadLatest 加载最新快照
func (r *SQLiteSnapshotRepository[S]) LoadLatest(ctx context.Context, snapshotID string) (*Snapshot[S], bool, error) {
	q := fmt.Sprintf(`SELECT state, version, stream_revision, taken_at FROM %s WHERE snapshot_id = ?`, r.tableName)
	row := r.db.QueryRowContext(ctx, q, snapshotID)

	var stateJSON string
	var snap Snapshot[S]
	var takenAt time.Time
	if err := row.Scan(&stateJSON, &snap.Version, &snap.StreamRevision, &takenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	snap.TakenAt = takenAt

	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return nil, false, fmt.Errorf("decode snapshot state: %w", err)
	}

	// SQL 实现没有进程内缓存层
	return &snap, false, nil
}

// Save 保存快照（UPSERT 语义，幂等）
func (r *SQLiteSnapshotRepository[S]) Save(ctx context.Context, snapshotID string, snapshot Snapshot[S]) error {
	stateJSON, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}

	ts := snapshot.TakenAt
	if ts.IsZero() {
		ts = time.Now()
	}

	q := fmt.Sprintf(`
INSERT INTO %s (snapshot_id, state, version, stream_revision, taken_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(snapshot_id) DO UPDATE SET
	state=excluded.state,
	version=excluded.version,
	stream_revision=excluded.stream_revision,
	taken_at=excluded.taken_at`, r.tableName)
	if _, err := r.db.ExecContext(ctx, q, snapshotID, string(stateJSON), snapshot.Version, snapshot.StreamRevision, ts); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Ensure interface compliance
var _ ISnapshotRepository[any] = (*SQLiteSnapshotRepository[any])(nil)
