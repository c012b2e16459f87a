package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"quantpilot/internal/backtest"
)

// Store 把任务快照落到 SQLite，进程重启后还能查历史任务。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewStore 初始化 SQLite 存储。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("task store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureTaskSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureTaskSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			symbol TEXT,
			user_intent TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			failures_json TEXT,
			result_json TEXT,
			error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_tasks_created_at ON backtest_tasks(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化任务表失败: %w", err)
		}
	}
	return nil
}

// Save 插入或整体覆盖一条任务快照。
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return nil
	}
	var failuresJSON, resultJSON []byte
	if len(snap.Failures) > 0 {
		failuresJSON, _ = json.Marshal(snap.Failures)
	}
	if snap.Result != nil {
		resultJSON, _ = json.Marshal(snap.Result)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_tasks (id, status, symbol, user_intent, attempts, failures_json, result_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			failures_json = excluded.failures_json,
			result_json = excluded.result_json,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		snap.ID, string(snap.Status), snap.Symbol, snap.UserIntent, snap.Attempts,
		nullableText(failuresJSON), nullableText(resultJSON), snap.Error,
		snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("保存任务 %s 失败: %w", snap.ID, err)
	}
	return nil
}

// Load 按 id 取一条快照，不存在返回 sql.ErrNoRows。
func (s *Store) Load(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, symbol, user_intent, attempts, failures_json, result_json, error, created_at, updated_at
		FROM backtest_tasks WHERE id = ?`, id)
	return scanSnapshot(row)
}

// Recent 最近的任务，按创建时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, symbol, user_intent, attempts, failures_json, result_json, error, created_at, updated_at
		FROM backtest_tasks ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var snap Snapshot
	var status string
	var failuresJSON, resultJSON, errText sql.NullString
	err := row.Scan(&snap.ID, &status, &snap.Symbol, &snap.UserIntent, &snap.Attempts,
		&failuresJSON, &resultJSON, &errText, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Status = Status(status)
	snap.Error = errText.String
	if failuresJSON.Valid && failuresJSON.String != "" {
		_ = json.Unmarshal([]byte(failuresJSON.String), &snap.Failures)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res backtest.Result
		if json.Unmarshal([]byte(resultJSON.String), &res) == nil {
			snap.Result = &res
		}
	}
	return snap, nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
