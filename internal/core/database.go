package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MessageArchive Agent Mail 消息的本地 SQLite 镜像。
// 每个路径由调用方显式打开一次，不做进程级缓存。
type MessageArchive struct {
	dbPath string
	db     *sql.DB
	logger *slog.Logger
}

// OpenArchive 打开（必要时创建）指定路径的消息归档
func OpenArchive(dbPath string, logger *slog.Logger) (*MessageArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &MessageArchive{
		dbPath: dbPath,
		logger: logger.With("component", "message-archive"),
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MessageArchive) init() error {
	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", a.dbPath)
	if err != nil {
		return err
	}

	// WAL 模式，读写互不阻塞
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}
	a.db = db

	if err := a.healSchema(); err != nil {
		db.Close()
		return fmt.Errorf("preparing archive schema: %w", err)
	}
	return nil
}

func (a *MessageArchive) healSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			subject TEXT,
			sender TEXT,
			recipients TEXT,
			body TEXT,
			created_at TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at)",
	}
	for _, s := range schemas {
		if _, err := a.db.Exec(s); err != nil {
			return err
		}
	}

	// 增量迁移（列已存在时报错，忽略）
	migrations := []string{
		"ALTER TABLE messages ADD COLUMN importance TEXT DEFAULT ''",
	}
	for _, mig := range migrations {
		if _, err := a.db.Exec(mig); err != nil {
			a.logger.Debug("Migration skipped", "statement", mig, "error", err)
		}
	}
	return nil
}

// Path 数据库文件路径
func (a *MessageArchive) Path() string {
	return a.dbPath
}

// Ping 检查连接
func (a *MessageArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close 关闭连接
func (a *MessageArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
