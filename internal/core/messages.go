package core

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tsLayout 定宽时间格式，保证 created_at 按字典序即按时间序
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// StoreMessages 写入（或按 id 覆盖）一批消息，返回各条消息的 id。
// 缺少 id 的消息分配 UUID，缺少时间的取当前时间。
func (a *MessageArchive) StoreMessages(ctx context.Context, msgs []Message) ([]string, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO messages
		(id, thread_id, subject, sender, recipients, body, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(msgs))
	for i, m := range msgs {
		if strings.TrimSpace(m.ThreadID) == "" {
			return nil, fmt.Errorf("message %d: thread_id is required", i)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		to := m.To
		if to == nil {
			to = []string{}
		}
		recipients, err := json.Marshal(to)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.ThreadID, m.Subject, m.From, string(recipients), m.Body, m.Importance,
			m.CreatedAt.UTC().Format(tsLayout),
		); err != nil {
			return nil, fmt.Errorf("storing message %s: %w", m.ID, err)
		}
		ids = append(ids, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ThreadMessages 线程内全部消息，按时间升序
func (a *MessageArchive) ThreadMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, thread_id, subject, sender, recipients, body, importance, created_at
		FROM messages WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                   Message
			subject, importance sql.NullString
			sender, recipients  sql.NullString
			body                sql.NullString
			created             string
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &subject, &sender, &recipients, &body, &importance, &created); err != nil {
			return nil, err
		}
		m.Subject = subject.String
		m.From = sender.String
		m.Body = body.String
		m.Importance = importance.String
		if recipients.Valid && recipients.String != "" {
			if err := json.Unmarshal([]byte(recipients.String), &m.To); err != nil {
				a.logger.Warn("Unreadable recipient list", "id", m.ID, "error", err)
			}
		}
		if ts, err := time.Parse(tsLayout, created); err == nil {
			m.CreatedAt = ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Threads 所有线程概况，最近活跃的在前
func (a *MessageArchive) Threads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*), MAX(created_at)
		FROM messages GROUP BY thread_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThreadInfo
	for rows.Next() {
		var (
			t    ThreadInfo
			last string
		)
		if err := rows.Scan(&t.ThreadID, &t.Messages, &last); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(tsLayout, last); err == nil {
			t.LastAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ImportResult JSONL 导入结果
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportJSONL 重放 Agent Mail 导出的逐行 JSON。空行忽略，无法解析或缺少 thread_id 的行计入 Skipped。
func (a *MessageArchive) ImportJSONL(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var batch []Message
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil || strings.TrimSpace(m.ThreadID) == "" {
			a.logger.Warn("Skipping malformed export line", "line", lineNo, "error", err)
			res.Skipped++
			continue
		}
		batch = append(batch, m)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading export: %w", err)
	}

	if len(batch) == 0 {
		return res, nil
	}
	ids, err := a.StoreMessages(ctx, batch)
	if err != nil {
		return res, err
	}
	res.Imported = len(ids)
	return res, nil
}
