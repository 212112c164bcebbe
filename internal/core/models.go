// Package core 对接消息传输层 (Agent Mail)：本地消息归档、线程 delta 提取与项目根目录探测。
package core

import (
	"context"
	"time"
)

// Message Agent Mail 消息在本地归档中的形态。字段名与 Agent Mail 导出的 JSONL 一致。
type Message struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Subject    string    `json:"subject,omitempty"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Body       string    `json:"body_md"`
	Importance string    `json:"importance,omitempty"`
	CreatedAt  time.Time `json:"created_ts"`
}

// ThreadInfo 线程概况
type ThreadInfo struct {
	ThreadID string    `json:"thread_id"`
	Messages int       `json:"messages"`
	LastAt   time.Time `json:"last_at"`
}

// MessageSource 消息传输层的读取接口，只用来获取交给围栏扫描器的正文
type MessageSource interface {
	ThreadMessages(ctx context.Context, threadID string) ([]Message, error)
}
