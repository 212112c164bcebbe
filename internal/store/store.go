// Package store 提供基于 JSON 文件的通用持久化机制：集合读写 (Collection)、
// 可重建的派生索引 (IndexFile) 以及按 key 串行化写操作的 Serializer。
//
// 读路径从不因数据损坏而失败：文件不存在视为空集合，内容无法解析视为空集合并记录告警，
// 单条记录校验失败只跳过该条。只有权限、路径类型等基础设施错误才会返回给调用方。
// 这里假设每个存储根目录只有一个写进程，多进程共享同一根目录不做协调。
package store

import (
	"log/slog"
	"time"
)

// TimeLayout 所有落盘时间戳使用的 ISO-8601 格式（UTC，毫秒精度）
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Clock 可注入的时间源，测试中替换为固定时间
type Clock func() time.Time

// Warning 加载或重建过程中累积的非致命问题
type Warning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Meta 集合文件的信封时间戳
type Meta struct {
	CreatedAt string
	UpdatedAt string
}

// FormatTime 按 TimeLayout 输出 UTC 时间
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime 解析 RFC3339 时间戳（允许小数秒）
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
