package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// CollectionConfig 集合的结构描述
type CollectionConfig[T any] struct {
	// Field 信封中承载记录数组的字段名，如 "interventions"
	Field string
	// Check 在标签校验之后执行的附加校验，可为空
	Check  func(T) error
	Logger *slog.Logger
	Now    Clock
}

// Collection 以单个 JSON 文件保存一组记录，整文件读写
type Collection[T any] struct {
	field  string
	check  func(T) error
	logger *slog.Logger
	now    Clock
}

// Loaded 一次读取的结果
type Loaded[T any] struct {
	Records  []T
	Meta     Meta
	Exists   bool
	Corrupt  bool
	Warnings []Warning
}

// NewCollection 创建集合编解码器
func NewCollection[T any](cfg CollectionConfig[T]) *Collection[T] {
	return &Collection[T]{
		field:  cfg.Field,
		check:  cfg.Check,
		logger: orDefault(cfg.Logger),
		now:    orNow(cfg.Now),
	}
}

// Now 当前时间（经注入的时钟）
func (c *Collection[T]) Now() string {
	return FormatTime(c.now())
}

// Load 读取集合文件。
// 文件不存在返回空结果；无法解析或顶层结构不对时返回空结果并带告警；
// 单条记录解码或校验失败时跳过该条并累积告警。只有基础设施错误才返回 error。
func (c *Collection[T]) Load(path string) (Loaded[T], error) {
	var res Loaded[T]
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("reading %s: %w", path, err)
	}
	res.Exists = true
	name := filepath.Base(path)

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		res.Corrupt = true
		res.Warnings = append(res.Warnings, Warning{File: name, Message: "file is not a valid JSON object"})
		c.logger.Warn("Corrupt collection file, treating as empty", "file", path, "error", err)
		return res, nil
	}

	_ = json.Unmarshal(top["createdAt"], &res.Meta.CreatedAt)
	_ = json.Unmarshal(top["updatedAt"], &res.Meta.UpdatedAt)

	var items []json.RawMessage
	raw, ok := top[c.field]
	if !ok || isNullJSON(raw) || json.Unmarshal(raw, &items) != nil {
		res.Corrupt = true
		res.Warnings = append(res.Warnings, Warning{File: name, Message: fmt.Sprintf("missing or invalid %q array", c.field)})
		c.logger.Warn("Collection file has unexpected shape, treating as empty", "file", path, "field", c.field)
		return res, nil
	}

	res.Records = make([]T, 0, len(items))
	for i, item := range items {
		rec, err := c.decodeRecord(item)
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{File: name, Message: fmt.Sprintf("%s[%d]: %v", c.field, i, err)})
			c.logger.Warn("Skipping invalid record", "file", path, "index", i, "error", err)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (c *Collection[T]) decodeRecord(raw json.RawMessage) (T, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	if err := ValidateStruct(rec); err != nil {
		return rec, err
	}
	if c.check != nil {
		if err := c.check(rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Save 整文件重写集合。先读出已有的 createdAt 以便保留（新文件取当前时间），updatedAt 取当前时间。
// build 根据信封时间戳构造要落盘的文档。
func (c *Collection[T]) Save(path string, build func(Meta) any) (Meta, error) {
	now := c.Now()
	meta := Meta{CreatedAt: now, UpdatedAt: now}

	prev, err := readCreatedAt(path)
	if err != nil {
		return meta, err
	}
	if prev != "" {
		meta.CreatedAt = prev
	}

	if err := WriteJSON(path, build(meta)); err != nil {
		return meta, err
	}
	return meta, nil
}

// WriteJSON 缩进编码并原子替换目标文件，必要时创建父目录
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readCreatedAt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	var head struct {
		CreatedAt string `json:"createdAt"`
	}
	if json.Unmarshal(data, &head) != nil {
		return "", nil
	}
	return head.CreatedAt, nil
}

func isNullJSON(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
