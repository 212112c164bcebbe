package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
)

// Index 索引文件的落盘结构。索引只是权威文件的派生缓存，随时可以重建。
type Index[E any] struct {
	Version   int       `json:"version"`
	UpdatedAt string    `json:"updatedAt"`
	Entries   []E       `json:"entries"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// ScanFunc 全量扫描权威文件，返回全部索引条目与累积告警
type ScanFunc[E any] func(ctx context.Context) ([]E, []Warning, error)

// IndexConfig 索引描述
type IndexConfig[E any] struct {
	Path    string
	Version int
	// KeyOf 条目所属的资源 key，增量更新按 key 整体替换
	KeyOf func(E) string
	// FileOf key 对应的权威文件名，用于替换该文件名下的旧告警
	FileOf func(key string) string
	Scan   ScanFunc[E]
	// Check 条目结构校验，失败则视整个索引为损坏并重建
	Check      func(E) error
	Serializer *Serializer
	Logger     *slog.Logger
	Now        Clock
}

// IndexFile 管理一个索引文件的加载、全量重建与增量更新。
// 所有写操作都以索引路径为 key 经过 Serializer。
type IndexFile[E any] struct {
	cfg IndexConfig[E]
}

// NewIndexFile 创建索引管理器
func NewIndexFile[E any](cfg IndexConfig[E]) *IndexFile[E] {
	cfg.Logger = orDefault(cfg.Logger)
	cfg.Now = orNow(cfg.Now)
	if cfg.Serializer == nil {
		cfg.Serializer = NewSerializer()
	}
	return &IndexFile[E]{cfg: cfg}
}

// Path 索引文件路径
func (f *IndexFile[E]) Path() string {
	return f.cfg.Path
}

// Load 读取索引；文件缺失、结构无效或版本不符时透明地全量重建
func (f *IndexFile[E]) Load(ctx context.Context) (*Index[E], error) {
	idx, err := f.read()
	if err != nil {
		return nil, err
	}
	if idx != nil {
		return idx, nil
	}
	return f.Rebuild(ctx)
}

// Rebuild 全量扫描并重写索引
func (f *IndexFile[E]) Rebuild(ctx context.Context) (*Index[E], error) {
	var out *Index[E]
	err := f.cfg.Serializer.Do(f.cfg.Path, func() error {
		idx, err := f.rebuildLocked(ctx)
		out = idx
		return err
	})
	return out, err
}

// Update 用 key 的最新条目替换索引中该 key 的旧条目，其余条目不动。
// 现有索引缺失或不可读时退化为全量重建。
func (f *IndexFile[E]) Update(ctx context.Context, key string, entries []E, warnings []Warning) (*Index[E], error) {
	var out *Index[E]
	err := f.cfg.Serializer.Do(f.cfg.Path, func() error {
		idx, err := f.read()
		if err != nil || idx == nil {
			if err != nil {
				f.cfg.Logger.Warn("Index unreadable, rebuilding", "path", f.cfg.Path, "error", err)
			}
			out, err = f.rebuildLocked(ctx)
			return err
		}

		kept := make([]E, 0, len(idx.Entries)+len(entries))
		for _, e := range idx.Entries {
			if f.cfg.KeyOf(e) != key {
				kept = append(kept, e)
			}
		}
		kept = append(kept, entries...)
		f.sortEntries(kept)

		file := key
		if f.cfg.FileOf != nil {
			file = f.cfg.FileOf(key)
		}
		var keptWarnings []Warning
		for _, w := range idx.Warnings {
			if w.File != file {
				keptWarnings = append(keptWarnings, w)
			}
		}
		keptWarnings = append(keptWarnings, warnings...)

		next := &Index[E]{
			Version:   f.cfg.Version,
			UpdatedAt: FormatTime(f.cfg.Now()),
			Entries:   kept,
			Warnings:  keptWarnings,
		}
		if err := WriteJSON(f.cfg.Path, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (f *IndexFile[E]) rebuildLocked(ctx context.Context) (*Index[E], error) {
	entries, warnings, err := f.cfg.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuilding index %s: %w", f.cfg.Path, err)
	}
	if entries == nil {
		entries = []E{}
	}
	f.sortEntries(entries)

	idx := &Index[E]{
		Version:   f.cfg.Version,
		UpdatedAt: FormatTime(f.cfg.Now()),
		Entries:   entries,
		Warnings:  warnings,
	}
	if err := WriteJSON(f.cfg.Path, idx); err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		f.cfg.Logger.Warn("Index rebuilt with warnings", "path", f.cfg.Path, "entries", len(entries), "warnings", len(warnings))
	}
	return idx, nil
}

// sortEntries 按 key 稳定排序，保证同一组权威文件总是得到同样的索引
func (f *IndexFile[E]) sortEntries(entries []E) {
	sort.SliceStable(entries, func(i, j int) bool {
		return f.cfg.KeyOf(entries[i]) < f.cfg.KeyOf(entries[j])
	})
}

// read 返回 (nil, nil) 表示索引缺失或损坏，需要重建
func (f *IndexFile[E]) read() (*Index[E], error) {
	data, err := os.ReadFile(f.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index %s: %w", f.cfg.Path, err)
	}

	var idx Index[E]
	if err := json.Unmarshal(data, &idx); err != nil {
		f.cfg.Logger.Warn("Index is not valid JSON, rebuilding", "path", f.cfg.Path, "error", err)
		return nil, nil
	}
	if idx.Version != f.cfg.Version || idx.Entries == nil {
		f.cfg.Logger.Warn("Index has unexpected shape, rebuilding", "path", f.cfg.Path, "version", idx.Version)
		return nil, nil
	}
	if f.cfg.Check != nil {
		for i, e := range idx.Entries {
			if err := f.cfg.Check(e); err != nil {
				f.cfg.Logger.Warn("Index entry invalid, rebuilding", "path", f.cfg.Path, "index", i, "error", err)
				return nil, nil
			}
		}
	}
	return &idx, nil
}
