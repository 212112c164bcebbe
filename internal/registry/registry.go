package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

const (
	fileVersion  = 1
	indexVersion = 1
	fileName     = "programs.json"
)

// Options Registry 构造参数
type Options struct {
	ResearchDir string
	AutoIndex   bool
	Serializer  *store.Serializer
	Logger      *slog.Logger
	Now         store.Clock
}

// Registry 项目登记表
type Registry struct {
	path      string
	coll      *store.Collection[Program]
	index     *store.IndexFile[IndexEntry]
	writes    *store.Serializer
	autoIndex bool
	logger    *slog.Logger
}

type programsDocument struct {
	Version   int       `json:"version"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
	Programs  []Program `json:"programs"`
}

// New 创建登记表实例
func New(opts Options) *Registry {
	if opts.Serializer == nil {
		opts.Serializer = store.NewSerializer()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "program-registry")
	dir := filepath.Join(opts.ResearchDir, "programs")

	r := &Registry{
		path:      filepath.Join(dir, fileName),
		writes:    opts.Serializer,
		autoIndex: opts.AutoIndex,
		logger:    logger,
	}
	r.coll = store.NewCollection(store.CollectionConfig[Program]{
		Field:  "programs",
		Logger: logger,
		Now:    opts.Now,
	})
	r.index = store.NewIndexFile(store.IndexConfig[IndexEntry]{
		Path:       filepath.Join(dir, "program-index.json"),
		Version:    indexVersion,
		KeyOf:      func(e IndexEntry) string { return e.ID },
		FileOf:     func(string) string { return fileName },
		Scan:       r.scan,
		Check:      func(e IndexEntry) error { return store.ValidateStruct(e) },
		Serializer: opts.Serializer,
		Logger:     logger,
		Now:        opts.Now,
	})
	return r
}

// Path 项目文件路径
func (r *Registry) Path() string {
	return r.path
}

// List 全部项目（文件顺序）
func (r *Registry) List(ctx context.Context) ([]Program, error) {
	loaded, err := r.coll.Load(r.path)
	if err != nil {
		return nil, err
	}
	return loaded.Records, nil
}

// Get 按 id 查找，不存在返回 nil, nil
func (r *Registry) Get(ctx context.Context, id string) (*Program, error) {
	programs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range programs {
		if p.ID == id {
			prog := p
			return &prog, nil
		}
	}
	return nil, nil
}

// mutate 在写锁内读出 id 对应的项目交给 fn；fn 返回 nil 表示删除。
// 返回写入后的项目与 id 原先是否存在。
func (r *Registry) mutate(ctx context.Context, id string, fn func(cur *Program) (*Program, error)) (*Program, bool, error) {
	var (
		out     *Program
		existed bool
	)
	err := r.writes.Do(r.path, func() error {
		loaded, err := r.coll.Load(r.path)
		if err != nil {
			return err
		}
		programs := loaded.Records
		pos := slices.IndexFunc(programs, func(p Program) bool { return p.ID == id })

		var cur *Program
		if pos >= 0 {
			existed = true
			c := programs[pos]
			cur = &c
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil && cur == nil {
			return nil
		}

		now := r.coll.Now()
		switch {
		case next == nil:
			programs = slices.Delete(programs, pos, pos+1)
		default:
			next.ID = id
			next.UpdatedAt = now
			if cur != nil {
				next.CreatedAt = cur.CreatedAt
			} else {
				next.CreatedAt = now
			}
			if next.Sessions == nil {
				next.Sessions = []string{}
			}
			if err := store.ValidateStruct(*next); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
			}
			if pos >= 0 {
				programs[pos] = *next
			} else {
				programs = append(programs, *next)
			}
		}

		if err := r.persistLocked(ctx, id, programs, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, existed, err
}

func (r *Registry) persistLocked(ctx context.Context, id string, programs []Program, changed *Program) error {
	if programs == nil {
		programs = []Program{}
	}
	_, err := r.coll.Save(r.path, func(m store.Meta) any {
		return programsDocument{
			Version:   fileVersion,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
			Programs:  programs,
		}
	})
	if err != nil {
		return err
	}
	if !r.autoIndex {
		return nil
	}
	var entries []IndexEntry
	if changed != nil {
		entries = []IndexEntry{project(*changed)}
	}
	// 重写后的文件已不含无效记录，该文件名下的旧告警一并清除
	if _, err := r.index.Update(ctx, id, entries, nil); err != nil {
		return fmt.Errorf("updating program index: %w", err)
	}
	return nil
}

// Upsert 按 id 整条写入。已存在时保留 createdAt，updatedAt 总是刷新；状态缺省为 active。
func (r *Registry) Upsert(ctx context.Context, p Program) (Program, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return Program{}, fmt.Errorf("%w: id is required", ErrInvalidProgram)
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	out, _, err := r.mutate(ctx, id, func(*Program) (*Program, error) {
		next := p
		next.Sessions = slices.Clone(p.Sessions)
		return &next, nil
	})
	if err != nil {
		return Program{}, err
	}
	return *out, nil
}

// Delete 删除项目；id 不存在返回 false
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	_, existed, err := r.mutate(ctx, id, func(*Program) (*Program, error) {
		return nil, nil
	})
	return existed && err == nil, err
}

// update 对已存在的项目做修改，不存在返回 ErrNotFound
func (r *Registry) update(ctx context.Context, id string, fn func(p *Program)) (Program, error) {
	out, _, err := r.mutate(ctx, id, func(cur *Program) (*Program, error) {
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		fn(cur)
		return cur, nil
	})
	if err != nil {
		return Program{}, err
	}
	return *out, nil
}

// AddSession 把会话追加到项目末尾，已存在时不重复添加
func (r *Registry) AddSession(ctx context.Context, programID, sessionID string) (Program, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Program{}, fmt.Errorf("%w: session id is required", ErrInvalidProgram)
	}
	return r.update(ctx, programID, func(p *Program) {
		if !p.HasSession(sessionID) {
			p.Sessions = append(p.Sessions, sessionID)
		}
	})
}

// RemoveSession 从项目中移除会话的所有出现
func (r *Registry) RemoveSession(ctx context.Context, programID, sessionID string) (Program, error) {
	return r.update(ctx, programID, func(p *Program) {
		p.Sessions = slices.DeleteFunc(p.Sessions, func(s string) bool { return s == sessionID })
	})
}

// SetStatus 修改项目状态
func (r *Registry) SetStatus(ctx context.Context, programID string, status Status) (Program, error) {
	if !status.Valid() {
		return Program{}, fmt.Errorf("%w: unknown status %q", ErrInvalidProgram, status)
	}
	return r.update(ctx, programID, func(p *Program) {
		p.Status = status
	})
}

// HasSession 项目是否包含会话；项目不存在时返回 false
func (r *Registry) HasSession(ctx context.Context, programID, sessionID string) (bool, error) {
	p, err := r.Get(ctx, programID)
	if err != nil || p == nil {
		return false, err
	}
	return p.HasSession(sessionID), nil
}

// collect 用索引挑出候选 id，再以项目文件中的记录确认
func (r *Registry) collect(ctx context.Context, indexMatch func(IndexEntry) bool, confirm func(Program) bool) ([]Program, error) {
	idx, err := r.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make(map[string]bool)
	for _, e := range idx.Entries {
		if indexMatch(e) {
			candidates[e.ID] = true
		}
	}
	if len(candidates) == 0 {
		return []Program{}, nil
	}

	programs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Program, 0, len(candidates))
	for _, p := range programs {
		if candidates[p.ID] && confirm(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListByStatus 指定状态的项目
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]Program, error) {
	return r.collect(ctx,
		func(e IndexEntry) bool { return e.Status == status },
		func(p Program) bool { return p.Status == status })
}

// ProgramsForSession 包含指定会话的项目
func (r *Registry) ProgramsForSession(ctx context.Context, sessionID string) ([]Program, error) {
	return r.collect(ctx,
		func(e IndexEntry) bool { return slices.Contains(e.Sessions, sessionID) },
		func(p Program) bool { return p.HasSession(sessionID) })
}

// Stats 基于索引的统计：按状态计数、会话槽位总数与平均每个项目的会话数
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[Status]int, 4)}
	for _, s := range Statuses() {
		st.ByStatus[s] = 0
	}
	idx, err := r.index.Load(ctx)
	if err != nil {
		return st, err
	}
	for _, e := range idx.Entries {
		st.Total++
		st.ByStatus[e.Status]++
		st.TotalSessions += e.SessionCount
	}
	if st.Total > 0 {
		st.AvgSessionsPerProgram = float64(st.TotalSessions) / float64(st.Total)
	}
	return st, nil
}

// LoadIndex 读取索引，缺失或损坏时透明重建
func (r *Registry) LoadIndex(ctx context.Context) (*store.Index[IndexEntry], error) {
	return r.index.Load(ctx)
}

// RebuildIndex 从项目文件全量重建索引
func (r *Registry) RebuildIndex(ctx context.Context) (*store.Index[IndexEntry], error) {
	return r.index.Rebuild(ctx)
}

func (r *Registry) scan(ctx context.Context) ([]IndexEntry, []store.Warning, error) {
	loaded, err := r.coll.Load(r.path)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]IndexEntry, 0, len(loaded.Records))
	for _, p := range loaded.Records {
		entries = append(entries, project(p))
	}
	return entries, loaded.Warnings, nil
}
