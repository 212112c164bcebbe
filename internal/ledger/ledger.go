package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
	"github.com/nikolaef43/brenner-bot-sub002/pkg/utils"
)

const (
	indexVersion = 1
	fileSuffix   = "-interventions.json"
)

// Options Ledger 构造参数。ResearchDir 为 .research 目录的绝对或相对路径。
type Options struct {
	ResearchDir string
	// AutoIndex 每次写入后在释放写锁之前增量刷新索引
	AutoIndex  bool
	Serializer *store.Serializer
	Logger     *slog.Logger
	Now        store.Clock
}

// Ledger 干预审计账本
type Ledger struct {
	dir       string
	coll      *store.Collection[Intervention]
	index     *store.IndexFile[IndexEntry]
	writes    *store.Serializer
	autoIndex bool
	logger    *slog.Logger
}

type sessionDocument struct {
	SessionID     string         `json:"sessionId"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
	Interventions []Intervention `json:"interventions"`
}

// New 创建账本实例；目录在第一次写入时创建
func New(opts Options) *Ledger {
	if opts.Serializer == nil {
		opts.Serializer = store.NewSerializer()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "intervention-ledger")

	l := &Ledger{
		dir:       filepath.Join(opts.ResearchDir, "interventions"),
		writes:    opts.Serializer,
		autoIndex: opts.AutoIndex,
		logger:    logger,
	}
	l.coll = store.NewCollection(store.CollectionConfig[Intervention]{
		Field:  "interventions",
		Check:  checkIntervention,
		Logger: logger,
		Now:    opts.Now,
	})
	l.index = store.NewIndexFile(store.IndexConfig[IndexEntry]{
		Path:       filepath.Join(opts.ResearchDir, "intervention-index.json"),
		Version:    indexVersion,
		KeyOf:      func(e IndexEntry) string { return e.File },
		Scan:       l.scan,
		Check:      func(e IndexEntry) error { return store.ValidateStruct(e) },
		Serializer: opts.Serializer,
		Logger:     logger,
		Now:        opts.Now,
	})
	return l
}

// SessionFileName 会话文件名（session id 经过清洗）
func SessionFileName(sessionID string) string {
	return utils.SanitizeFileComponent(sessionID) + fileSuffix
}

func (l *Ledger) sessionPath(sessionID string) string {
	return filepath.Join(l.dir, SessionFileName(sessionID))
}

// loadSession 读取会话文件；只保留 session_id 与请求一致的记录
func (l *Ledger) loadSession(sessionID string) (store.Loaded[Intervention], error) {
	loaded, err := l.coll.Load(l.sessionPath(sessionID))
	if err != nil {
		return loaded, err
	}
	kept := loaded.Records[:0]
	for _, r := range loaded.Records {
		if r.SessionID != sessionID {
			l.logger.Warn("Intervention stored under a different session file, ignoring",
				"id", r.ID, "session", sessionID)
			continue
		}
		kept = append(kept, r)
	}
	loaded.Records = kept
	return loaded, nil
}

// persistLocked 整文件写回会话，并在需要时增量刷新索引。调用方必须持有会话写锁。
func (l *Ledger) persistLocked(ctx context.Context, sessionID string, records []Intervention) error {
	if records == nil {
		records = []Intervention{}
	}
	path := l.sessionPath(sessionID)
	_, err := l.coll.Save(path, func(m store.Meta) any {
		return sessionDocument{
			SessionID:     sessionID,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
			Interventions: records,
		}
	})
	if err != nil {
		return err
	}
	if !l.autoIndex {
		return nil
	}

	file := SessionFileName(sessionID)
	entries := make([]IndexEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, project(file, r))
	}
	if _, err := l.index.Update(ctx, file, entries, nil); err != nil {
		return fmt.Errorf("updating intervention index: %w", err)
	}
	return nil
}

// Record 新建一条干预：在会话写锁内分配序号，保证并发调用不会拿到同一个 id
func (l *Ledger) Record(ctx context.Context, d Draft) (Intervention, error) {
	var out Intervention
	sessionID := strings.TrimSpace(d.SessionID)
	if sessionID == "" {
		return out, fmt.Errorf("%w: session_id is required", ErrInvalidRecord)
	}

	err := l.writes.Do(l.sessionPath(sessionID), func() error {
		loaded, err := l.loadSession(sessionID)
		if err != nil {
			return err
		}

		rec := Intervention{
			ID:         FormatID(sessionID, nextSeq(loaded.Records)),
			SessionID:  sessionID,
			Timestamp:  d.Timestamp,
			OperatorID: d.OperatorID,
			Type:       d.Type,
			Severity:   d.Severity,
			Target:     d.Target,
			Rationale:  d.Rationale,
			Reversible: d.Reversible,
			Tags:       d.Tags,
		}
		if rec.Timestamp == "" {
			rec.Timestamp = l.coll.Now()
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}

		if err := l.persistLocked(ctx, sessionID, append(loaded.Records, rec)); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Save 按 id 整条替换（不存在则追加）
func (l *Ledger) Save(ctx context.Context, in Intervention) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return l.writes.Do(l.sessionPath(in.SessionID), func() error {
		loaded, err := l.loadSession(in.SessionID)
		if err != nil {
			return err
		}
		records := loaded.Records
		replaced := false
		for i := range records {
			if records[i].ID == in.ID {
				records[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			records = append(records, in)
		}
		return l.persistLocked(ctx, in.SessionID, records)
	})
}

// Get 按 id 查找；id 中的 session 段决定读取哪个文件。不存在返回 nil, nil。
func (l *Ledger) Get(ctx context.Context, id string) (*Intervention, error) {
	sessionID, _, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	loaded, err := l.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	for _, r := range loaded.Records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

// Delete 硬删除一条干预并全量重建索引。id 不存在时返回 false。
func (l *Ledger) Delete(ctx context.Context, id string) (bool, error) {
	sessionID, _, err := ParseID(id)
	if err != nil {
		return false, err
	}

	deleted := false
	err = l.writes.Do(l.sessionPath(sessionID), func() error {
		loaded, err := l.loadSession(sessionID)
		if err != nil {
			return err
		}
		kept := make([]Intervention, 0, len(loaded.Records))
		for _, r := range loaded.Records {
			if r.ID == id {
				deleted = true
				continue
			}
			kept = append(kept, r)
		}
		if !deleted {
			return nil
		}

		path := l.sessionPath(sessionID)
		if _, err := l.coll.Save(path, func(m store.Meta) any {
			return sessionDocument{SessionID: sessionID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, Interventions: kept}
		}); err != nil {
			return err
		}
		if _, err := l.index.Rebuild(ctx); err != nil {
			return fmt.Errorf("rebuilding intervention index: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Reverse 撤销一条可撤销的干预，记录撤销时间与操作者
func (l *Ledger) Reverse(ctx context.Context, id, operatorID string) (Intervention, error) {
	var out Intervention
	sessionID, _, err := ParseID(id)
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(operatorID) == "" {
		return out, fmt.Errorf("%w: reversed_by is required", ErrInvalidRecord)
	}

	err = l.writes.Do(l.sessionPath(sessionID), func() error {
		loaded, err := l.loadSession(sessionID)
		if err != nil {
			return err
		}
		for i := range loaded.Records {
			rec := &loaded.Records[i]
			if rec.ID != id {
				continue
			}
			if !rec.Reversible {
				return fmt.Errorf("%w: %s", ErrNotReversible, id)
			}
			if rec.Reversed() {
				return fmt.Errorf("%w: %s at %s", ErrAlreadyReversed, id, rec.ReversedAt)
			}
			rec.ReversedAt = l.coll.Now()
			rec.ReversedBy = operatorID
			if err := l.persistLocked(ctx, sessionID, loaded.Records); err != nil {
				return err
			}
			out = *rec
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	return out, err
}

// ListForSession 会话内全部干预（文件顺序）
func (l *Ledger) ListForSession(ctx context.Context, sessionID string) ([]Intervention, error) {
	loaded, err := l.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	return loaded.Records, nil
}

// LoadIndex 读取索引，缺失或损坏时透明重建
func (l *Ledger) LoadIndex(ctx context.Context) (*store.Index[IndexEntry], error) {
	return l.index.Load(ctx)
}

// RebuildIndex 全量扫描会话文件重建索引
func (l *Ledger) RebuildIndex(ctx context.Context) (*store.Index[IndexEntry], error) {
	return l.index.Rebuild(ctx)
}

func (l *Ledger) scan(ctx context.Context) ([]IndexEntry, []store.Warning, error) {
	files, warnings, err := store.ScanDir(ctx, l.coll, l.dir, fileSuffix)
	if err != nil {
		return nil, nil, err
	}
	var entries []IndexEntry
	for _, f := range files {
		for _, r := range f.Loaded.Records {
			entries = append(entries, project(f.File, r))
		}
	}
	return entries, warnings, nil
}
