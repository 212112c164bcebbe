package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

// SessionSummary 单个会话的干预汇总
type SessionSummary struct {
	SessionID             string                   `json:"session_id"`
	Total                 int                      `json:"total"`
	BySeverity            map[Severity]int         `json:"by_severity"`
	ByType                map[InterventionType]int `json:"by_type"`
	Reversed              int                      `json:"reversed"`
	HasMajorInterventions bool                     `json:"has_major_interventions"`
	FirstAt               string                   `json:"first_at,omitempty"`
	LastAt                string                   `json:"last_at,omitempty"`
}

// Stats 全局统计
type Stats struct {
	Total      int                      `json:"total"`
	BySeverity map[Severity]int         `json:"by_severity"`
	ByType     map[InterventionType]int `json:"by_type"`
	Reversed   int                      `json:"reversed"`
	Operators  int                      `json:"operators"`
	Sessions   int                      `json:"sessions"`
	Warnings   []store.Warning          `json:"warnings,omitempty"`
}

func emptySeverityCounts() map[Severity]int {
	m := make(map[Severity]int, 4)
	for _, s := range Severities() {
		m[s] = 0
	}
	return m
}

func emptyTypeCounts() map[InterventionType]int {
	m := make(map[InterventionType]int, 6)
	for _, t := range Types() {
		m[t] = 0
	}
	return m
}

// collect 用索引剪枝出候选会话，再逐个回读会话文件，以同一个谓词重新过滤
func (l *Ledger) collect(ctx context.Context, match func(IndexEntry) bool) ([]Intervention, error) {
	idx, err := l.index.Load(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var sessions []string
	for _, e := range idx.Entries {
		if match(e) && !seen[e.SessionID] {
			seen[e.SessionID] = true
			sessions = append(sessions, e.SessionID)
		}
	}
	sort.Strings(sessions)

	var out []Intervention
	for _, sid := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := l.loadSession(sid)
		if err != nil {
			return nil, err
		}
		file := SessionFileName(sid)
		for _, r := range loaded.Records {
			if match(project(file, r)) {
				out = append(out, r)
			}
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// sortByTimestamp 按时间升序，时间相同按 id
func sortByTimestamp(records []Intervention) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, ei := store.ParseTime(records[i].Timestamp)
		tj, ej := store.ParseTime(records[j].Timestamp)
		if ei == nil && ej == nil && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return records[i].ID < records[j].ID
	})
}

// ListBySeverity 指定严重程度的全部干预
func (l *Ledger) ListBySeverity(ctx context.Context, severity Severity) ([]Intervention, error) {
	return l.collect(ctx, func(e IndexEntry) bool { return e.Severity == severity })
}

// ListByType 指定类型的全部干预
func (l *Ledger) ListByType(ctx context.Context, t InterventionType) ([]Intervention, error) {
	return l.collect(ctx, func(e IndexEntry) bool { return e.Type == t })
}

// ListByOperator 指定操作员的全部干预
func (l *Ledger) ListByOperator(ctx context.Context, operatorID string) ([]Intervention, error) {
	return l.collect(ctx, func(e IndexEntry) bool { return e.OperatorID == operatorID })
}

// MajorInterventions severity 为 major 或 critical 的干预
func (l *Ledger) MajorInterventions(ctx context.Context) ([]Intervention, error) {
	return l.collect(ctx, func(e IndexEntry) bool { return e.Severity.IsMajor() })
}

// InRange 时间戳落在 [from, to] 内的干预，按时间升序。零值 from/to 表示不限。
func (l *Ledger) InRange(ctx context.Context, from, to time.Time) ([]Intervention, error) {
	return l.collect(ctx, func(e IndexEntry) bool {
		ts, err := store.ParseTime(e.Timestamp)
		if err != nil {
			return false
		}
		if !from.IsZero() && ts.Before(from) {
			return false
		}
		if !to.IsZero() && ts.After(to) {
			return false
		}
		return true
	})
}

// SessionSummary 直接读取会话文件汇总，不经过索引
func (l *Ledger) SessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	sum := SessionSummary{
		SessionID:  sessionID,
		BySeverity: emptySeverityCounts(),
		ByType:     emptyTypeCounts(),
	}
	records, err := l.ListForSession(ctx, sessionID)
	if err != nil {
		return sum, err
	}
	sortByTimestamp(records)
	for _, r := range records {
		sum.Total++
		sum.BySeverity[r.Severity]++
		sum.ByType[r.Type]++
		if r.Reversed() {
			sum.Reversed++
		}
		if r.Severity.IsMajor() {
			sum.HasMajorInterventions = true
		}
	}
	if len(records) > 0 {
		sum.FirstAt = records[0].Timestamp
		sum.LastAt = records[len(records)-1].Timestamp
	}
	return sum, nil
}

// IsCleanSession 会话中没有 major 及以上的干预
func (l *Ledger) IsCleanSession(ctx context.Context, sessionID string) (bool, error) {
	sum, err := l.SessionSummary(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return !sum.HasMajorInterventions, nil
}

// Stats 基于索引的全局统计，附带索引重建时累积的告警
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		BySeverity: emptySeverityCounts(),
		ByType:     emptyTypeCounts(),
	}
	idx, err := l.index.Load(ctx)
	if err != nil {
		return st, err
	}
	operators := make(map[string]bool)
	sessions := make(map[string]bool)
	for _, e := range idx.Entries {
		st.Total++
		st.BySeverity[e.Severity]++
		st.ByType[e.Type]++
		if e.Reversed {
			st.Reversed++
		}
		if e.OperatorID != "" {
			operators[e.OperatorID] = true
		}
		sessions[e.SessionID] = true
	}
	st.Operators = len(operators)
	st.Sessions = len(sessions)
	st.Warnings = idx.Warnings
	return st, nil
}
