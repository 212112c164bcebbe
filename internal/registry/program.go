// Package registry 维护跨会话的研究项目 (Program) 登记表。
//
// 所有项目保存在同一个文件 .research/programs/programs.json 中，
// program-index.json 是可随时重建的派生索引，按项目 id 增量更新。
package registry

import (
	"errors"
	"slices"
)

// Status 项目状态
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Statuses 全部状态
func Statuses() []Status {
	return []Status{StatusActive, StatusPaused, StatusCompleted, StatusAbandoned}
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

var (
	ErrNotFound       = errors.New("program not found")
	ErrInvalidProgram = errors.New("invalid program")
)

// Program 一组共享同一研究问题的会话
type Program struct {
	ID          string   `json:"id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Status      Status   `json:"status" validate:"required,oneof=active paused completed abandoned"`
	Sessions    []string `json:"sessions" validate:"dive,required"`
	CreatedAt   string   `json:"createdAt" validate:"required,isotime"`
	UpdatedAt   string   `json:"updatedAt" validate:"required,isotime"`
}

// HasSession 会话是否属于该项目
func (p Program) HasSession(sessionID string) bool {
	return slices.Contains(p.Sessions, sessionID)
}

// IndexEntry 索引投影
type IndexEntry struct {
	ID           string   `json:"id" validate:"required"`
	Name         string   `json:"name"`
	Status       Status   `json:"status" validate:"required"`
	Sessions     []string `json:"sessions"`
	SessionCount int      `json:"session_count" validate:"gte=0"`
	UpdatedAt    string   `json:"updatedAt"`
}

func project(p Program) IndexEntry {
	sessions := p.Sessions
	if sessions == nil {
		sessions = []string{}
	}
	return IndexEntry{
		ID:           p.ID,
		Name:         p.Name,
		Status:       p.Status,
		Sessions:     sessions,
		SessionCount: len(p.Sessions),
		UpdatedAt:    p.UpdatedAt,
	}
}

// Stats 全局统计
type Stats struct {
	Total                 int            `json:"total"`
	ByStatus              map[Status]int `json:"by_status"`
	TotalSessions         int            `json:"total_sessions"`
	AvgSessionsPerProgram float64        `json:"avg_sessions_per_program"`
}
