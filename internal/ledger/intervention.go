// Package ledger 记录人工操作员对代理产出或流程的干预，作为审计轨迹。
//
// 每个会话一个权威文件 .research/interventions/{session}-interventions.json，
// 另有一个派生索引 .research/intervention-index.json 用于加速查询。
// 查询先用索引剪枝出候选会话，再回读权威文件确认，索引从不作为最终答案。
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nikolaef43/brenner-bot-sub002/internal/delta"
	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

// InterventionType 干预类型
type InterventionType string

const (
	TypeArtifactEdit     InterventionType = "artifact_edit"
	TypeDeltaExclusion   InterventionType = "delta_exclusion"
	TypeDeltaInjection   InterventionType = "delta_injection"
	TypeDecisionOverride InterventionType = "decision_override"
	TypeSessionControl   InterventionType = "session_control"
	TypeRoleReassignment InterventionType = "role_reassignment"
)

// Severity 干预严重程度
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Types 全部干预类型
func Types() []InterventionType {
	return []InterventionType{
		TypeArtifactEdit, TypeDeltaExclusion, TypeDeltaInjection,
		TypeDecisionOverride, TypeSessionControl, TypeRoleReassignment,
	}
}

// Severities 由轻到重
func Severities() []Severity {
	return []Severity{SeverityMinor, SeverityModerate, SeverityMajor, SeverityCritical}
}

// IsMajor major 及以上
func (s Severity) IsMajor() bool {
	return s == SeverityMajor || s == SeverityCritical
}

const idPrefix = "INT-"

var (
	ErrInvalidID       = errors.New("invalid intervention id")
	ErrNotFound        = errors.New("intervention not found")
	ErrInvalidRecord   = errors.New("invalid intervention")
	ErrNotReversible   = errors.New("intervention is not reversible")
	ErrAlreadyReversed = errors.New("intervention already reversed")
	ErrSessionMismatch = errors.New("intervention id does not match session_id")
)

// InterventionTarget 被覆盖对象的结构化引用
type InterventionTarget struct {
	MessageID       string          `json:"message_id,omitempty"`
	ThreadID        string          `json:"thread_id,omitempty"`
	DeltaIndex      *int            `json:"delta_index,omitempty" validate:"omitempty,gte=0"`
	Section         string          `json:"section,omitempty"`
	ItemID          string          `json:"item_id,omitempty"`
	ArtifactVersion *int            `json:"artifact_version,omitempty" validate:"omitempty,gte=0"`
	Description     string          `json:"description,omitempty"`
	Before          json.RawMessage `json:"before,omitempty"`
	After           json.RawMessage `json:"after,omitempty"`
}

// Intervention 一条干预审计记录。更新只能整条替换。
type Intervention struct {
	ID         string             `json:"id" validate:"required"`
	SessionID  string             `json:"session_id" validate:"required"`
	Timestamp  string             `json:"timestamp" validate:"required,isotime"`
	OperatorID string             `json:"operator_id" validate:"required"`
	Type       InterventionType   `json:"type" validate:"required,oneof=artifact_edit delta_exclusion delta_injection decision_override session_control role_reassignment"`
	Severity   Severity           `json:"severity" validate:"required,oneof=minor moderate major critical"`
	Target     InterventionTarget `json:"target"`
	Rationale  string             `json:"rationale" validate:"required"`
	Reversible bool               `json:"reversible"`
	ReversedAt string             `json:"reversed_at,omitempty" validate:"omitempty,isotime"`
	ReversedBy string             `json:"reversed_by,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
}

// Reversed 是否已被撤销
func (in Intervention) Reversed() bool {
	return in.ReversedAt != ""
}

// Validate 标签校验 + id/session 一致性 + 目标区块引用
func (in Intervention) Validate() error {
	if err := store.ValidateStruct(in); err != nil {
		return err
	}
	return checkIntervention(in)
}

func checkIntervention(in Intervention) error {
	sid, _, err := ParseID(in.ID)
	if err != nil {
		return err
	}
	if sid != in.SessionID {
		return fmt.Errorf("%w: id %q, session_id %q", ErrSessionMismatch, in.ID, in.SessionID)
	}
	if in.ReversedAt != "" && !in.Reversible {
		return ErrNotReversible
	}
	if in.Target.Section != "" {
		section, ok := delta.ParseSection(in.Target.Section)
		if !ok {
			return fmt.Errorf("target.section: %w: %q", delta.ErrUnknownSection, in.Target.Section)
		}
		if in.Target.ItemID != "" && !delta.MatchesSection(section, in.Target.ItemID) {
			return fmt.Errorf("target.item_id %q does not belong to section %s", in.Target.ItemID, section)
		}
	}
	return nil
}

// FormatID 生成 INT-{session}-{seq}，序号至少三位补零
func FormatID(sessionID string, seq int) string {
	return fmt.Sprintf("%s%s-%03d", idPrefix, sessionID, seq)
}

// ParseID 拆出 session 段与序号。session id 本身可以包含 '-'，序号取最后一段。
func ParseID(id string) (string, int, error) {
	if !strings.HasPrefix(id, idPrefix) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	rest := id[len(idPrefix):]
	cut := strings.LastIndexByte(rest, '-')
	if cut <= 0 || cut == len(rest)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	digits := rest[cut+1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return rest[:cut], seq, nil
}

// nextSeq 会话内下一个序号：现有最大序号加一
func nextSeq(records []Intervention) int {
	max := 0
	for _, r := range records {
		if _, seq, err := ParseID(r.ID); err == nil && seq > max {
			max = seq
		}
	}
	return max + 1
}

// Draft 新建干预时由调用方提供的字段；id 与缺省时间戳由 Ledger 填充
type Draft struct {
	SessionID  string             `json:"session_id"`
	OperatorID string             `json:"operator_id"`
	Type       InterventionType   `json:"type"`
	Severity   Severity           `json:"severity"`
	Target     InterventionTarget `json:"target"`
	Rationale  string             `json:"rationale"`
	Reversible bool               `json:"reversible"`
	Tags       []string           `json:"tags,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
}

// IndexEntry 索引中的一条投影
type IndexEntry struct {
	ID         string           `json:"id" validate:"required"`
	SessionID  string           `json:"session_id" validate:"required"`
	File       string           `json:"file" validate:"required"`
	Timestamp  string           `json:"timestamp" validate:"required"`
	OperatorID string           `json:"operator_id"`
	Type       InterventionType `json:"type" validate:"required"`
	Severity   Severity         `json:"severity" validate:"required"`
	Reversed   bool             `json:"reversed"`
}

func project(file string, in Intervention) IndexEntry {
	return IndexEntry{
		ID:         in.ID,
		SessionID:  in.SessionID,
		File:       file,
		Timestamp:  in.Timestamp,
		OperatorID: in.OperatorID,
		Type:       in.Type,
		Severity:   in.Severity,
		Reversed:   in.Reversed(),
	}
}
