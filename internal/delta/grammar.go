package delta

import (
	"errors"
	"fmt"
	"strings"
)

// Operation delta 操作类型
type Operation string

const (
	OpAdd  Operation = "ADD"
	OpEdit Operation = "EDIT"
	OpKill Operation = "KILL"
)

// Section 工件中的固定区块
type Section string

const (
	SectionHypothesisSlate     Section = "hypothesis_slate"
	SectionDiscriminativeTests Section = "discriminative_tests"
	SectionPredictionsTable    Section = "predictions_table"
	SectionAssumptionLedger    Section = "assumption_ledger"
	SectionAnomalyRegister     Section = "anomaly_register"
	SectionAdversarialCritique Section = "adversarial_critique"
	SectionResearchThread      Section = "research_thread"
)

// ResearchThreadID research_thread 唯一合法的非空 target_id
const ResearchThreadID = "RT"

// ErrUnknownSection 未知区块
var ErrUnknownSection = errors.New("unknown section")

var sectionOrder = []Section{
	SectionHypothesisSlate,
	SectionDiscriminativeTests,
	SectionPredictionsTable,
	SectionAssumptionLedger,
	SectionAnomalyRegister,
	SectionAdversarialCritique,
	SectionResearchThread,
}

var sectionPrefixes = map[Section]string{
	SectionHypothesisSlate:     "H",
	SectionDiscriminativeTests: "T",
	SectionPredictionsTable:    "P",
	SectionAssumptionLedger:    "A",
	SectionAnomalyRegister:     "X",
	SectionAdversarialCritique: "C",
	SectionResearchThread:      ResearchThreadID,
}

// Sections 按工件顺序返回全部区块
func Sections() []Section {
	return append([]Section(nil), sectionOrder...)
}

// Prefix 返回区块的 target_id 前缀；未知区块返回空串
func (s Section) Prefix() string {
	return sectionPrefixes[s]
}

// Singleton research_thread 只有一个条目，没有数字后缀
func (s Section) Singleton() bool {
	return s == SectionResearchThread
}

// Valid 是否为已知区块
func (s Section) Valid() bool {
	_, ok := sectionPrefixes[s]
	return ok
}

// ParseSection 解析区块名（严格匹配，不做大小写折叠）
func ParseSection(raw string) (Section, bool) {
	s := Section(raw)
	return s, s.Valid()
}

// ParseOperation 解析操作名（严格匹配）
func ParseOperation(raw string) (Operation, bool) {
	switch op := Operation(raw); op {
	case OpAdd, OpEdit, OpKill:
		return op, true
	}
	return "", false
}

// MatchesSection 判断 id 是否为该区块的合法 target_id：前缀 + 至少一位数字；
// research_thread 仅接受字面量 RT。
func MatchesSection(s Section, id string) bool {
	if s.Singleton() {
		return id == ResearchThreadID
	}
	_, ok := numericSuffix(s, id)
	return ok
}

// nonEmpty 判断 JSON 值是否非空：null、空白字符串、空数组与空对象视为空，数字和布尔值不为空
func nonEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// numericSuffix 取出 "<prefix><digits>" 中的数字部分
func numericSuffix(s Section, id string) (string, bool) {
	prefix := s.Prefix()
	if prefix == "" || s.Singleton() || !strings.HasPrefix(id, prefix) {
		return "", false
	}
	digits := id[len(prefix):]
	if digits == "" {
		return "", false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return "", false
		}
	}
	return digits, true
}

// checkGrammar 按固定顺序校验，遇到第一个错误即返回
func checkGrammar(d *Delta, payload map[string]any) error {
	if d.Section.Singleton() && d.Operation != OpEdit {
		return fmt.Errorf("research_thread only supports EDIT operations (got %s)", d.Operation)
	}

	switch d.Operation {
	case OpAdd:
		if d.TargetID != nil {
			return errors.New("ADD operation requires target_id as null")
		}
	case OpEdit:
		if d.Section.Singleton() {
			if d.TargetID != nil && *d.TargetID != ResearchThreadID {
				return fmt.Errorf("research_thread EDIT requires target_id to be null or %q", ResearchThreadID)
			}
			return nil
		}
		if d.TargetID == nil {
			return errors.New("EDIT operation requires a non-null target_id")
		}
	case OpKill:
		if d.TargetID == nil {
			return errors.New("KILL operation requires a non-null target_id")
		}
		if !nonEmpty(payload["reason"]) {
			return errors.New("KILL operation requires payload with 'reason'")
		}
	}

	if d.TargetID != nil && !MatchesSection(d.Section, *d.TargetID) {
		return fmt.Errorf("target_id %q does not match section %s (expected %s<number>)",
			*d.TargetID, d.Section, d.Section.Prefix())
	}
	return nil
}
