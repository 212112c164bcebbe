// Package delta 从代理消息中提取并校验结构化编辑指令 (delta)。
//
// 消息正文是自由文本，其中夹杂 ```delta 或 :::delta 围栏包裹的 JSON 对象。
// ScanBlocks 负责定位区块，Parse 负责解码与语法校验，NextTargetID 负责为区块分配下一个编号。
// 整个包无共享可变状态，可并发调用。
package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Delta 一条通过校验的编辑指令
type Delta struct {
	Operation Operation       `json:"operation"`
	Section   Section         `json:"section"`
	TargetID  *string         `json:"target_id"`
	Payload   json.RawMessage `json:"payload"`
	Rationale string          `json:"rationale,omitempty"`
}

// ParsedDelta 单个区块的解析结果：Valid 为 true 时 Delta 非空，否则 Error 给出原因
type ParsedDelta struct {
	Valid bool   `json:"valid"`
	Delta *Delta `json:"delta,omitempty"`
	Raw   string `json:"raw"`
	Error string `json:"error,omitempty"`
	Index int    `json:"block_index"`
	Span  Span   `json:"span"`
}

// Summary 解析结果计数
type Summary struct {
	Blocks  int `json:"blocks"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// Parse 扫描并解码消息中的全部 delta 区块。单个区块失败不影响其他区块。
func Parse(text string) []ParsedDelta {
	blocks := ScanBlocks(text)
	out := make([]ParsedDelta, 0, len(blocks))
	for i, b := range blocks {
		out = append(out, DecodeBlock(i, b))
	}
	return out
}

// DecodeBlock 解码并校验一个区块
func DecodeBlock(index int, b Block) ParsedDelta {
	res := ParsedDelta{Raw: b.Content, Index: index, Span: b.Span}
	d, err := decode(b.Content)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Valid = true
	res.Delta = d
	return res
}

func decode(content string) (*Delta, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &fields); err != nil || fields == nil {
		return nil, errors.New("Invalid JSON")
	}

	var rawOp string
	if err := json.Unmarshal(fields["operation"], &rawOp); err != nil {
		return nil, errors.New("Invalid operation")
	}
	op, ok := ParseOperation(rawOp)
	if !ok {
		return nil, fmt.Errorf("Invalid operation: %q", rawOp)
	}

	var rawSection string
	if err := json.Unmarshal(fields["section"], &rawSection); err != nil {
		return nil, errors.New("Invalid section")
	}
	section, ok := ParseSection(rawSection)
	if !ok {
		return nil, fmt.Errorf("Invalid section: %q", rawSection)
	}

	d := &Delta{Operation: op, Section: section}

	if raw, ok := fields["target_id"]; ok && !isNull(raw) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, errors.New("target_id must be a string or null")
		}
		d.TargetID = &id
	}

	var payload map[string]any
	if raw, ok := fields["payload"]; ok && !isNull(raw) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			d.Payload = buf.Bytes()
		}
		_ = json.Unmarshal(raw, &payload)
	}

	if raw, ok := fields["rationale"]; ok {
		_ = json.Unmarshal(raw, &d.Rationale)
	}

	if err := checkGrammar(d, payload); err != nil {
		return nil, err
	}
	return d, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// ValidDeltas 取出通过校验的 delta
func ValidDeltas(results []ParsedDelta) []Delta {
	out := make([]Delta, 0, len(results))
	for _, r := range results {
		if r.Valid && r.Delta != nil {
			out = append(out, *r.Delta)
		}
	}
	return out
}

// InvalidDeltas 取出未通过校验的结果
func InvalidDeltas(results []ParsedDelta) []ParsedDelta {
	var out []ParsedDelta
	for _, r := range results {
		if !r.Valid {
			out = append(out, r)
		}
	}
	return out
}

// Summarize 统计解析结果
func Summarize(results []ParsedDelta) Summary {
	s := Summary{Blocks: len(results)}
	for _, r := range results {
		if r.Valid {
			s.Valid++
		} else {
			s.Invalid++
		}
	}
	return s
}

// TargetIDs 收集有效 delta 引用过的 target_id（去重，保持首次出现顺序）
func TargetIDs(deltas []Delta) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, d := range deltas {
		if d.TargetID == nil || seen[*d.TargetID] {
			continue
		}
		seen[*d.TargetID] = true
		ids = append(ids, *d.TargetID)
	}
	return ids
}
