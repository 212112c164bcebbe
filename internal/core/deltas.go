package core

import (
	"context"
	"fmt"

	"github.com/nikolaef43/brenner-bot-sub002/internal/delta"
)

// MessageDeltas 一条消息中解析出的全部 delta 区块
type MessageDeltas struct {
	MessageID string              `json:"message_id"`
	From      string              `json:"from"`
	Subject   string              `json:"subject,omitempty"`
	Results   []delta.ParsedDelta `json:"results"`
}

// ExtractThreadDeltas 按时间顺序解析线程内每条消息正文，只返回至少含一个区块的消息
func ExtractThreadDeltas(ctx context.Context, src MessageSource, threadID string) ([]MessageDeltas, error) {
	msgs, err := src.ThreadMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("reading thread %s: %w", threadID, err)
	}
	out := []MessageDeltas{}
	for _, m := range msgs {
		results := delta.Parse(m.Body)
		if len(results) == 0 {
			continue
		}
		out = append(out, MessageDeltas{
			MessageID: m.ID,
			From:      m.From,
			Subject:   m.Subject,
			Results:   results,
		})
	}
	return out, nil
}

// ValidThreadDeltas 把线程中所有有效 delta 按出现顺序展平，交给外部的产物编译器
func ValidThreadDeltas(msgs []MessageDeltas) []delta.Delta {
	var out []delta.Delta
	for _, m := range msgs {
		out = append(out, delta.ValidDeltas(m.Results)...)
	}
	return out
}

// KnownTargetIDs 重放有效 delta 得到已占用的编号：ADD 依次分配新编号，EDIT/KILL 引用的编号原样计入
func KnownTargetIDs(deltas []delta.Delta) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, d := range deltas {
		if d.TargetID != nil {
			add(*d.TargetID)
			continue
		}
		if d.Operation != delta.OpAdd {
			continue
		}
		id, err := delta.NextTargetID(d.Section, ids)
		if err == nil {
			add(id)
		}
	}
	return ids
}
