package delta

import "strings"

// Keyword 围栏语言标记
const Keyword = "delta"

const (
	colonOpen  = ":::" + Keyword
	colonClose = ":::"
	minFence   = 3
)

// FenceKind 围栏形式
type FenceKind string

const (
	FenceBacktick FenceKind = "backtick"
	FenceColon    FenceKind = "colon"
)

// Span 区块在原文中的位置。Start/End 为字节偏移（End 不含闭合行的换行符），行号从 1 开始。
type Span struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Block 扫描出的候选 delta 区块
type Block struct {
	Content string    `json:"content"`
	Kind    FenceKind `json:"kind"`
	Span    Span      `json:"span"`
}

type line struct {
	text  string // 已去掉行尾 \r
	start int
	end   int
}

func splitLines(text string) []line {
	var lines []line
	start := 0
	for start <= len(text) {
		idx := strings.IndexByte(text[start:], '\n')
		end := len(text)
		next := len(text) + 1
		if idx >= 0 {
			end = start + idx
			next = end + 1
		}
		t := text[start:end]
		t = strings.TrimSuffix(t, "\r")
		lines = append(lines, line{text: t, start: start, end: start + len(t)})
		start = next
	}
	return lines
}

// backtickRun 返回行首（去掉缩进后）连续反引号的个数及剩余部分
func backtickRun(s string) (int, string) {
	n := 0
	for n < len(s) && s[n] == '`' {
		n++
	}
	return n, s[n:]
}

// openingFence 判断一行是否为 delta 开围栏
func openingFence(text string) (FenceKind, int, bool) {
	t := strings.TrimSpace(text)
	if t == colonOpen {
		return FenceColon, len(colonClose), true
	}
	n, rest := backtickRun(t)
	if n >= minFence && rest == Keyword {
		return FenceBacktick, n, true
	}
	return "", 0, false
}

// findClose 从 from 开始寻找闭合行。
// 反引号围栏内部带语言标记的围栏会压栈，必须先被闭合，外层才可能闭合；
// 不带标记且短于外层的围栏直接视为内容。
func findClose(lines []line, from int, kind FenceKind, width int) int {
	var nested []int
	for j := from; j < len(lines); j++ {
		t := strings.TrimSpace(lines[j].text)
		if kind == FenceColon {
			if t == colonClose {
				return j
			}
			continue
		}

		n, rest := backtickRun(t)
		if n < minFence {
			continue
		}
		if rest != "" {
			nested = append(nested, n)
			continue
		}
		if len(nested) > 0 {
			if n >= nested[len(nested)-1] {
				nested = nested[:len(nested)-1]
			}
			continue
		}
		if n >= width {
			return j
		}
	}
	return -1
}

// ScanBlocks 逐行扫描消息正文，按出现顺序返回全部闭合的 delta 区块。
// 没有区块时返回空切片；未闭合的开围栏被忽略，扫描从其下一行继续。
func ScanBlocks(text string) []Block {
	lines := splitLines(text)
	blocks := []Block{}

	for i := 0; i < len(lines); {
		kind, width, ok := openingFence(lines[i].text)
		if !ok {
			i++
			continue
		}
		closeIdx := findClose(lines, i+1, kind, width)
		if closeIdx < 0 {
			i++
			continue
		}

		body := make([]string, 0, closeIdx-i-1)
		for _, l := range lines[i+1 : closeIdx] {
			body = append(body, l.text)
		}
		blocks = append(blocks, Block{
			Content: strings.Join(body, "\n"),
			Kind:    kind,
			Span: Span{
				Start:     lines[i].start,
				End:       lines[closeIdx].end,
				StartLine: i + 1,
				EndLine:   closeIdx + 1,
			},
		})
		i = closeIdx + 1
	}
	return blocks
}
