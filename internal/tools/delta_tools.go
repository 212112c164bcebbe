package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikolaef43/brenner-bot-sub002/internal/core"
	"github.com/nikolaef43/brenner-bot-sub002/internal/delta"
)

// DeltaParseArgs delta_parse 参数
type DeltaParseArgs struct {
	Text      string `json:"text" jsonschema:"required,description=消息正文（可包含任意数量的 delta 区块）"`
	ValidOnly bool   `json:"valid_only" jsonschema:"description=只返回通过校验的 delta"`
}

// DeltaNextIDArgs delta_next_id 参数
type DeltaNextIDArgs struct {
	Section  string   `json:"section" jsonschema:"required,description=区块名，如 hypothesis_slate"`
	Existing []string `json:"existing" jsonschema:"description=已占用的 target_id 列表"`
	ThreadID string   `json:"thread_id" jsonschema:"description=可选：从该线程的历史 delta 推导已占用编号"`
}

// ThreadDeltasArgs thread_deltas 参数
type ThreadDeltasArgs struct {
	ThreadID  string `json:"thread_id" jsonschema:"required,description=Agent Mail 线程 id"`
	ValidOnly bool   `json:"valid_only" jsonschema:"description=只返回展平后的有效 delta 列表"`
}

type parseResult struct {
	Summary delta.Summary       `json:"summary"`
	Results []delta.ParsedDelta `json:"results,omitempty"`
	Deltas  []delta.Delta       `json:"deltas,omitempty"`
}

// RegisterDeltaTools 注册 delta 解析与编号工具
func RegisterDeltaTools(s *server.MCPServer, ts *Toolset) {
	s.AddTool(mcp.NewTool("delta_parse",
		mcp.WithDescription(`delta_parse - 提取并校验消息中的 delta 区块

区块格式：三个或更多反引号紧跟 delta，或单独一行 :::delta；内容为 JSON 对象
  {"operation": "ADD|EDIT|KILL", "section": "...", "target_id": null | "H1", "payload": {...}, "rationale": "..."}
每个区块独立判定，无效区块给出原因，不影响其他区块。`),
		mcp.WithInputSchema[DeltaParseArgs](),
	), wrapDeltaParse(ts))

	s.AddTool(mcp.NewTool("delta_next_id",
		mcp.WithDescription(`delta_next_id - 计算区块的下一个 target_id

取同前缀编号的最大数字后缀加一；其他区块的编号不参与。research_thread 始终为 RT。`),
		mcp.WithInputSchema[DeltaNextIDArgs](),
	), wrapDeltaNextID(ts))

	s.AddTool(mcp.NewTool("thread_deltas",
		mcp.WithDescription(`thread_deltas - 解析 Agent Mail 线程内全部消息的 delta 区块，按消息时间顺序返回`),
		mcp.WithInputSchema[ThreadDeltasArgs](),
	), wrapThreadDeltas(ts))
}

func wrapDeltaParse(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args DeltaParseArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		results := delta.Parse(args.Text)
		out := parseResult{Summary: delta.Summarize(results)}
		if args.ValidOnly {
			out.Deltas = delta.ValidDeltas(results)
		} else {
			out.Results = results
		}
		return jsonResult(out)
	}
}

func wrapDeltaNextID(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args DeltaNextIDArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		section, ok := delta.ParseSection(strings.TrimSpace(args.Section))
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("未知区块 %q，可选：%v", args.Section, delta.Sections())), nil
		}

		existing := append([]string(nil), args.Existing...)
		if args.ThreadID != "" {
			if ts.Messages == nil {
				return mcp.NewToolResultError("消息归档未配置，无法按线程推导编号"), nil
			}
			msgs, err := core.ExtractThreadDeltas(ctx, ts.Messages, args.ThreadID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("读取线程失败： %v", err)), nil
			}
			existing = append(existing, core.KnownTargetIDs(core.ValidThreadDeltas(msgs))...)
		}

		id, err := delta.NextTargetID(section, existing)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]string{"section": string(section), "next_id": id})
	}
}

func wrapThreadDeltas(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ThreadDeltasArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		if ts.Messages == nil {
			return mcp.NewToolResultError("消息归档未配置"), nil
		}
		if strings.TrimSpace(args.ThreadID) == "" {
			return mcp.NewToolResultError("thread_id 不能为空"), nil
		}
		msgs, err := core.ExtractThreadDeltas(ctx, ts.Messages, args.ThreadID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("读取线程失败： %v", err)), nil
		}
		if args.ValidOnly {
			deltas := core.ValidThreadDeltas(msgs)
			if deltas == nil {
				deltas = []delta.Delta{}
			}
			return jsonResult(deltas)
		}
		return jsonResult(msgs)
	}
}
