package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikolaef43/brenner-bot-sub002/internal/ledger"
	"github.com/nikolaef43/brenner-bot-sub002/internal/registry"
	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

// ProgramUpsertArgs program_upsert 参数（整条替换）
type ProgramUpsertArgs struct {
	ID          string   `json:"id" jsonschema:"required,description=项目 id（由调用方指定）"`
	Name        string   `json:"name" jsonschema:"required,description=项目名称"`
	Description string   `json:"description,omitempty" jsonschema:"description=研究问题描述"`
	Status      string   `json:"status,omitempty" jsonschema:"enum=active,enum=paused,enum=completed,enum=abandoned,description=缺省 active"`
	Sessions    []string `json:"sessions,omitempty" jsonschema:"description=有序的会话 id 列表"`
}

// ProgramIDArgs 按 id 操作的参数
type ProgramIDArgs struct {
	ID string `json:"id" jsonschema:"required,description=项目 id"`
}

// ProgramListArgs program_list 参数
type ProgramListArgs struct {
	Status    string `json:"status,omitempty" jsonschema:"description=按状态过滤"`
	SessionID string `json:"session_id,omitempty" jsonschema:"description=只列出包含该会话的项目"`
}

// ProgramSessionArgs program_session 参数
type ProgramSessionArgs struct {
	ID        string `json:"id" jsonschema:"required,description=项目 id"`
	SessionID string `json:"session_id" jsonschema:"required,description=会话 id"`
	Action    string `json:"action" jsonschema:"required,enum=add,enum=remove,enum=check"`
}

// IndexRebuildArgs index_rebuild 参数
type IndexRebuildArgs struct {
	Target string `json:"target,omitempty" jsonschema:"enum=interventions,enum=programs,enum=all,default=all"`
}

// RegisterProgramTools 注册研究项目工具
func RegisterProgramTools(s *server.MCPServer, ts *Toolset) {
	s.AddTool(mcp.NewTool("program_upsert",
		mcp.WithDescription("program_upsert - 按 id 创建或整条替换研究项目；createdAt 保留，updatedAt 刷新"),
		mcp.WithInputSchema[ProgramUpsertArgs](),
	), wrapProgramUpsert(ts))

	s.AddTool(mcp.NewTool("program_get",
		mcp.WithDescription("program_get - 按 id 读取研究项目"),
		mcp.WithInputSchema[ProgramIDArgs](),
	), wrapProgramGet(ts))

	s.AddTool(mcp.NewTool("program_list",
		mcp.WithDescription("program_list - 列出研究项目，可按状态或会话过滤"),
		mcp.WithInputSchema[ProgramListArgs](),
	), wrapProgramList(ts))

	s.AddTool(mcp.NewTool("program_session",
		mcp.WithDescription("program_session - 向项目添加/移除会话，或检查会话是否属于项目"),
		mcp.WithInputSchema[ProgramSessionArgs](),
	), wrapProgramSession(ts))

	s.AddTool(mcp.NewTool("program_delete",
		mcp.WithDescription("program_delete - 删除研究项目；不存在时 deleted=false"),
		mcp.WithInputSchema[ProgramIDArgs](),
	), wrapProgramDelete(ts))

	s.AddTool(mcp.NewTool("program_stats",
		mcp.WithDescription("program_stats - 按状态计数、会话槽位总数与平均每个项目的会话数"),
	), wrapProgramStats(ts))
}

// RegisterIndexTools 注册索引维护工具
func RegisterIndexTools(s *server.MCPServer, ts *Toolset) {
	s.AddTool(mcp.NewTool("index_rebuild",
		mcp.WithDescription(`index_rebuild - 从权威文件全量重建派生索引

手工修改 .research/ 下的文件后使用。返回条目数与累积告警（损坏的文件/记录）。`),
		mcp.WithInputSchema[IndexRebuildArgs](),
	), wrapIndexRebuild(ts))
}

func wrapProgramUpsert(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ProgramUpsertArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		p, err := ts.Registry.Upsert(ctx, registry.Program{
			ID:          args.ID,
			Name:        args.Name,
			Description: args.Description,
			Status:      registry.Status(args.Status),
			Sessions:    args.Sessions,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("保存项目失败： %v", err)), nil
		}
		return jsonResult(p)
	}
}

func wrapProgramGet(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ProgramIDArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		p, err := ts.Registry.Get(ctx, args.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if p == nil {
			return mcp.NewToolResultError(fmt.Sprintf("未找到项目 %s", args.ID)), nil
		}
		return jsonResult(p)
	}
}

func wrapProgramList(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ProgramListArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}

		var (
			list []registry.Program
			err  error
		)
		switch {
		case args.SessionID != "":
			list, err = ts.Registry.ProgramsForSession(ctx, args.SessionID)
		case args.Status != "":
			status := registry.Status(args.Status)
			if !status.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("未知状态 %q", args.Status)), nil
			}
			list, err = ts.Registry.ListByStatus(ctx, status)
		default:
			list, err = ts.Registry.List(ctx)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out := []registry.Program{}
		for _, p := range list {
			if args.Status != "" && string(p.Status) != args.Status {
				continue
			}
			out = append(out, p)
		}
		return jsonResult(map[string]any{"count": len(out), "programs": out})
	}
}

func wrapProgramSession(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ProgramSessionArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}

		var (
			p   registry.Program
			err error
		)
		switch args.Action {
		case "check":
			has, err := ts.Registry.HasSession(ctx, args.ID, args.SessionID)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return jsonResult(map[string]any{"id": args.ID, "session_id": args.SessionID, "member": has})
		case "add":
			p, err = ts.Registry.AddSession(ctx, args.ID, args.SessionID)
		case "remove":
			p, err = ts.Registry.RemoveSession(ctx, args.ID, args.SessionID)
		default:
			return mcp.NewToolResultError(fmt.Sprintf("未知 action %q（可选 add/remove/check）", args.Action)), nil
		}
		if errors.Is(err, registry.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("未找到项目 %s", args.ID)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(p)
	}
}

func wrapProgramDelete(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ProgramIDArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		deleted, err := ts.Registry.Delete(ctx, args.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("删除失败： %v", err)), nil
		}
		return jsonResult(map[string]any{"id": args.ID, "deleted": deleted})
	}
}

func wrapProgramStats(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := ts.Registry.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(st)
	}
}

// RebuildReport 单个索引的重建结果
type RebuildReport struct {
	Index    string          `json:"index"`
	Entries  int             `json:"entries"`
	Warnings []store.Warning `json:"warnings,omitempty"`
}

// RebuildIndexes 按 target 重建索引：interventions、programs 或 all
func RebuildIndexes(ctx context.Context, l *ledger.Ledger, r *registry.Registry, target string) ([]RebuildReport, error) {
	if target == "" {
		target = "all"
	}
	var reports []RebuildReport
	if target == "interventions" || target == "all" {
		idx, err := l.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		reports = append(reports, RebuildReport{Index: "interventions", Entries: len(idx.Entries), Warnings: idx.Warnings})
	}
	if target == "programs" || target == "all" {
		idx, err := r.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		reports = append(reports, RebuildReport{Index: "programs", Entries: len(idx.Entries), Warnings: idx.Warnings})
	}
	if reports == nil {
		return nil, fmt.Errorf("unknown index %q (want interventions, programs or all)", target)
	}
	return reports, nil
}

func wrapIndexRebuild(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args IndexRebuildArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		reports, err := RebuildIndexes(ctx, ts.Ledger, ts.Registry, args.Target)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("重建索引失败： %v", err)), nil
		}
		for _, rep := range reports {
			if len(rep.Warnings) > 0 {
				ts.logger().Warn("Index rebuilt with warnings", "index", rep.Index, "warnings", len(rep.Warnings))
			}
		}
		return jsonResult(reports)
	}
}
