package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikolaef43/brenner-bot-sub002/internal/ledger"
	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

// TargetArgs 被覆盖对象的引用
type TargetArgs struct {
	MessageID       string `json:"message_id,omitempty" jsonschema:"description=被覆盖的消息 id"`
	ThreadID        string `json:"thread_id,omitempty" jsonschema:"description=所在线程"`
	DeltaIndex      *int   `json:"delta_index,omitempty" jsonschema:"description=消息内 delta 区块序号（从 0 开始）"`
	Section         string `json:"section,omitempty" jsonschema:"description=工件区块名"`
	ItemID          string `json:"item_id,omitempty" jsonschema:"description=区块内条目编号，如 H2"`
	ArtifactVersion *int   `json:"artifact_version,omitempty" jsonschema:"description=工件版本号"`
	Description     string `json:"description,omitempty" jsonschema:"description=自由文本描述"`
	Before          any    `json:"before,omitempty" jsonschema:"description=覆盖前的内容"`
	After           any    `json:"after,omitempty" jsonschema:"description=覆盖后的内容"`
}

// InterventionRecordArgs intervention_record 参数
type InterventionRecordArgs struct {
	SessionID  string     `json:"session_id" jsonschema:"required,description=研究会话 id"`
	OperatorID string     `json:"operator_id" jsonschema:"required,description=操作员 id"`
	Type       string     `json:"type" jsonschema:"required,enum=artifact_edit,enum=delta_exclusion,enum=delta_injection,enum=decision_override,enum=session_control,enum=role_reassignment"`
	Severity   string     `json:"severity" jsonschema:"required,enum=minor,enum=moderate,enum=major,enum=critical"`
	Target     TargetArgs `json:"target" jsonschema:"description=被覆盖对象"`
	Rationale  string     `json:"rationale" jsonschema:"required,description=干预理由"`
	Reversible bool       `json:"reversible" jsonschema:"description=是否可撤销"`
	Tags       []string   `json:"tags,omitempty" jsonschema:"description=标签"`
	Timestamp  string     `json:"timestamp,omitempty" jsonschema:"description=ISO-8601 时间，缺省为当前时间"`
}

// InterventionIDArgs 按 id 操作的参数
type InterventionIDArgs struct {
	ID string `json:"id" jsonschema:"required,description=干预 id，形如 INT-{session}-001"`
}

// InterventionReverseArgs intervention_reverse 参数
type InterventionReverseArgs struct {
	ID         string `json:"id" jsonschema:"required,description=干预 id"`
	OperatorID string `json:"operator_id" jsonschema:"required,description=执行撤销的操作员"`
}

// InterventionListArgs intervention_list 参数，条件之间取交集
type InterventionListArgs struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"description=按会话过滤"`
	Severity   string `json:"severity,omitempty" jsonschema:"description=按严重程度过滤"`
	Type       string `json:"type,omitempty" jsonschema:"description=按类型过滤"`
	OperatorID string `json:"operator_id,omitempty" jsonschema:"description=按操作员过滤"`
	MajorOnly  bool   `json:"major_only,omitempty" jsonschema:"description=只看 major/critical"`
	From       string `json:"from,omitempty" jsonschema:"description=起始时间（含），ISO-8601"`
	To         string `json:"to,omitempty" jsonschema:"description=结束时间（含），ISO-8601"`
}

// InterventionSessionArgs 会话级参数
type InterventionSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"required,description=研究会话 id"`
}

// RegisterInterventionTools 注册干预审计工具
func RegisterInterventionTools(s *server.MCPServer, ts *Toolset) {
	s.AddTool(mcp.NewTool("intervention_record",
		mcp.WithDescription(`intervention_record - 记录一次操作员干预

id 由账本在会话内自动分配（INT-{session}-{序号}），返回完整记录。`),
		mcp.WithInputSchema[InterventionRecordArgs](),
	), wrapInterventionRecord(ts))

	s.AddTool(mcp.NewTool("intervention_get",
		mcp.WithDescription("intervention_get - 按 id 读取一条干预"),
		mcp.WithInputSchema[InterventionIDArgs](),
	), wrapInterventionGet(ts))

	s.AddTool(mcp.NewTool("intervention_list",
		mcp.WithDescription(`intervention_list - 查询干预，结果按时间升序

可组合 session_id / severity / type / operator_id / major_only / from / to，条件取交集；不给条件时返回全部。`),
		mcp.WithInputSchema[InterventionListArgs](),
	), wrapInterventionList(ts))

	s.AddTool(mcp.NewTool("intervention_summary",
		mcp.WithDescription("intervention_summary - 单个会话的干预汇总（按严重程度/类型计数，是否存在 major 干预）"),
		mcp.WithInputSchema[InterventionSessionArgs](),
	), wrapInterventionSummary(ts))

	s.AddTool(mcp.NewTool("intervention_stats",
		mcp.WithDescription("intervention_stats - 全局干预统计，附带索引告警"),
	), wrapInterventionStats(ts))

	s.AddTool(mcp.NewTool("intervention_reverse",
		mcp.WithDescription("intervention_reverse - 撤销一条可撤销的干预"),
		mcp.WithInputSchema[InterventionReverseArgs](),
	), wrapInterventionReverse(ts))

	s.AddTool(mcp.NewTool("intervention_delete",
		mcp.WithDescription("intervention_delete - 硬删除一条干预（仅用于纠正录入错误），并重建索引"),
		mcp.WithInputSchema[InterventionIDArgs](),
	), wrapInterventionDelete(ts))
}

func wrapInterventionRecord(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionRecordArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		var target ledger.InterventionTarget
		if err := convert(args.Target, &target); err != nil {
			return argError(err), nil
		}
		rec, err := ts.Ledger.Record(ctx, ledger.Draft{
			SessionID:  args.SessionID,
			OperatorID: args.OperatorID,
			Type:       ledger.InterventionType(args.Type),
			Severity:   ledger.Severity(args.Severity),
			Target:     target,
			Rationale:  args.Rationale,
			Reversible: args.Reversible,
			Tags:       args.Tags,
			Timestamp:  args.Timestamp,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("记录干预失败： %v", err)), nil
		}
		ts.logger().Info("Intervention recorded", "id", rec.ID, "severity", rec.Severity, "operator", rec.OperatorID)
		return jsonResult(rec)
	}
}

func wrapInterventionGet(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionIDArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		rec, err := ts.Ledger.Get(ctx, args.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if rec == nil {
			return mcp.NewToolResultError(fmt.Sprintf("未找到干预 %s", args.ID)), nil
		}
		return jsonResult(rec)
	}
}

// listInterventions 选一个最有区分度的条件走账本查询，其余条件在内存里过滤
func listInterventions(ctx context.Context, l *ledger.Ledger, args InterventionListArgs) ([]ledger.Intervention, error) {
	var from, to time.Time
	var err error
	if args.From != "" {
		if from, err = store.ParseTime(args.From); err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
	}
	if args.To != "" {
		if to, err = store.ParseTime(args.To); err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
	}

	var base []ledger.Intervention
	switch {
	case args.SessionID != "":
		base, err = l.ListForSession(ctx, args.SessionID)
	case args.Severity != "":
		base, err = l.ListBySeverity(ctx, ledger.Severity(args.Severity))
	case args.Type != "":
		base, err = l.ListByType(ctx, ledger.InterventionType(args.Type))
	case args.OperatorID != "":
		base, err = l.ListByOperator(ctx, args.OperatorID)
	case args.MajorOnly:
		base, err = l.MajorInterventions(ctx)
	default:
		base, err = l.InRange(ctx, from, to)
	}
	if err != nil {
		return nil, err
	}

	out := []ledger.Intervention{}
	for _, in := range base {
		if args.SessionID != "" && in.SessionID != args.SessionID {
			continue
		}
		if args.Severity != "" && string(in.Severity) != args.Severity {
			continue
		}
		if args.Type != "" && string(in.Type) != args.Type {
			continue
		}
		if args.OperatorID != "" && in.OperatorID != args.OperatorID {
			continue
		}
		if args.MajorOnly && !in.Severity.IsMajor() {
			continue
		}
		if !from.IsZero() || !to.IsZero() {
			ts, err := store.ParseTime(in.Timestamp)
			if err != nil || (!from.IsZero() && ts.Before(from)) || (!to.IsZero() && ts.After(to)) {
				continue
			}
		}
		out = append(out, in)
	}
	return out, nil
}

func wrapInterventionList(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionListArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		list, err := listInterventions(ctx, ts.Ledger, args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("查询失败： %v", err)), nil
		}
		return jsonResult(map[string]any{"count": len(list), "interventions": list})
	}
}

func wrapInterventionSummary(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionSessionArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		if strings.TrimSpace(args.SessionID) == "" {
			return mcp.NewToolResultError("session_id 不能为空"), nil
		}
		sum, err := ts.Ledger.SessionSummary(ctx, args.SessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(struct {
			ledger.SessionSummary
			Clean bool `json:"clean"`
		}{sum, !sum.HasMajorInterventions})
	}
}

func wrapInterventionStats(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := ts.Ledger.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(st)
	}
}

func wrapInterventionReverse(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionReverseArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		rec, err := ts.Ledger.Reverse(ctx, args.ID, args.OperatorID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("未找到干预 %s", args.ID)), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("撤销失败： %v", err)), nil
		}
		return jsonResult(rec)
	}
}

func wrapInterventionDelete(ts *Toolset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args InterventionIDArgs
		if err := request.BindArguments(&args); err != nil {
			return argError(err), nil
		}
		deleted, err := ts.Ledger.Delete(ctx, args.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("删除失败： %v", err)), nil
		}
		if deleted {
			ts.logger().Warn("Intervention deleted", "id", args.ID)
		}
		return jsonResult(map[string]any{"id": args.ID, "deleted": deleted})
	}
}
