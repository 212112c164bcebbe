package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikolaef43/brenner-bot-sub002/internal/core"
	"github.com/nikolaef43/brenner-bot-sub002/internal/ledger"
	"github.com/nikolaef43/brenner-bot-sub002/internal/registry"
)

// Toolset 工具处理器共享的依赖，由组合根显式注入
type Toolset struct {
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	// Messages 消息来源，可为空；为空时 thread_deltas 不可用
	Messages core.MessageSource
	Logger   *slog.Logger
}

func (ts *Toolset) logger() *slog.Logger {
	if ts.Logger == nil {
		return slog.Default()
	}
	return ts.Logger
}

// NewServer 创建 MCP 服务并注册全部工具
func NewServer(ts *Toolset, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"brenner",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	RegisterDeltaTools(s, ts)
	RegisterInterventionTools(s, ts)
	RegisterProgramTools(s, ts)
	RegisterIndexTools(s, ts)
	return s
}

const serverInstructions = `Brenner research protocol tools.

delta_parse / delta_next_id / thread_deltas: extract and validate the structured
edits agents embed in messages as ` + "```delta" + ` or :::delta blocks.
intervention_*: append-only audit trail of operator overrides, per session.
program_*: research programs grouping sessions under one question.
index_rebuild: regenerate derived indexes after manual edits to .research/.`

// jsonResult 把结果编码为缩进 JSON 文本
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("结果编码失败： %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func argError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("参数格式错误： %v", err))
}

// convert 经 JSON 在两种结构之间转换，用于把工具参数映射到领域类型
func convert(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
