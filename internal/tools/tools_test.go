package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikolaef43/brenner-bot-sub002/internal/core"
	"github.com/nikolaef43/brenner-bot-sub002/internal/ledger"
	"github.com/nikolaef43/brenner-bot-sub002/internal/registry"
	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
)

func getTextResult(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatalf("result is nil")
	}
	if len(result.Content) == 0 {
		t.Fatalf("result content is empty")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("result content is not text")
	}
	return text.Text
}

type fakeSource map[string][]core.Message

func (f fakeSource) ThreadMessages(_ context.Context, threadID string) ([]core.Message, error) {
	return f[threadID], nil
}

func newTestToolset(t *testing.T) *Toolset {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".research")
	writes := store.NewSerializer()
	return &Toolset{
		Ledger:   ledger.New(ledger.Options{ResearchDir: dir, AutoIndex: true, Serializer: writes}),
		Registry: registry.New(registry.Options{ResearchDir: dir, AutoIndex: true, Serializer: writes}),
		Messages: fakeSource{
			"RS-1": {
				{ID: "m1", From: "A", Body: "```delta\n{\"operation\":\"ADD\",\"section\":\"predictions_table\",\"target_id\":null,\"payload\":{}}\n```"},
				{ID: "m2", From: "B", Body: "```delta\n{\"operation\":\"EDIT\",\"section\":\"predictions_table\",\"target_id\":\"P4\",\"payload\":{}}\n```"},
			},
		},
	}
}

// call 调用处理器并返回文本；wantError 指定期望的 IsError
func call(t *testing.T, h server.ToolHandlerFunc, name string, args map[string]any, wantError bool) string {
	t.Helper()
	result, err := h(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		t.Fatalf("%s call failed: %v", name, err)
	}
	text := getTextResult(t, result)
	if result.IsError != wantError {
		t.Fatalf("%s: IsError=%v, want %v: %s", name, result.IsError, wantError, text)
	}
	return text
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("decoding %q: %v", text, err)
	}
	return v
}

func TestDeltaParseTool(t *testing.T) {
	ts := newTestToolset(t)
	text := "intro\n```delta\n{\"operation\":\"ADD\",\"section\":\"hypothesis_slate\",\"target_id\":\"H1\",\"payload\":{\"name\":\"H\"}}\n```\n"

	out := decode[parseResult](t, call(t, wrapDeltaParse(ts), "delta_parse", map[string]any{"text": text}, false))
	if out.Summary.Blocks != 1 || out.Summary.Invalid != 1 {
		t.Fatalf("unexpected summary: %+v", out.Summary)
	}
	if !strings.Contains(out.Results[0].Error, "target_id as null") {
		t.Fatalf("unexpected error: %q", out.Results[0].Error)
	}

	out = decode[parseResult](t, call(t, wrapDeltaParse(ts), "delta_parse", map[string]any{"text": "nothing", "valid_only": true}, false))
	if out.Summary.Blocks != 0 || len(out.Deltas) != 0 {
		t.Fatalf("expected empty result, got %+v", out)
	}
}

func TestDeltaNextIDTool(t *testing.T) {
	ts := newTestToolset(t)
	h := wrapDeltaNextID(ts)

	got := decode[map[string]string](t, call(t, h, "delta_next_id", map[string]any{
		"section":  "hypothesis_slate",
		"existing": []string{"H1", "H2", "H3", "T9"},
	}, false))
	if got["next_id"] != "H4" {
		t.Fatalf("expected H4, got %v", got)
	}

	got = decode[map[string]string](t, call(t, h, "delta_next_id", map[string]any{
		"section":   "predictions_table",
		"thread_id": "RS-1",
	}, false))
	if got["next_id"] != "P5" {
		t.Fatalf("expected P5 from thread history, got %v", got)
	}

	call(t, h, "delta_next_id", map[string]any{"section": "nope"}, true)
}

func TestThreadDeltasTool(t *testing.T) {
	ts := newTestToolset(t)
	text := call(t, wrapThreadDeltas(ts), "thread_deltas", map[string]any{"thread_id": "RS-1", "valid_only": true}, false)
	deltas := decode[[]map[string]any](t, text)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d: %s", len(deltas), text)
	}

	ts.Messages = nil
	call(t, wrapThreadDeltas(ts), "thread_deltas", map[string]any{"thread_id": "RS-1"}, true)
}

func TestInterventionToolsLifecycle(t *testing.T) {
	ts := newTestToolset(t)

	rec := decode[ledger.Intervention](t, call(t, wrapInterventionRecord(ts), "intervention_record", map[string]any{
		"session_id":  "RS-1",
		"operator_id": "alice",
		"type":        "delta_exclusion",
		"severity":    "critical",
		"rationale":   "hallucinated citation",
		"reversible":  true,
		"target": map[string]any{
			"message_id":  "m2",
			"delta_index": 0,
			"before":      map[string]any{"claim": "x"},
		},
	}, false))
	if rec.ID != "INT-RS-1-001" {
		t.Fatalf("unexpected id %s", rec.ID)
	}
	if string(rec.Target.Before) != `{"claim":"x"}` {
		t.Fatalf("target.before not preserved: %s", rec.Target.Before)
	}

	call(t, wrapInterventionRecord(ts), "intervention_record", map[string]any{
		"session_id": "RS-1", "operator_id": "alice", "type": "nonsense", "severity": "minor", "rationale": "r",
	}, true)

	got := decode[ledger.Intervention](t, call(t, wrapInterventionGet(ts), "intervention_get", map[string]any{"id": rec.ID}, false))
	if got.Rationale != "hallucinated citation" {
		t.Fatalf("unexpected record: %+v", got)
	}
	call(t, wrapInterventionGet(ts), "intervention_get", map[string]any{"id": "INT-RS-1-404"}, true)

	summary := decode[map[string]any](t, call(t, wrapInterventionSummary(ts), "intervention_summary", map[string]any{"session_id": "RS-1"}, false))
	if summary["has_major_interventions"] != true || summary["clean"] != false {
		t.Fatalf("unexpected summary: %v", summary)
	}

	list := decode[map[string]any](t, call(t, wrapInterventionList(ts), "intervention_list", map[string]any{"major_only": true, "operator_id": "alice"}, false))
	if list["count"] != float64(1) {
		t.Fatalf("unexpected list: %v", list)
	}
	list = decode[map[string]any](t, call(t, wrapInterventionList(ts), "intervention_list", map[string]any{"severity": "minor"}, false))
	if list["count"] != float64(0) {
		t.Fatalf("unexpected list: %v", list)
	}
	call(t, wrapInterventionList(ts), "intervention_list", map[string]any{"from": "last week"}, true)

	reversed := decode[ledger.Intervention](t, call(t, wrapInterventionReverse(ts), "intervention_reverse", map[string]any{"id": rec.ID, "operator_id": "bob"}, false))
	if reversed.ReversedBy != "bob" {
		t.Fatalf("unexpected reverse result: %+v", reversed)
	}
	call(t, wrapInterventionReverse(ts), "intervention_reverse", map[string]any{"id": rec.ID, "operator_id": "bob"}, true)

	stats := decode[ledger.Stats](t, call(t, wrapInterventionStats(ts), "intervention_stats", nil, false))
	if stats.Total != 1 || stats.Reversed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	del := decode[map[string]any](t, call(t, wrapInterventionDelete(ts), "intervention_delete", map[string]any{"id": rec.ID}, false))
	if del["deleted"] != true {
		t.Fatalf("expected deletion: %v", del)
	}
	del = decode[map[string]any](t, call(t, wrapInterventionDelete(ts), "intervention_delete", map[string]any{"id": rec.ID}, false))
	if del["deleted"] != false {
		t.Fatalf("second delete should be a no-op: %v", del)
	}
}

func TestProgramToolsLifecycle(t *testing.T) {
	ts := newTestToolset(t)

	p := decode[registry.Program](t, call(t, wrapProgramUpsert(ts), "program_upsert", map[string]any{
		"id": "prog-1", "name": "Morphogen gradients", "sessions": []string{"RS-1"},
	}, false))
	if p.Status != registry.StatusActive || p.CreatedAt == "" {
		t.Fatalf("unexpected program: %+v", p)
	}
	call(t, wrapProgramUpsert(ts), "program_upsert", map[string]any{"id": "prog-2", "name": "x", "status": "frozen"}, true)

	p = decode[registry.Program](t, call(t, wrapProgramSession(ts), "program_session", map[string]any{"id": "prog-1", "session_id": "RS-2", "action": "add"}, false))
	if len(p.Sessions) != 2 {
		t.Fatalf("expected two sessions: %+v", p)
	}
	member := decode[map[string]any](t, call(t, wrapProgramSession(ts), "program_session", map[string]any{"id": "prog-1", "session_id": "RS-2", "action": "check"}, false))
	if member["member"] != true {
		t.Fatalf("expected membership: %v", member)
	}
	call(t, wrapProgramSession(ts), "program_session", map[string]any{"id": "missing", "session_id": "RS-2", "action": "add"}, true)

	list := decode[map[string]any](t, call(t, wrapProgramList(ts), "program_list", map[string]any{"session_id": "RS-2"}, false))
	if list["count"] != float64(1) {
		t.Fatalf("unexpected list: %v", list)
	}
	list = decode[map[string]any](t, call(t, wrapProgramList(ts), "program_list", map[string]any{"status": "paused"}, false))
	if list["count"] != float64(0) {
		t.Fatalf("unexpected list: %v", list)
	}

	stats := decode[registry.Stats](t, call(t, wrapProgramStats(ts), "program_stats", nil, false))
	if stats.Total != 1 || stats.TotalSessions != 2 || stats.AvgSessionsPerProgram != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	got := decode[registry.Program](t, call(t, wrapProgramGet(ts), "program_get", map[string]any{"id": "prog-1"}, false))
	if got.Name != "Morphogen gradients" {
		t.Fatalf("unexpected program: %+v", got)
	}

	del := decode[map[string]any](t, call(t, wrapProgramDelete(ts), "program_delete", map[string]any{"id": "prog-1"}, false))
	if del["deleted"] != true {
		t.Fatalf("expected deletion: %v", del)
	}
	call(t, wrapProgramGet(ts), "program_get", map[string]any{"id": "prog-1"}, true)
}

func TestIndexRebuildTool(t *testing.T) {
	ts := newTestToolset(t)
	call(t, wrapProgramUpsert(ts), "program_upsert", map[string]any{"id": "p", "name": "P"}, false)

	reports := decode[[]RebuildReport](t, call(t, wrapIndexRebuild(ts), "index_rebuild", map[string]any{}, false))
	if len(reports) != 2 || reports[1].Index != "programs" || reports[1].Entries != 1 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	call(t, wrapIndexRebuild(ts), "index_rebuild", map[string]any{"target": "everything"}, true)
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(newTestToolset(t), "test")
	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	listing := string(raw)
	for _, name := range []string{
		"delta_parse", "delta_next_id", "thread_deltas",
		"intervention_record", "intervention_get", "intervention_list", "intervention_summary",
		"intervention_stats", "intervention_reverse", "intervention_delete",
		"program_upsert", "program_get", "program_list", "program_session", "program_delete", "program_stats",
		"index_rebuild",
	} {
		if !strings.Contains(listing, `"name":"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}
}
