package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	body := "```delta\n{\"operation\":\"ADD\",\"section\":\"hypothesis_slate\",\"target_id\":null,\"payload\":{\"name\":\"H\"}}\n```\n"
	out, err := run(t, body, "parse", "--valid-only")
	require.NoError(t, err)

	var deltas []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &deltas))
	require.Len(t, deltas, 1)
	assert.Equal(t, "hypothesis_slate", deltas[0]["section"])
}

func TestNextIDCommand(t *testing.T) {
	out, err := run(t, "", "next-id", "discriminative_tests", "H1", "H2", "T7")
	require.NoError(t, err)
	assert.Equal(t, "T8\n", out)

	_, err = run(t, "", "next-id", "bogus")
	assert.Error(t, err)
}

func TestProgramsAndIndexCommands(t *testing.T) {
	root := t.TempDir()
	research := filepath.Join(root, ".research", "programs")
	require.NoError(t, os.MkdirAll(research, 0755))
	doc := `{"version":1,"programs":[
		{"id":"p1","name":"One","status":"active","sessions":["a","b"],"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"},
		{"id":"p2","name":"Two","status":"paused","sessions":[],"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(research, "programs.json"), []byte(doc), 0644))

	out, err := run(t, "", "--root", root, "programs", "list", "--status", "paused")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "p2"`)
	assert.NotContains(t, out, `"id": "p1"`)

	out, err = run(t, "", "--root", root, "programs", "set-status", "p2", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed"`)

	out, err = run(t, "", "--root", root, "index", "rebuild", "programs")
	require.NoError(t, err)
	assert.Contains(t, out, `"entries": 2`)

	out, err = run(t, "", "--root", root, "interventions", "summary", "RS-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"has_major_interventions": false`)

	_, err = run(t, "", "--root", root, "index", "rebuild", "nothing")
	assert.Error(t, err)
}

func TestArchiveCommands(t *testing.T) {
	root := t.TempDir()
	export := `{"id":"m1","thread_id":"RS-7","from":"A","body_md":":::delta\n{\"operation\":\"EDIT\",\"section\":\"research_thread\",\"target_id\":\"RT\",\"payload\":{}}\n:::","created_ts":"2026-05-01T10:00:00Z"}` + "\n"

	out, err := run(t, export, "--root", root, "archive", "import")
	require.NoError(t, err)
	assert.Contains(t, out, `"imported": 1`)

	out, err = run(t, "", "--root", root, "archive", "deltas", "RS-7")
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)

	out, err = run(t, "", "--root", root, "archive", "threads")
	require.NoError(t, err)
	assert.Contains(t, out, `"thread_id": "RS-7"`)
}
