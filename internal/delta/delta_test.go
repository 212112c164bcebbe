package delta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fenced(body string) string {
	return "Some prose first.\n\n```delta\n" + body + "\n```\n\nTrailing prose."
}

func TestParse_AddHypothesis(t *testing.T) {
	results := Parse(fenced(`{"operation":"ADD","section":"hypothesis_slate","target_id":null,"payload":{"name":"H"}}`))
	require.Len(t, results, 1)
	require.True(t, results[0].Valid, results[0].Error)
	assert.Equal(t, SectionHypothesisSlate, results[0].Delta.Section)
	assert.Equal(t, OpAdd, results[0].Delta.Operation)
	assert.Nil(t, results[0].Delta.TargetID)
	assert.JSONEq(t, `{"name":"H"}`, string(results[0].Delta.Payload))
}

func TestParse_AddWithTargetIDRejected(t *testing.T) {
	results := Parse(fenced(`{"operation":"ADD","section":"hypothesis_slate","target_id":"H1","payload":{"name":"H"}}`))
	require.Len(t, results, 1)
	assert.False(t, results[0].Valid)
	assert.Contains(t, results[0].Error, "target_id as null")
}

func TestParse_InvalidJSONDoesNotStopScanning(t *testing.T) {
	text := "```delta\n{not json\n```\n" +
		"```delta\n{\"operation\":\"EDIT\",\"section\":\"predictions_table\",\"target_id\":\"P2\",\"payload\":{}}\n```\n"
	results := Parse(text)
	require.Len(t, results, 2)
	assert.False(t, results[0].Valid)
	assert.Equal(t, "Invalid JSON", results[0].Error)
	assert.Equal(t, 0, results[0].Index)
	assert.True(t, results[1].Valid, results[1].Error)
	assert.Equal(t, 1, results[1].Index)
}

func TestParse_ValidationOrder(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"non-object", `[1,2]`, "Invalid JSON"},
		{"bad operation", `{"operation":"MOVE","section":"bogus","target_id":null}`, "Invalid operation"},
		{"missing operation", `{"section":"hypothesis_slate"}`, "Invalid operation"},
		{"bad section", `{"operation":"ADD","section":"bogus","target_id":"zzz"}`, "Invalid section"},
		{"thread add", `{"operation":"ADD","section":"research_thread","target_id":null,"payload":{}}`, "research_thread only supports EDIT"},
		{"thread kill", `{"operation":"KILL","section":"research_thread","target_id":"RT","payload":{"reason":"x"}}`, "research_thread only supports EDIT"},
		{"thread edit other id", `{"operation":"EDIT","section":"research_thread","target_id":"RT1","payload":{}}`, `"RT"`},
		{"edit null", `{"operation":"EDIT","section":"assumption_ledger","target_id":null,"payload":{}}`, "non-null target_id"},
		{"kill null", `{"operation":"KILL","section":"anomaly_register","target_id":null,"payload":{"reason":"x"}}`, "non-null target_id"},
		{"kill no payload", `{"operation":"KILL","section":"anomaly_register","target_id":"X1"}`, "KILL operation requires payload with 'reason'"},
		{"kill empty reason", `{"operation":"KILL","section":"anomaly_register","target_id":"X1","payload":{"reason":"  "}}`, "KILL operation requires payload with 'reason'"},
		{"kill null reason", `{"operation":"KILL","section":"anomaly_register","target_id":"X1","payload":{"reason":null}}`, "KILL operation requires payload with 'reason'"},
		{"kill empty object reason", `{"operation":"KILL","section":"anomaly_register","target_id":"X1","payload":{"reason":{}}}`, "KILL operation requires payload with 'reason'"},
		{"wrong prefix", `{"operation":"EDIT","section":"discriminative_tests","target_id":"H3","payload":{}}`, "does not match section"},
		{"numeric target", `{"operation":"EDIT","section":"discriminative_tests","target_id":3,"payload":{}}`, "string or null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := Parse(fenced(tc.body))
			require.Len(t, results, 1)
			assert.False(t, results[0].Valid)
			assert.Contains(t, results[0].Error, tc.want)
		})
	}
}

func TestParse_ResearchThreadEdit(t *testing.T) {
	for _, target := range []string{"null", `"RT"`} {
		body := fmt.Sprintf(`{"operation":"EDIT","section":"research_thread","target_id":%s,"payload":{"text":"x"}}`, target)
		results := Parse(fenced(body))
		require.Len(t, results, 1)
		assert.True(t, results[0].Valid, "%s: %s", target, results[0].Error)
	}
}

func TestParse_KillWithReason(t *testing.T) {
	results := Parse(fenced(`{"operation":"KILL","section":"hypothesis_slate","target_id":"H2","payload":{"reason":"refuted by T1"},"rationale":"see T1"}`))
	require.Len(t, results, 1)
	require.True(t, results[0].Valid, results[0].Error)
	require.NotNil(t, results[0].Delta.TargetID)
	assert.Equal(t, "H2", *results[0].Delta.TargetID)
	assert.Equal(t, "see T1", results[0].Delta.Rationale)
}

func TestParse_Deterministic(t *testing.T) {
	text := fenced(`{"operation":"EDIT","section":"adversarial_critique","target_id":"C4","payload":{"x":[1,2]}}`)
	assert.Equal(t, Parse(text), Parse(text))
}

// 每个区块只接受自己前缀的 id，其他区块的前缀一律拒绝
func TestParse_PrefixProperty(t *testing.T) {
	for _, s := range Sections() {
		if s.Singleton() {
			continue
		}
		for _, other := range Sections() {
			if other.Singleton() {
				continue
			}
			id := other.Prefix() + "7"
			body := fmt.Sprintf(`{"operation":"EDIT","section":%q,"target_id":%q,"payload":{}}`, s, id)
			results := Parse(fenced(body))
			require.Len(t, results, 1)
			assert.Equal(t, s == other, results[0].Valid, "section=%s id=%s err=%s", s, id, results[0].Error)
		}
	}
}

func TestParse_AddAlwaysValidWithNullTarget(t *testing.T) {
	for _, s := range Sections() {
		if s.Singleton() {
			continue
		}
		body := fmt.Sprintf(`{"operation":"ADD","section":%q,"target_id":null,"payload":{}}`, s)
		results := Parse(fenced(body))
		require.Len(t, results, 1)
		assert.True(t, results[0].Valid, "%s: %s", s, results[0].Error)
	}
}

func TestHelpers(t *testing.T) {
	text := fenced(`{"operation":"EDIT","section":"hypothesis_slate","target_id":"H1","payload":{}}`) +
		fenced(`{"operation":"KILL","section":"hypothesis_slate","target_id":"H1","payload":{"reason":"dup"}}`) +
		fenced(`oops`)
	results := Parse(text)
	assert.Equal(t, Summary{Blocks: 3, Valid: 2, Invalid: 1}, Summarize(results))
	assert.Len(t, ValidDeltas(results), 2)
	assert.Len(t, InvalidDeltas(results), 1)
	assert.Equal(t, []string{"H1"}, TargetIDs(ValidDeltas(results)))
}

func TestParse_KillReasonAcceptsAnyNonEmptyValue(t *testing.T) {
	for _, reason := range []string{`"refuted"`, `42`, `true`, `false`, `["T1"]`, `{"by":"T1"}`} {
		results := Parse(fenced(`{"operation":"KILL","section":"hypothesis_slate","target_id":"H1","payload":{"reason":` + reason + `}}`))
		require.Len(t, results, 1)
		assert.True(t, results[0].Valid, "reason %s: %s", reason, results[0].Error)
	}
}
