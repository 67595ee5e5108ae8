package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateText(t *testing.T) {
	out, err := execute(t, "translate", testdata("l2.cue"), testdata("learned.yaml"),
		"--p4info", testdata("l2.p4info.txt"))
	require.NoError(t, err)

	assert.Contains(t, out, "Writes (3):")
	assert.Contains(t, out, "insert ingress.dmac(dst=5) -> ingress.set_port(port=3) prio=0")
	assert.Contains(t, out, "insert ingress.dmac(dst=7) -> ingress.set_port(port=9) prio=0")
	assert.Contains(t, out, "insert ingress.acl(src=10, vlan=20) -> ingress.drop() prio=10")
	// Mirror has no table in the pipeline
	assert.Contains(t, out, "Gaps (1):")
	assert.Contains(t, out, "no_table Mirror Ingress.Mirror{mac: 7}")
}

func TestTranslateJSON(t *testing.T) {
	out, err := execute(t, "translate", testdata("l2.cue"), testdata("learned.yaml"),
		"--p4info", testdata("l2.p4info.txt"), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   TranslateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Delta, 4)
	assert.Len(t, resp.Data.Writes, 3)
	require.Len(t, resp.Data.Gaps, 1)
	assert.Equal(t, "no_table", resp.Data.Gaps[0].Reason)
	assert.Empty(t, resp.Data.Proto)
}

func TestTranslateProto(t *testing.T) {
	out, err := execute(t, "translate", testdata("l2.cue"), testdata("learned.yaml"),
		"--p4info", testdata("l2.p4info.txt"), "--proto", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data TranslateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Proto, 3)
	assert.Contains(t, resp.Data.Proto[0], "table_entry")
}

func TestTranslateRejectedBatch(t *testing.T) {
	out, err := execute(t, "translate", testdata("l2.cue"), testdata("output_target.yaml"),
		"--p4info", testdata("l2.p4info.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "NOT_INPUT")
}

func TestTranslateMissingP4Info(t *testing.T) {
	_, err := execute(t, "translate", testdata("l2.cue"), testdata("learned.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p4info")
}

func TestTranslateBadP4Info(t *testing.T) {
	_, err := execute(t, "translate", testdata("l2.cue"), testdata("learned.yaml"),
		"--p4info", testdata("nope.p4info.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTranslateBadFacts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "- insert: Nope\n  value: {x: 1}\n")

	_, err := execute(t, "translate", testdata("l2.cue"), path, "--p4info", testdata("l2.p4info.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load facts")
}
