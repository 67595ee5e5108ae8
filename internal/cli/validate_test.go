package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidProgram(t *testing.T) {
	out, err := execute(t, "validate", testdata("l2.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Program valid (2 inputs, 3 outputs, 3 rules)")
}

func TestValidateValidProgramJSON(t *testing.T) {
	out, err := execute(t, "validate", testdata("l2.cue"), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Rules)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateDirectory(t *testing.T) {
	out, err := execute(t, "validate", testdata("program"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Program valid (1 inputs, 2 outputs, 1 rules)")
	assert.Contains(t, out, `warning: output "Unused" is not written by any rule`)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	out, err := execute(t, "validate", testdata("invalid.cue"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	var codes []string
	for _, e := range resp.Data.Errors {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []string{ErrCodeInvalidRule, "E210", "E213"}, codes)
}

func TestValidateInvalidProgramText(t *testing.T) {
	out, err := execute(t, "validate", testdata("invalid.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, `unknown relation "Nope"`)
	assert.Contains(t, out, `relation "Learned" has no field "missing"`)
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := execute(t, "validate", "/nonexistent/program.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateSyntaxError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.cue", "input: Learned: {fields: [\n")

	_, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeBuildFailed)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"input.Learned.fields", ErrCodeInvalidRelation},
		{"output.Dmac.type", ErrCodeInvalidRelation},
		{"rule.fwd.value", ErrCodeInvalidRule},
		{"value", ErrCodeInvalidTemplate},
		{"cue", ErrCodeBuildFailed},
		{"literal", ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestFindCUEFiles(t *testing.T) {
	files, err := FindCUEFiles(testdata("program"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join("testdata", "program", "relations.cue"),
		filepath.Join("testdata", "program", "rules.cue"),
	}, files)
}

func TestLoadProgramFailFast(t *testing.T) {
	res, errs := LoadProgram(testdata("l2.cue"), LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, 1, res.FileCount)
	assert.Len(t, res.Spec.Inputs, 2)

	_, errs = LoadProgram(testdata("invalid.cue"), LoadModeFailFast)
	assert.Len(t, errs, 1)
}
