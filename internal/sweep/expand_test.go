package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rem/internal/config"
)

func parse(t *testing.T, yaml string) *config.Value {
	t.Helper()
	v, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return v
}

func TestExpand_LeafGrid_LastKeyFastestVarying(t *testing.T) {
	spec := parse(t, "lr: [0.01, 0.1]\nbatch_size: [32, 64]\n")
	got, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"lr": 0.01, "batch_size": 32},
		{"lr": 0.01, "batch_size": 64},
		{"lr": 0.1, "batch_size": 32},
		{"lr": 0.1, "batch_size": 64},
	}, got)
}

func TestExpand_Zip(t *testing.T) {
	got, err := Expand(parse(t, "zip:\n  a: [1, 2]\n  b: [3, 4]\n"))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": 1, "b": 3}, {"a": 2, "b": 4}}, got)
}

func TestExpand_Zip_UnequalLengthsNamed(t *testing.T) {
	_, err := Expand(parse(t, "zip:\n  a: [1, 2]\n  b: [10]\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Contains(t, err.Error(), "equal length")
	assert.Contains(t, err.Error(), "2")
	assert.Contains(t, err.Error(), "1")
}

func TestExpand_GridOfLeafAndZip(t *testing.T) {
	spec := parse(t, `
grid:
  - lr: [0.01, 0.1]
  - zip:
      batch_size: [32, 64]
      dropout: [0.0, 0.5]
`)
	got, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"lr": 0.01, "batch_size": 32, "dropout": 0.0},
		{"lr": 0.01, "batch_size": 64, "dropout": 0.5},
		{"lr": 0.1, "batch_size": 32, "dropout": 0.0},
		{"lr": 0.1, "batch_size": 64, "dropout": 0.5},
	}, got)
}

func TestExpand_ImplicitGridFromPlainList(t *testing.T) {
	spec := parse(t, "- a: [1]\n- b: [2, 3]\n")
	got, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": 1, "b": 2}, {"a": 1, "b": 3}}, got)
}

func TestExpand_NestedGridOfZipOfGrid(t *testing.T) {
	spec := parse(t, `
grid:
  - grid:
      - a: [1, 2]
  - b: [10]
`)
	got, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": 1, "b": 10}, {"a": 2, "b": 10}}, got)
}

func TestExpand_AbsentSpecYieldsOneEmptyElement(t *testing.T) {
	for name, spec := range map[string]*config.Value{
		"nil value":  nil,
		"null":       parse(t, "null\n"),
		"false":      parse(t, "false\n"),
		"empty map":  parse(t, "{}\n"),
		"empty list": parse(t, "[]\n"),
	} {
		got, err := Expand(spec)
		require.NoError(t, err, name)
		assert.Equal(t, []map[string]any{{}}, got, name)
	}
}

func TestExpand_DuplicateKeyAcrossGridChildren(t *testing.T) {
	_, err := Expand(parse(t, "grid:\n  - a: [1]\n  - a: [2]\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Contains(t, err.Error(), `"a"`)
}

func TestExpand_ShapeErrors(t *testing.T) {
	cases := map[string]string{
		"scalar node":        "42\n",
		"non-list leaf":      "a: 1\n",
		"grid not a list":    "grid:\n  a: [1]\n",
		"zip not a map":      "zip: [1, 2]\n",
		"zip value not list": "zip:\n  a: 5\n",
	}
	for name, y := range cases {
		_, err := Expand(parse(t, y))
		assert.ErrorIs(t, err, ErrInvalidSpec, name)
	}
}

func TestElements_SequentialIDs(t *testing.T) {
	els, err := Elements(parse(t, "lr: [0.01, 0.1]\n"))
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "S_0001", els[0].SweepID)
	assert.Equal(t, "S_0002", els[1].SweepID)
	assert.Equal(t, map[string]any{"lr": 0.01}, els[0].Overrides)
	assert.Equal(t, map[string]any{"lr": 0.1}, els[1].Overrides)
}

func TestElements_AbsentSpec(t *testing.T) {
	els, err := Elements(nil)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "S_0001", els[0].SweepID)
	assert.Empty(t, els[0].Overrides)
}

func TestCollectParams(t *testing.T) {
	spec := parse(t, `
grid:
  - lr: [0.01]
  - zip:
      batch_size: [32]
      dropout: [0.0]
  - lr: [0.1]
`)
	names, err := CollectParams(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"lr", "batch_size", "dropout"}, names)
}

func TestValidate(t *testing.T) {
	spec := parse(t, "lr: [0.01]\nmomentum: [0.9]\n")

	assert.NoError(t, Validate(spec, []string{"lr", "momentum", "extra"}))

	err := Validate(spec, []string{"lr"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndefinedParam)
	assert.Contains(t, err.Error(), "momentum")

	// Shape errors surface through validation too, without expansion.
	assert.ErrorIs(t, Validate(parse(t, "a: 1\n"), []string{"a"}), ErrInvalidSpec)

	// Absent specs are always valid.
	assert.NoError(t, Validate(nil, nil))
}
