package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := ScriptPath(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

var (
	hyps = [][]string{{"the", "house"}, {"a", "book"}}
	refs = [][]string{{"the", "house"}, {"the", "book"}}
)

func TestMetric_Evaluate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeScript(t, dir, "tokens", `
higher_is_better = false

function evaluate(hyps, refs)
  local wrong, total = 0, 0
  for i, hyp in ipairs(hyps) do
    for j, tok in ipairs(refs[i]) do
      total = total + 1
      if hyp[j] ~= tok then
        wrong = wrong + 1
      end
    end
  end
  log(string.format("%d of %d wrong", wrong, total))
  return wrong / total
end
`)

	assert.True(t, IsMetricScript(dir, "tokens"))
	assert.False(t, IsMetricScript(dir, "bleu"))
	assert.False(t, IsMetricScript("", "tokens"))

	m := NewMetric("tokens", path)
	score, higher, err := m.Evaluate(context.Background(), hyps, refs)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, score, 1e-9)
	assert.False(t, higher)
	assert.Empty(t, m.logs, "logs are flushed after each run")
}

func TestMetric_Sandbox(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		script string
	}{
		{"io", `function evaluate() return io.open("x") end`},
		{"os", `function evaluate() return os.time() end`},
		{"dofile", `function evaluate() return dofile("x") end`},
		{"random", `function evaluate() return math.random() end`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeScript(t, t.TempDir(), tc.name, tc.script)
			_, _, err := NewMetric(tc.name, path).Evaluate(context.Background(), hyps, refs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "metric "+tc.name+" failed")
		})
	}
}

func TestMetric_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, _, err := NewMetric("gone", filepath.Join(dir, "gone.lua")).Evaluate(context.Background(), hyps, refs)
	assert.ErrorContains(t, err, "failed to read metric script")

	path := writeScript(t, dir, "nofunc", `x = 1`)
	_, _, err = NewMetric("nofunc", path).Evaluate(context.Background(), hyps, refs)
	assert.ErrorContains(t, err, "must define an 'evaluate' function")

	path = writeScript(t, dir, "syntax", `function evaluate(`)
	_, _, err = NewMetric("syntax", path).Evaluate(context.Background(), hyps, refs)
	assert.ErrorContains(t, err, "failed to load")

	path = writeScript(t, dir, "text", `function evaluate() return "high" end`)
	_, _, err = NewMetric("text", path).Evaluate(context.Background(), hyps, refs)
	assert.ErrorContains(t, err, "expected a number")
}
