package evaluate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/xnmt/internal/options"
)

func toks(lines ...string) [][]string {
	out := make([][]string, len(lines))
	for i, l := range lines {
		out[i] = strings.Fields(l)
	}
	return out
}

func TestBLEU(t *testing.T) {
	t.Parallel()

	refs := toks("the cat sat on the mat", "a quick brown fox jumps")

	perfect := BLEU(refs, refs)
	assert.InDelta(t, 1.0, perfect.Value(), 1e-9)
	assert.True(t, perfect.HigherIsBetter())
	assert.Equal(t, "bleu", perfect.Metric())
	assert.True(t, strings.HasPrefix(perfect.String(), "BLEU: 1.0000 (100.0/100.0/100.0/100.0, BP = 1.000"), perfect.String())

	none := BLEU(toks("dog dog dog dog", "x y z w"), refs)
	assert.Equal(t, 0.0, none.Value())

	short := BLEU(toks("the cat sat on", "a quick brown fox"), refs)
	assert.Greater(t, short.Value(), 0.0)
	assert.Less(t, short.Value(), 1.0, "brevity penalty applies")
}

func TestWER(t *testing.T) {
	t.Parallel()

	s := WER(toks("a x c", "d e"), toks("a b c", "d e f"))
	assert.InDelta(t, 2.0/6.0, s.Value(), 1e-9)
	assert.False(t, s.HigherIsBetter())
	assert.Equal(t, "WER: 0.3333 (errors=2, ref_len=6)", s.String())
}

func TestCER(t *testing.T) {
	t.Parallel()

	s := CER(toks("abd"), toks("abc"))
	assert.InDelta(t, 1.0/3.0, s.Value(), 1e-9)
	assert.False(t, s.HigherIsBetter())
}

func TestEditDistance(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a b c", "", 3},
		{"", "a b", 2},
		{"a b c", "a b c", 0},
		{"a b c", "a c", 1},
		{"kitten", "sitting", 1},
		{"a b c d", "b c d e", 2},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, editDistance(strings.Fields(tc.a), strings.Fields(tc.b)), "%q vs %q", tc.a, tc.b)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestEvaluator_BuiltinMetrics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	args := options.Values{
		"ref_file":  writeFile(t, dir, "ref.txt", "The cat sat\nhello world\n"),
		"hyp_file":  writeFile(t, dir, "hyp.txt", "the cat sat\nhello there\n"),
		"lowercase": true,
	}

	args["evaluator"] = "wer"
	s, err := Evaluator{}.Evaluate(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "wer", s.Metric())
	assert.InDelta(t, 1.0/5.0, s.Value(), 1e-9)

	args["evaluator"] = "BLEU"
	s, err = Evaluator{}.Evaluate(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "bleu", s.Metric())
}

func TestEvaluator_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := writeFile(t, dir, "ref.txt", "a b\nc d\n")
	hyp := writeFile(t, dir, "hyp.txt", "a b\n")

	testCases := []struct {
		name string
		args options.Values
		msg  string
	}{
		{name: "unknown metric", args: options.Values{"evaluator": "meteor", "ref_file": ref, "hyp_file": ref}, msg: `unknown evaluator "meteor"`},
		{name: "length mismatch", args: options.Values{"evaluator": "bleu", "ref_file": ref, "hyp_file": hyp}, msg: "has 1 lines"},
		{name: "missing file", args: options.Values{"evaluator": "bleu", "ref_file": ref, "hyp_file": filepath.Join(dir, "nope")}, msg: "nope"},
		{name: "no evaluator", args: options.Values{"ref_file": ref, "hyp_file": ref}, msg: "no evaluator"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Evaluator{}.Evaluate(context.Background(), tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestEvaluator_LuaScriptMetric(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "exact.lua", `
higher_is_better = true

function evaluate(hyps, refs)
  local hits = 0
  for i = 1, #refs do
    if table.concat(hyps[i], " ") == table.concat(refs[i], " ") then
      hits = hits + 1
    end
  end
  log("scored " .. #refs .. " sentences")
  return hits / #refs
end
`)
	args := options.Values{
		"evaluator":  "exact",
		"script_dir": dir,
		"ref_file":   writeFile(t, dir, "ref.txt", "a b\nc d\ne f\nx\n"),
		"hyp_file":   writeFile(t, dir, "hyp.txt", "a b\nc x\ne f\nx\n"),
	}

	s, err := Evaluator{}.Evaluate(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "exact", s.Metric())
	assert.InDelta(t, 0.75, s.Value(), 1e-9)
	assert.True(t, s.HigherIsBetter())
	assert.Equal(t, "EXACT: 0.7500", s.String())
}
