package preproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/serializer"
	"github.com/mpataki/xnmt/internal/spec"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func strList(items ...string) *spec.List {
	l := &spec.List{}
	for _, s := range items {
		l.Items = append(l.Items, spec.Str(s))
	}
	return l
}

func step(typ string, in, out []string, extra map[string]any) *spec.Object {
	fields := spec.NewMapping()
	fields.Set("in_files", strList(in...))
	fields.Set("out_files", strList(out...))
	for k, v := range extra {
		fields.Set(k, &spec.Scalar{Value: v})
	}
	return &spec.Object{Type: typ, Fields: fields}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Hello", ",", "world", "!"}, tokenize("Hello, world!"))
	assert.Equal(t, []string{"(", "a", ")", "b"}, tokenize("  (a) b "))
	assert.Empty(t, tokenize("   "))
}

func TestPreprocess_RunsStepsInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	trg := filepath.Join(dir, "trg.txt")
	require.NoError(t, os.WriteFile(src, []byte("Hello,  World!\nA very long sentence here\nok\n"), 0600))
	require.NoError(t, os.WriteFile(trg, []byte("Hallo, Welt!\nein Satz\n\n"), 0600))

	norm := []string{filepath.Join(dir, "norm.src"), filepath.Join(dir, "norm.trg")}
	tok := []string{filepath.Join(dir, "tok.src"), filepath.Join(dir, "tok.trg")}
	filt := []string{filepath.Join(dir, "out", "filt.src"), filepath.Join(dir, "out", "filt.trg")}

	reg := serializer.NewRegistry()
	Register(reg)
	specs := &spec.List{Items: []spec.Node{
		step("Normalize", []string{src, trg}, norm, nil),
		step("Tokenize", norm, tok, nil),
		step("FilterLength", tok, filt, map[string]any{"max_len": 4}),
	}}
	stage := spec.NewMapping()
	stage.Set("overwrite", &spec.Scalar{Value: false})
	stage.Set("preproc_specs", specs)

	vals, err := reg.Initialize(stage, nil)
	require.NoError(t, err)

	err = Preprocessor{}.Preprocess(context.Background(), vals.(options.Values))
	require.NoError(t, err)

	assert.Equal(t, "hello, world!\na very long sentence here\nok\n", readFile(t, norm[0]))
	assert.Equal(t, "hello , world !\na very long sentence here\nok\n", readFile(t, tok[0]))
	// Line 2 is too long on the source side and line 3 is empty on the target side.
	assert.Equal(t, "hello , world !\n", readFile(t, filt[0]))
	assert.Equal(t, "hallo , welt !\n", readFile(t, filt[1]))
}

func TestPreprocess_SkipsExistingOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("NEW\n"), 0600))
	require.NoError(t, os.WriteFile(out, []byte("old\n"), 0600))

	reg := serializer.NewRegistry()
	Register(reg)

	build := func() any {
		v, err := reg.Initialize(step("Normalize", []string{in}, []string{out}, nil), nil)
		require.NoError(t, err)
		return v
	}

	err := Preprocessor{}.Preprocess(context.Background(), options.Values{
		"overwrite":     false,
		"preproc_specs": []any{build()},
	})
	require.NoError(t, err)
	assert.Equal(t, "old\n", readFile(t, out))

	err = Preprocessor{}.Preprocess(context.Background(), options.Values{
		"overwrite":     true,
		"preproc_specs": []any{build()},
	})
	require.NoError(t, err)
	assert.Equal(t, "new\n", readFile(t, out))
}

func TestPreprocess_NoSteps(t *testing.T) {
	t.Parallel()

	err := Preprocessor{}.Preprocess(context.Background(), options.Values{"overwrite": false})
	assert.NoError(t, err)
}

func TestPreprocess_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := Preprocessor{}.Preprocess(context.Background(), options.Values{
		"preproc_specs": []any{"not a step"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preproc_specs[0]")

	reg := serializer.NewRegistry()
	Register(reg)
	_, err = reg.Initialize(step("Tokenize", []string{"a", "b"}, []string{"c"}, nil), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in_files has 2 entries")

	missing, err := reg.Initialize(step("Tokenize", []string{filepath.Join(dir, "missing")}, []string{filepath.Join(dir, "o")}, nil), nil)
	require.NoError(t, err)
	err = Preprocessor{}.Preprocess(context.Background(), options.Values{"preproc_specs": []any{missing}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}
