package options

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.AddTask("train", []Option{
		New("epochs", Int),
		New("learning_rate", Float, WithDefault(0.1)),
		New("trainer", String, WithDefault("sgd"), Help("Optimizer")),
	})
	reg.AddTask("decode", []Option{
		New("src_file", String),
		New("trg_file", String, Required(false)),
	})
	return reg
}

func TestNew_RequiredDerivation(t *testing.T) {
	t.Parallel()

	assert.True(t, New("a", String).Required, "no default means required")
	assert.False(t, New("b", String, WithDefault("x")).Required, "a default makes it optional")
	assert.False(t, New("c", String, Required(false)).Required)
	assert.True(t, New("d", String, WithDefault("x"), Required(true)).Required, "explicit flag wins")
}

func TestRemoveOption_NotFoundLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	before, err := reg.Options("train")
	require.NoError(t, err)

	err = reg.RemoveOption("train", "nonexistent")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "nonexistent")

	after, err := reg.Options("train")
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("registry changed after failed removal (-before +after):\n%s", diff)
	}
}

func TestRemoveOption_UnknownTask(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	err := reg.RemoveOption("nope", "epochs")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRemoveOption_KeepsOrder(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	require.NoError(t, reg.RemoveOption("train", "learning_rate"))

	opts, err := reg.Options("train")
	require.NoError(t, err)
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Name
	}
	assert.Equal(t, []string{"epochs", "trainer"}, names)
}

func TestAddTask_ReplaceKeepsPosition(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	reg.AddTask("train", []Option{New("epochs", Int)})
	reg.AddTask("evaluate", nil)

	assert.Equal(t, []string{"train", "decode", "evaluate"}, reg.TaskNames())
	opts, err := reg.Options("train")
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		task    string
		vals    Values
		skip    []string
		wantErr any
		want    Values
	}{
		{
			name: "converts values",
			task: "train",
			vals: Values{"epochs": 3.0, "learning_rate": 1},
			want: Values{"epochs": 3, "learning_rate": 1.0},
		},
		{
			name:    "unknown option",
			task:    "train",
			vals:    Values{"epochs": 1, "momentum": 0.9},
			wantErr: &UnknownOptionError{},
		},
		{
			name:    "missing required",
			task:    "decode",
			vals:    Values{},
			wantErr: &MissingOptionError{},
		},
		{
			name: "skipped required",
			task: "train",
			vals: Values{},
			skip: []string{"epochs"},
			want: Values{},
		},
		{
			name:    "bad type",
			task:    "train",
			vals:    Values{"epochs": "three"},
			wantErr: &TypeError{},
		},
		{
			name:    "fractional int",
			task:    "train",
			vals:    Values{"epochs": 2.5},
			wantErr: &TypeError{},
		},
		{
			name:    "int out of range",
			task:    "train",
			vals:    Values{"epochs": 1e19},
			wantErr: &TypeError{},
		},
		{
			name:    "unregistered task",
			task:    "preproc",
			vals:    Values{},
			wantErr: &NotFoundError{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reg := newTestRegistry()
			err := reg.Validate(tc.task, tc.vals, tc.skip...)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.IsType(t, tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, tc.vals)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	vals := Values{"trainer": "adam"}
	require.NoError(t, reg.ApplyDefaults("train", vals))

	assert.Equal(t, Values{"trainer": "adam", "learning_rate": 0.1}, vals)
}

func TestGenerateDocumentation(t *testing.T) {
	t.Parallel()

	doc := newTestRegistry().GenerateDocumentation()

	assert.Contains(t, doc, "## train")
	assert.Contains(t, doc, "## decode")
	assert.Contains(t, doc, "| Name | Description | Type | Default value |")
	assert.Contains(t, doc, "| **epochs** |  | int |  |")
	assert.Contains(t, doc, "| trainer | Optimizer | str | sgd |")
	assert.Contains(t, doc, "| trg_file |  | str |  |")
	assert.Less(t, strings.Index(doc, "## train"), strings.Index(doc, "## decode"))
}

func TestValues_Accessors(t *testing.T) {
	t.Parallel()

	v := Values{"s": "x", "n": 2, "f": 1, "b": true, "l": []any{"a", "b"}}

	s, err := v.String("s")
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	n, err := v.Int("n")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := v.Float("f")
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	b, err := v.Bool("b")
	require.NoError(t, err)
	assert.True(t, b)

	l, err := v.Strings("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, l)

	missing, err := v.String("missing")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = v.Bool("s")
	assert.Error(t, err)
}

func TestIntFromFloat(t *testing.T) {
	t.Parallel()

	n, ok := IntFromFloat(-42)
	assert.True(t, ok)
	assert.Equal(t, -42, n)

	for _, f := range []float64{0.5, 1e19, -1e19, math.Inf(1), math.NaN()} {
		_, ok := IntFromFloat(f)
		assert.False(t, ok, "%v", f)
	}
}
