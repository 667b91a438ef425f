// Package lua runs user-supplied evaluation metrics written in Lua inside a
// sandboxed interpreter.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/xnmt/internal/ctxlog"
)

// Metric is a scripted evaluation metric. The script must define a global
// function evaluate(hyps, refs) returning a number, where hyps and refs are
// arrays of token arrays. It may set the global higher_is_better (default
// true).
type Metric struct {
	Name string
	Path string

	logs []string
}

// ScriptPath returns the path of the script implementing metric name.
func ScriptPath(dir, name string) string {
	return filepath.Join(dir, name+".lua")
}

// IsMetricScript reports whether a script for name exists in dir.
func IsMetricScript(dir, name string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(ScriptPath(dir, name))
	return err == nil
}

// NewMetric returns the metric implemented by the script at path.
func NewMetric(name, path string) *Metric {
	return &Metric{Name: name, Path: path}
}

// Evaluate runs the script against tokenized hypotheses and references. It
// returns the score and whether higher scores are better.
func (m *Metric) Evaluate(ctx context.Context, hyps, refs [][]string) (float64, bool, error) {
	script, err := os.ReadFile(m.Path)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read metric script")
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	m.openSafeLibs(L)
	L.SetGlobal("log", L.NewFunction(m.luaLog))

	if err := L.DoString(string(script)); err != nil {
		return 0, false, errors.Wrapf(err, "failed to load %s", m.Path)
	}

	fn := L.GetGlobal("evaluate")
	if fn.Type() != lua.LTFunction {
		return 0, false, errors.Errorf("%s must define an 'evaluate' function", m.Path)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		sentencesToTable(L, hyps), sentencesToTable(L, refs)); err != nil {
		return 0, false, errors.Wrapf(err, "metric %s failed", m.Name)
	}
	ret := L.Get(-1)
	L.Pop(1)
	score, ok := ret.(lua.LNumber)
	if !ok {
		return 0, false, errors.Errorf("metric %s returned %s, expected a number", m.Name, ret.Type())
	}

	higherIsBetter := true
	if v := L.GetGlobal("higher_is_better"); v != lua.LNil {
		higherIsBetter = lua.LVAsBool(v)
	}

	logger := ctxlog.FromContext(ctx)
	for _, line := range m.logs {
		logger.Info("Metric script log.", "metric", m.Name, "message", line)
	}
	m.logs = nil

	return float64(score), higherIsBetter, nil
}

// openSafeLibs loads the base, table, string and math libraries without
// file access, code loading or randomness.
func (m *Metric) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// luaLog implements log(message).
func (m *Metric) luaLog(L *lua.LState) int {
	m.logs = append(m.logs, L.CheckString(1))
	return 0
}

func sentencesToTable(L *lua.LState, sents [][]string) *lua.LTable {
	tbl := L.NewTable()
	for _, sent := range sents {
		row := L.NewTable()
		for _, tok := range sent {
			row.Append(lua.LString(tok))
		}
		tbl.Append(row)
	}
	return tbl
}

// String identifies the metric in logs.
func (m *Metric) String() string {
	return fmt.Sprintf("%s (%s)", m.Name, m.Path)
}
