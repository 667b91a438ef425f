// Package workspace manages the per-experiment output files: the stdout and
// stderr mirrors and the optional copy of the configuration file.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Files names the per-experiment outputs.
type Files struct {
	OutFile string
	ErrFile string
	CfgFile string
}

// Workspace holds the open output mirrors of one experiment.
type Workspace struct {
	Stdout io.Writer
	Stderr io.Writer

	out    *os.File
	err    *os.File
	indent *indentWriter
}

// Create opens the output mirrors. Everything written to Stdout and Stderr
// goes both to the given terminal writers and to the files.
func Create(files Files, stdout, stderr io.Writer) (*Workspace, error) {
	out, err := openFile(files.OutFile)
	if err != nil {
		return nil, err
	}
	errFile, err := openFile(files.ErrFile)
	if err != nil {
		out.Close()
		return nil, err
	}

	w := &Workspace{out: out, err: errFile}
	w.indent = &indentWriter{w: io.MultiWriter(stdout, out), bol: true}
	w.Stdout = w.indent
	w.Stderr = io.MultiWriter(stderr, errFile)
	return w, nil
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("output file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	return f, nil
}

// Indent changes the indentation of Stdout by delta spaces.
func (w *Workspace) Indent(delta int) {
	w.indent.level += delta
	if w.indent.level < 0 {
		w.indent.level = 0
	}
}

// Printf writes a progress line to Stdout.
func (w *Workspace) Printf(format string, args ...any) {
	fmt.Fprintf(w.Stdout, format, args...)
}

// Close closes both mirror files. It is safe to call more than once.
func (w *Workspace) Close() error {
	var first error
	for _, f := range []**os.File{&w.out, &w.err} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && first == nil {
			first = err
		}
		*f = nil
	}
	return first
}

// CopyConfig copies the configuration file to dst.
func CopyConfig(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(dst, data, 0644), "failed to write %s", dst)
}

// indentWriter prefixes every line with level spaces.
type indentWriter struct {
	w     io.Writer
	level int
	bol   bool
}

func (iw *indentWriter) Write(p []byte) (int, error) {
	if iw.level == 0 {
		if len(p) > 0 {
			iw.bol = p[len(p)-1] == '\n'
		}
		return iw.w.Write(p)
	}
	prefix := strings.Repeat(" ", iw.level)
	var b strings.Builder
	for _, c := range string(p) {
		if iw.bol {
			b.WriteString(prefix)
			iw.bol = false
		}
		b.WriteRune(c)
		if c == '\n' {
			iw.bol = true
		}
	}
	if _, err := io.WriteString(iw.w, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}
