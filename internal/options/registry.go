package options

import (
	"fmt"
	"strings"
)

// Registry maps task names to their ordered option sets. It is populated at
// startup and read afterwards.
type Registry struct {
	order []string
	tasks map[string]*taskOptions
}

type taskOptions struct {
	order   []string
	options map[string]Option
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*taskOptions)}
}

// AddTask registers a task. Registering the same name again replaces its
// options but keeps its original position.
func (r *Registry) AddTask(name string, opts []Option) {
	t := &taskOptions{options: make(map[string]Option, len(opts))}
	for _, o := range opts {
		if _, dup := t.options[o.Name]; !dup {
			t.order = append(t.order, o.Name)
		}
		t.options[o.Name] = o
	}
	if _, exists := r.tasks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tasks[name] = t
}

// AddOption appends an option to an already registered task.
func (r *Registry) AddOption(task string, o Option) error {
	t, ok := r.tasks[task]
	if !ok {
		return &NotFoundError{Task: task}
	}
	if _, dup := t.options[o.Name]; !dup {
		t.order = append(t.order, o.Name)
	}
	t.options[o.Name] = o
	return nil
}

// RemoveOption deletes an option. It fails if the task or option is absent.
func (r *Registry) RemoveOption(task, option string) error {
	t, ok := r.tasks[task]
	if !ok {
		return &NotFoundError{Task: task, Option: option}
	}
	if _, ok := t.options[option]; !ok {
		return &NotFoundError{Task: task, Option: option}
	}
	delete(t.options, option)
	for i, name := range t.order {
		if name == option {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// TaskNames returns the registered task names in registration order.
func (r *Registry) TaskNames() []string {
	return append([]string(nil), r.order...)
}

// HasTask reports whether a task is registered.
func (r *Registry) HasTask(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

// Options returns the options of a task in registration order.
func (r *Registry) Options(task string) ([]Option, error) {
	t, ok := r.tasks[task]
	if !ok {
		return nil, &NotFoundError{Task: task}
	}
	out := make([]Option, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.options[name])
	}
	return out, nil
}

// Lookup returns a single option.
func (r *Registry) Lookup(task, option string) (Option, bool) {
	t, ok := r.tasks[task]
	if !ok {
		return Option{}, false
	}
	o, ok := t.options[option]
	return o, ok
}

// ApplyDefaults fills every absent option that carries a default.
func (r *Registry) ApplyDefaults(task string, vals Values) error {
	opts, err := r.Options(task)
	if err != nil {
		return err
	}
	for _, o := range opts {
		if _, ok := vals[o.Name]; !ok && o.Default != nil {
			vals[o.Name] = o.Default
		}
	}
	return nil
}

// Validate checks vals against the task's options and converts each value to
// its declared type in place. Keys listed in skip are required to be present
// only by the caller's own logic.
func (r *Registry) Validate(task string, vals Values, skip ...string) error {
	opts, err := r.Options(task)
	if err != nil {
		return err
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	for key := range vals {
		if _, ok := r.Lookup(task, key); !ok {
			return &UnknownOptionError{Task: task, Option: key}
		}
	}
	for _, o := range opts {
		v, ok := vals[o.Name]
		if !ok || v == nil {
			if o.Required && !skipped[o.Name] {
				return &MissingOptionError{Task: task, Option: o.Name}
			}
			continue
		}
		converted, err := o.Convert(v)
		if err != nil {
			return err
		}
		vals[o.Name] = converted
	}
	return nil
}

// GenerateDocumentation renders a markdown table per task, in registration
// order. Required options are shown in bold.
func (r *Registry) GenerateDocumentation() string {
	var lines []string
	for _, task := range r.order {
		lines = append(lines, "## "+task, "")
		lines = append(lines, "| Name | Description | Type | Default value |")
		lines = append(lines, "|------|-------------|------|---------------|")
		opts, _ := r.Options(task)
		for _, o := range opts {
			name := o.Name
			if o.Required {
				name = "**" + name + "**"
			}
			def := ""
			if o.Default != nil {
				def = fmt.Sprint(o.Default)
			}
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s |", name, o.Help, o.Type, def))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
