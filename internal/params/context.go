// Package params holds the execution context shared by every object built
// for one training run, most importantly the persistent parameter collection
// bound to the experiment's model file.
package params

// BackendSettings carries process-wide numeric backend flags.
type BackendSettings struct {
	Mem         int
	Seed        int
	Autobatch   int
	Devices     string
	Viz         bool
	GPU         bool
	GPUIDs      int
	GPUs        int
	WeightDecay float64
}

// Context is injected into every constructed object of one training run.
type Context struct {
	Params  *Collection
	Backend BackendSettings
}

// NewContext binds a context to a model file.
func NewContext(modelFile string, backend BackendSettings) *Context {
	return &Context{
		Params:  NewCollection(modelFile, 1),
		Backend: backend,
	}
}
