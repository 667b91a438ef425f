package params

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Table is a named sparse parameter table.
type Table map[string]map[string]float64

// Collection stores the parameters of one model and persists the best
// checkpoint to the model file.
type Collection struct {
	mu        sync.Mutex
	modelFile string
	keep      int
	tables    map[string]Table
	bestScore *float64
	saved     int
}

type checkpoint struct {
	Score  *float64         `json:"score,omitempty"`
	Tables map[string]Table `json:"tables"`
}

// NewCollection returns an empty collection bound to modelFile. keep is the
// number of checkpoints retained on disk.
func NewCollection(modelFile string, keep int) *Collection {
	if keep < 1 {
		keep = 1
	}
	return &Collection{
		modelFile: modelFile,
		keep:      keep,
		tables:    make(map[string]Table),
	}
}

// ModelFile returns the file the collection persists to.
func (c *Collection) ModelFile() string {
	return c.modelFile
}

// Table returns the named table, creating it if needed.
func (c *Collection) Table(name string) Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		t = make(Table)
		c.tables[name] = t
	}
	return t
}

// SetTable replaces a named table.
func (c *Collection) SetTable(name string, t Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[name] = t
}

// Names returns the table names, sorted.
func (c *Collection) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BestScore returns the best recorded score, if any.
func (c *Collection) BestScore() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bestScore == nil {
		return 0, false
	}
	return *c.bestScore, true
}

// Checkpoint saves the current parameters if score (lower is better) beats
// the best recorded one. It reports whether a save happened.
func (c *Collection) Checkpoint(score float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bestScore != nil && score >= *c.bestScore {
		return false, nil
	}
	s := score
	c.bestScore = &s
	if err := c.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the current parameters unconditionally.
func (c *Collection) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Collection) saveLocked() error {
	if c.modelFile == "" {
		return errors.New("parameter collection has no model file")
	}
	if dir := filepath.Dir(c.modelFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create model directory")
		}
	}
	if c.keep > 1 && c.saved > 0 {
		c.rotateLocked()
	}
	data, err := json.Marshal(checkpoint{Score: c.bestScore, Tables: c.tables})
	if err != nil {
		return errors.Wrap(err, "failed to marshal parameters")
	}
	if err := os.WriteFile(c.modelFile, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write model file %s", c.modelFile)
	}
	c.saved++
	return nil
}

// rotateLocked shifts model.1 .. model.(keep-1) one slot down so the
// previous best survives as model.1.
func (c *Collection) rotateLocked() {
	for i := c.keep - 1; i >= 1; i-- {
		src := c.modelFile
		if i > 1 {
			src = c.modelFile + "." + strconv.Itoa(i-1)
		}
		_ = os.Rename(src, c.modelFile+"."+strconv.Itoa(i))
	}
}

// RevertToBest replaces the in-memory parameters with the best saved ones.
// A collection that never saved is left unchanged.
func (c *Collection) RevertToBest() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == 0 {
		return nil
	}
	return c.loadLocked()
}

// Load reads parameters from the model file.
func (c *Collection) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Collection) loadLocked() error {
	data, err := os.ReadFile(c.modelFile)
	if err != nil {
		return errors.Wrapf(err, "failed to read model file %s", c.modelFile)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return errors.Wrapf(err, "failed to parse model file %s", c.modelFile)
	}
	if cp.Tables == nil {
		cp.Tables = make(map[string]Table)
	}
	c.tables = cp.Tables
	c.bestScore = cp.Score
	return nil
}
