package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mpataki/xnmt/internal/models"
)

// ExperimentNotFoundError is returned when requested experiments are missing
// from the configuration. No experiment runs in that case.
type ExperimentNotFoundError struct {
	Names []string
}

func (e *ExperimentNotFoundError) Error() string {
	return fmt.Sprintf("experiments %s do not exist", strings.Join(e.Names, ","))
}

// StageError is a failure inside one stage of one experiment. It aborts
// that experiment only.
type StageError struct {
	Experiment string
	Stage      models.Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("experiment %s: %s failed: %v", e.Experiment, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
