package models

import "time"

type ExpStatus string

const (
	ExpStatusPending  ExpStatus = "pending"
	ExpStatusRunning  ExpStatus = "running"
	ExpStatusComplete ExpStatus = "complete"
	ExpStatusFailed   ExpStatus = "failed"
)

// Stage is a phase of the experiment pipeline.
type Stage string

const (
	StageSetup         Stage = "setup"
	StagePreprocessing Stage = "preprocessing"
	StageTraining      Stage = "training"
	StageDecoding      Stage = "decoding"
	StageEvaluating    Stage = "evaluating"
	StageDone          Stage = "done"
)

type Experiment struct {
	ID                 int64
	RunID              int64
	Name               string
	Status             ExpStatus
	Stage              Stage
	SequenceNum        int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Error              string
	RandomSearchReport string
	Scores             []Score
}

type Score struct {
	Metric      string
	Value       float64
	Display     string
	SequenceNum int
}
