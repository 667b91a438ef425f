package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/mpataki/xnmt/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		config_path TEXT NOT NULL,
		requested TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		stage TEXT,
		sequence_num INTEGER NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error TEXT,
		random_search_report TEXT,
		UNIQUE(run_id, sequence_num)
	);

	CREATE TABLE IF NOT EXISTS scores (
		experiment_id INTEGER NOT NULL REFERENCES experiments(id),
		sequence_num INTEGER NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		display TEXT,
		PRIMARY KEY (experiment_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_experiments_run ON experiments(run_id);
	`

	_, err := s.db.Exec(schema)
	return errors.Wrap(err, "failed to migrate history database")
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	requested, err := json.Marshal(run.Requested)
	if err != nil {
		return 0, err
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (config_path, requested, status) VALUES (?, ?, ?)`,
		run.ConfigPath, string(requested), run.Status,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, config_path, requested, status, error
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var requested, runErr sql.NullString

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.ConfigPath,
		&requested, &run.Status, &runErr,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if requested.Valid && requested.String != "" {
		if err := json.Unmarshal([]byte(requested.String), &run.Requested); err != nil {
			return nil, errors.Wrap(err, "failed to decode requested experiments")
		}
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	return &run, nil
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, error = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.Error, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, config_path, requested, status, error
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) CreateExperiment(exp *models.Experiment) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO experiments (run_id, name, status, stage, sequence_num, started_at, completed_at, error, random_search_report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.RunID, exp.Name, exp.Status, exp.Stage, exp.SequenceNum,
		exp.StartedAt, exp.CompletedAt, exp.Error, exp.RandomSearchReport,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateExperiment(exp *models.Experiment) error {
	_, err := s.db.Exec(
		`UPDATE experiments SET status = ?, stage = ?, started_at = ?, completed_at = ?, error = ?, random_search_report = ?
		 WHERE id = ?`,
		exp.Status, exp.Stage, exp.StartedAt, exp.CompletedAt, exp.Error, exp.RandomSearchReport, exp.ID,
	)
	return err
}

// AddScore appends a score to an experiment. Scores keep their insertion
// order.
func (s *Storage) AddScore(experimentID int64, score models.Score) error {
	_, err := s.db.Exec(
		`INSERT INTO scores (experiment_id, sequence_num, metric, value, display) VALUES (?, ?, ?, ?, ?)`,
		experimentID, score.SequenceNum, score.Metric, score.Value, score.Display,
	)
	return err
}

func (s *Storage) GetExperimentsForRun(runID int64) ([]*models.Experiment, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, name, status, stage, sequence_num, started_at, completed_at, error, random_search_report
		 FROM experiments WHERE run_id = ? ORDER BY sequence_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*models.Experiment
	for rows.Next() {
		var exp models.Experiment
		var stage, expErr, report sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&exp.ID, &exp.RunID, &exp.Name, &exp.Status, &stage, &exp.SequenceNum,
			&startedAt, &completedAt, &expErr, &report,
		)
		if err != nil {
			return nil, err
		}

		if stage.Valid {
			exp.Stage = models.Stage(stage.String)
		}
		if startedAt.Valid {
			exp.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exp.CompletedAt = &completedAt.Time
		}
		if expErr.Valid {
			exp.Error = expErr.String
		}
		if report.Valid {
			exp.RandomSearchReport = report.String
		}

		exps = append(exps, &exp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, exp := range exps {
		scores, err := s.getScores(exp.ID)
		if err != nil {
			return nil, err
		}
		exp.Scores = scores
	}
	return exps, nil
}

func (s *Storage) getScores(experimentID int64) ([]models.Score, error) {
	rows, err := s.db.Query(
		`SELECT sequence_num, metric, value, display FROM scores WHERE experiment_id = ? ORDER BY sequence_num`,
		experimentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.Score
	for rows.Next() {
		var sc models.Score
		var display sql.NullString
		if err := rows.Scan(&sc.SequenceNum, &sc.Metric, &sc.Value, &display); err != nil {
			return nil, err
		}
		if display.Valid {
			sc.Display = display.String
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scores WHERE experiment_id IN (SELECT id FROM experiments WHERE run_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM experiments WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// Helper to format time for display
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
