package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const taskColumns = `id, project_id, title, description, status, priority, source, position, completed_at, created_at, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var completed sql.NullTime
	err := row.Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.Source, &task.Position, &completed, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	if completed.Valid {
		at := completed.Time
		task.CompletedAt = &at
	}
	return task, nil
}

func insertTasks(ctx context.Context, tx *sql.Tx, projectID string, tasks []Task) ([]Task, error) {
	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE project_id=$1
	`, projectID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next task position: %w", err)
	}

	inserted := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (id, project_id, title, description, status, priority, source, position, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CASE WHEN $5 = 'done' THEN NOW() END)
			RETURNING `+taskColumns,
			task.ID, projectID, task.Title, task.Description,
			defaultString(task.Status, TaskTodo), defaultString(task.Priority, "medium"),
			defaultString(task.Source, TaskSourceManual), next,
		)
		created, err := scanTask(row)
		if err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		inserted = append(inserted, created)
		next++
	}
	return inserted, nil
}

// InsertTasks appends tasks to the end of the project's list in one
// transaction.
func (s *PostgresStore) InsertTasks(ctx context.Context, projectID string, tasks []Task) ([]Task, error) {
	var inserted []Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Serialize position allocation per project.
		if _, err := tx.ExecContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, projectID); err != nil {
			return fmt.Errorf("lock project: %w", err)
		}
		var err error
		inserted, err = insertTasks(ctx, tx, projectID, tasks)
		return err
	})
	return inserted, err
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID, status string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY position, created_at
	`, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND project_id=$2`, taskID, projectID))
}

// UpdateTask writes the editable fields. completed_at follows the status:
// set when the task first becomes done, cleared when it leaves done.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	updated, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title=$3, description=$4, status=$5, priority=$6, position=$7,
			completed_at = CASE
				WHEN $5 = 'done' THEN COALESCE(completed_at, NOW())
				ELSE NULL
			END,
			updated_at=NOW()
		WHERE id=$1 AND project_id=$2
		RETURNING `+taskColumns,
		task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority, task.Position,
	))
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, projectID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND project_id=$2`, taskID, projectID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(res)
}

const scenarioColumns = `id, project_id, title, description, created_at`
const riskColumns = `id, scenario_id, description, severity, mitigation, position, task_id`

func scanRisk(row rowScanner) (Risk, error) {
	var risk Risk
	var taskID sql.NullString
	if err := row.Scan(&risk.ID, &risk.ScenarioID, &risk.Description, &risk.Severity, &risk.Mitigation, &risk.Position, &taskID); err != nil {
		return Risk{}, err
	}
	if taskID.Valid {
		id := taskID.String
		risk.TaskID = &id
	}
	return risk, nil
}

func (s *PostgresStore) InsertScenario(ctx context.Context, scenario Scenario) (Scenario, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO scenarios (id, project_id, title, description) VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, scenario.ID, scenario.ProjectID, scenario.Title, scenario.Description).Scan(&scenario.CreatedAt); err != nil {
			return fmt.Errorf("insert scenario: %w", err)
		}
		for i := range scenario.Risks {
			risk := &scenario.Risks[i]
			risk.ScenarioID = scenario.ID
			risk.Position = i
			risk.Severity = defaultString(risk.Severity, "medium")
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO scenario_risks (id, scenario_id, description, severity, mitigation, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, risk.ID, scenario.ID, risk.Description, risk.Severity, risk.Mitigation, i); err != nil {
				return fmt.Errorf("insert scenario risk: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Scenario{}, err
	}
	return scenario, nil
}

func (s *PostgresStore) GetScenario(ctx context.Context, projectID, scenarioID string) (Scenario, error) {
	var scenario Scenario
	err := s.db.QueryRowContext(ctx, `
		SELECT `+scenarioColumns+` FROM scenarios WHERE id=$1 AND project_id=$2
	`, scenarioID, projectID).Scan(&scenario.ID, &scenario.ProjectID, &scenario.Title, &scenario.Description, &scenario.CreatedAt)
	if err != nil {
		return Scenario{}, err
	}
	risks, err := s.listRisks(ctx, s.db, []string{scenario.ID})
	if err != nil {
		return Scenario{}, err
	}
	scenario.Risks = risks[scenario.ID]
	return scenario, nil
}

func (s *PostgresStore) ListScenarios(ctx context.Context, projectID string) ([]Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scenarioColumns+` FROM scenarios WHERE project_id=$1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := make([]Scenario, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var scenario Scenario
		if err := rows.Scan(&scenario.ID, &scenario.ProjectID, &scenario.Title, &scenario.Description, &scenario.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		scenarios = append(scenarios, scenario)
		ids = append(ids, scenario.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	if len(ids) == 0 {
		return scenarios, nil
	}

	risks, err := s.listRisks(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range scenarios {
		scenarios[i].Risks = risks[scenarios[i].ID]
	}
	return scenarios, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) listRisks(ctx context.Context, q queryer, scenarioIDs []string) (map[string][]Risk, error) {
	placeholders := make([]string, len(scenarioIDs))
	args := make([]any, len(scenarioIDs))
	for i, id := range scenarioIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+riskColumns+`
		FROM scenario_risks
		WHERE scenario_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY scenario_id, position
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list scenario risks: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Risk, len(scenarioIDs))
	for rows.Next() {
		risk, err := scanRisk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario risk: %w", err)
		}
		out[risk.ScenarioID] = append(out[risk.ScenarioID], risk)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteScenario(ctx context.Context, projectID, scenarioID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id=$1 AND project_id=$2`, scenarioID, projectID)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	return expectAffected(res)
}

// ConvertScenarioRisks turns every risk without a task into a task built by
// toTask and links the two. Risks converted earlier are skipped, so calling it
// twice creates no duplicates. The returned tasks are the new ones only.
func (s *PostgresStore) ConvertScenarioRisks(ctx context.Context, projectID, scenarioID string, toTask func(Risk) Task) ([]Task, error) {
	var created []Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, projectID); err != nil {
			return fmt.Errorf("lock project: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT r.id, r.scenario_id, r.description, r.severity, r.mitigation, r.position, r.task_id
			FROM scenario_risks r
			JOIN scenarios sc ON sc.id = r.scenario_id
			WHERE r.scenario_id=$1 AND sc.project_id=$2 AND r.task_id IS NULL
			ORDER BY r.position
			FOR UPDATE OF r
		`, scenarioID, projectID)
		if err != nil {
			return fmt.Errorf("load open risks: %w", err)
		}
		pending := make([]Risk, 0)
		for rows.Next() {
			risk, err := scanRisk(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan risk: %w", err)
			}
			pending = append(pending, risk)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate risks: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		drafts := make([]Task, len(pending))
		for i, risk := range pending {
			drafts[i] = toTask(risk)
			drafts[i].Source = TaskSourceScenario
		}
		created, err = insertTasks(ctx, tx, projectID, drafts)
		if err != nil {
			return err
		}
		for i, risk := range pending {
			if _, err := tx.ExecContext(ctx, `UPDATE scenario_risks SET task_id=$2 WHERE id=$1`, risk.ID, created[i].ID); err != nil {
				return fmt.Errorf("link risk task: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ProjectReport loads a project with its tasks, streak and scenarios.
func (s *PostgresStore) ProjectReport(ctx context.Context, userID, projectID string) (ProjectReport, error) {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return ProjectReport{}, err
	}
	tasks, err := s.ListTasks(ctx, projectID, "")
	if err != nil {
		return ProjectReport{}, err
	}
	streakRow, err := s.GetStreak(ctx, projectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ProjectReport{}, fmt.Errorf("load streak: %w", err)
	}
	scenarios, err := s.ListScenarios(ctx, projectID)
	if err != nil {
		return ProjectReport{}, err
	}
	return ProjectReport{Project: project, Tasks: tasks, Streak: streakRow, Scenarios: scenarios}, nil
}
