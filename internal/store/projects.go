package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"noteforge/api/internal/projectkey"
	"noteforge/api/internal/streak"
)

const projectColumns = `id, user_id, key, name, description, status, source_note_id, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var project Project
	var noteID sql.NullString
	err := row.Scan(
		&project.ID, &project.UserID, &project.Key, &project.Name, &project.Description,
		&project.Status, &noteID, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	if noteID.Valid {
		id := noteID.String
		project.SourceNoteID = &id
	}
	return project, nil
}

// ListProjectKeys returns every key with the given prefix across all users.
// Keys are globally unique.
func (s *PostgresStore) ListProjectKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM projects WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list project keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan project key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type execQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertProject(ctx context.Context, q execQueryer, project Project) (Project, error) {
	inserted, err := scanProject(q.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, key, name, description, status, source_note_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+projectColumns,
		project.ID, project.UserID, project.Key, project.Name, project.Description,
		defaultString(project.Status, ProjectActive), project.SourceNoteID,
	))
	if isUniqueViolation(err, "projects_key_unique") {
		return Project{}, fmt.Errorf("insert project %s: %w", project.Key, projectkey.ErrConflict)
	}
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO project_streaks (project_id) VALUES ($1)`, inserted.ID); err != nil {
		return Project{}, fmt.Errorf("init project streak: %w", err)
	}
	return inserted, nil
}

// InsertProject stores project with its key as given. A key collision is
// reported as projectkey.ErrConflict.
func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	var inserted Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = insertProject(ctx, tx, project)
		return err
	})
	return inserted, err
}

// CreateProjectFromNote inserts project and marks the source note converted in
// one transaction. ErrNoteConverted is returned when the note was already
// converted by a concurrent request.
func (s *PostgresStore) CreateProjectFromNote(ctx context.Context, project Project, noteID string) (Project, error) {
	var inserted Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM notes WHERE id=$1 AND user_id=$2 FOR UPDATE
		`, noteID, project.UserID).Scan(&status)
		if err != nil {
			return fmt.Errorf("lock note: %w", err)
		}
		if status == NoteConverted {
			return ErrNoteConverted
		}

		project.SourceNoteID = &noteID
		inserted, err = insertProject(ctx, tx, project)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE notes SET status=$2, project_id=$3, updated_at=NOW() WHERE id=$1
		`, noteID, NoteConverted, inserted.ID); err != nil {
			return fmt.Errorf("mark note converted: %w", err)
		}
		return nil
	})
	return inserted, err
}

func (s *PostgresStore) GetProject(ctx context.Context, userID, projectID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1 AND user_id=$2`, projectID, userID))
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE user_id=$1 ORDER BY created_at DESC, key
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) (Project, error) {
	updated, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET name=$3, description=$4, status=$5, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING `+projectColumns,
		project.ID, project.UserID, project.Name, project.Description, project.Status,
	))
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return updated, nil
}

// DeleteProject removes the project and reopens any note it was created from.
func (s *PostgresStore) DeleteProject(ctx context.Context, userID, projectID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND user_id=$2`, projectID, userID)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE notes SET status=$2, updated_at=NOW() WHERE user_id=$1 AND project_id IS NULL AND status=$3
		`, userID, NoteOpen, NoteConverted); err != nil {
			return fmt.Errorf("reopen notes: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetStreak(ctx context.Context, projectID string) (ProjectStreak, error) {
	return scanStreak(s.db.QueryRowContext(ctx, `
		SELECT project_id, current_streak, longest_streak, last_activity_at, updated_at
		FROM project_streaks WHERE project_id=$1
	`, projectID))
}

func (s *PostgresStore) ListStreaks(ctx context.Context, userID string) ([]ProjectStreak, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.project_id, ps.current_streak, ps.longest_streak, ps.last_activity_at, ps.updated_at
		FROM project_streaks ps
		JOIN projects p ON p.id = ps.project_id
		WHERE p.user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	defer rows.Close()

	streaks := make([]ProjectStreak, 0)
	for rows.Next() {
		item, err := scanStreak(rows)
		if err != nil {
			return nil, fmt.Errorf("scan streak: %w", err)
		}
		streaks = append(streaks, item)
	}
	return streaks, rows.Err()
}

func scanStreak(row rowScanner) (ProjectStreak, error) {
	var item ProjectStreak
	var last sql.NullTime
	if err := row.Scan(&item.ProjectID, &item.Current, &item.Longest, &last, &item.UpdatedAt); err != nil {
		return ProjectStreak{}, err
	}
	if last.Valid {
		at := last.Time
		item.LastActivity = &at
	}
	return item, nil
}

// RecordProjectActivity applies activity at now to the project streak while
// holding the row lock, so concurrent updates on the same day count once.
func (s *PostgresStore) RecordProjectActivity(ctx context.Context, projectID string, now time.Time, loc *time.Location) (ProjectStreak, streak.Outcome, error) {
	var result ProjectStreak
	var outcome streak.Outcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_streaks (project_id) VALUES ($1) ON CONFLICT (project_id) DO NOTHING
		`, projectID); err != nil {
			return fmt.Errorf("ensure streak row: %w", err)
		}
		current, err := scanStreak(tx.QueryRowContext(ctx, `
			SELECT project_id, current_streak, longest_streak, last_activity_at, updated_at
			FROM project_streaks WHERE project_id=$1 FOR UPDATE
		`, projectID))
		if err != nil {
			return fmt.Errorf("lock streak: %w", err)
		}

		var next streak.State
		next, outcome = streak.Apply(current.State, now, loc)
		result = ProjectStreak{ProjectID: projectID, State: next}
		return tx.QueryRowContext(ctx, `
			UPDATE project_streaks
			SET current_streak=$2, longest_streak=$3, last_activity_at=$4, updated_at=NOW()
			WHERE project_id=$1
			RETURNING updated_at
		`, projectID, next.Current, next.Longest, next.LastActivity).Scan(&result.UpdatedAt)
	})
	if err != nil {
		return ProjectStreak{}, "", fmt.Errorf("record project activity: %w", err)
	}
	return result, outcome, nil
}
