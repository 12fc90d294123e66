package store

import (
	"context"
	"database/sql"
	"fmt"
)

const noteColumns = `id, user_id, title, content, summary, summary_status, source, status, project_id, created_at, updated_at`

func scanNote(row rowScanner) (Note, error) {
	var note Note
	var projectID sql.NullString
	err := row.Scan(
		&note.ID, &note.UserID, &note.Title, &note.Content, &note.Summary, &note.SummaryStatus,
		&note.Source, &note.Status, &projectID, &note.CreatedAt, &note.UpdatedAt,
	)
	if err != nil {
		return Note{}, err
	}
	if projectID.Valid {
		id := projectID.String
		note.ProjectID = &id
	}
	return note, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, summary, summary_status, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+noteColumns,
		note.ID, note.UserID, note.Title, note.Content, note.Summary,
		defaultString(note.SummaryStatus, SummaryNone), defaultString(note.Source, SourceWeb), defaultString(note.Status, NoteOpen),
	)
	inserted, err := scanNote(row)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, userID, noteID string) (Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1 AND user_id=$2`, noteID, userID))
}

func (s *PostgresStore) ListNotes(ctx context.Context, userID string, filter NoteFilter) ([]Note, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notes WHERE user_id=$1 AND ($2 = '' OR status = $2)
	`, userID, filter.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE user_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, userID, filter.Status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, total, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) (Note, error) {
	updated, err := scanNote(s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET title=$3, content=$4, summary=$5, summary_status=$6, status=$7, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING `+noteColumns,
		note.ID, note.UserID, note.Title, note.Content, note.Summary, note.SummaryStatus, note.Status,
	))
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) UpdateNoteSummary(ctx context.Context, noteID, summary, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET summary=$2, summary_status=$3, updated_at=NOW() WHERE id=$1
	`, noteID, summary, status)
	if err != nil {
		return fmt.Errorf("update note summary: %w", err)
	}
	return expectAffected(res)
}

func (s *PostgresStore) DeleteNote(ctx context.Context, userID, noteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1 AND user_id=$2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return expectAffected(res)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
