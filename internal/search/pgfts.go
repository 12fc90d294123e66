package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const headline = `'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'`

// buildQuery returns the count and data statements for q. $1 is the query
// text and $2 the owner.
func buildQuery(q Query) (countSQL, dataSQL string) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := max(q.Offset, 0)
	tsQuery := "plainto_tsquery('english', $1)"

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultNote {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('english', coalesce(nullif(n.summary, ''), n.content), %[1]s, %[2]s) AS snippet,
				coalesce(n.project_id, '') AS project_id,
				ts_rank(n.fts, %[1]s) AS rank
			FROM notes n
			WHERE n.user_id = $2 AND n.fts @@ %[1]s`, tsQuery, headline))
	}
	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.key || ' ' || p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %[1]s, %[2]s) AS snippet,
				p.id AS project_id,
				ts_rank(p.fts, %[1]s) AS rank
			FROM projects p
			WHERE p.user_id = $2 AND p.fts @@ %[1]s`, tsQuery, headline))
	}
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %[1]s, %[2]s) AS snippet,
				t.project_id,
				ts_rank(t.fts, %[1]s) AS rank
			FROM tasks t
			JOIN projects p ON p.id = t.project_id
			WHERE p.user_id = $2 AND t.fts @@ %[1]s`, tsQuery, headline))
	}
	if len(subQueries) == 0 {
		return "", ""
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL = fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL = fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)
	return countSQL, dataSQL
}

// Search executes a UNION ALL query across notes, projects and tasks using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}
	countSQL, dataSQL := buildQuery(q)
	if countSQL == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text, q.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text, q.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (Records, error) {
	var records Records

	noteRows, err := p.db.QueryContext(ctx, `SELECT id, user_id, title, summary, content, status FROM notes`)
	if err != nil {
		return Records{}, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.UserID, &n.Title, &n.Summary, &n.Content, &n.Status); err != nil {
			return Records{}, fmt.Errorf("scan note: %w", err)
		}
		records.Notes = append(records.Notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return Records{}, fmt.Errorf("iterate notes: %w", err)
	}

	projectRows, err := p.db.QueryContext(ctx, `SELECT id, user_id, key, name, description, status FROM projects`)
	if err != nil {
		return Records{}, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()
	for projectRows.Next() {
		var pr ProjectRecord
		if err := projectRows.Scan(&pr.ID, &pr.UserID, &pr.Key, &pr.Name, &pr.Description, &pr.Status); err != nil {
			return Records{}, fmt.Errorf("scan project: %w", err)
		}
		records.Projects = append(records.Projects, pr)
	}
	if err := projectRows.Err(); err != nil {
		return Records{}, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, p.user_id, t.project_id, t.title, t.description, t.status
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
	`)
	if err != nil {
		return Records{}, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.UserID, &t.ProjectID, &t.Title, &t.Description, &t.Status); err != nil {
			return Records{}, fmt.Errorf("scan task: %w", err)
		}
		records.Tasks = append(records.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return Records{}, fmt.Errorf("iterate tasks: %w", err)
	}

	return records, nil
}
