package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultNote    ResultType = "note"
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
)

// ParseResultType accepts an empty filter or one of the known types.
func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "", ResultNote, ResultProject, ResultTask:
		return ResultType(value), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
}

// Query describes a search request. UserID is mandatory: results are always
// restricted to one owner.
type Query struct {
	Text       string
	UserID     string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexNotes(notes []NoteRecord) error
	IndexProjects(projects []ProjectRecord) error
	IndexTasks(tasks []TaskRecord) error
	DeleteNote(id string) error
	DeleteProject(id string) error
	DeleteTask(id string) error
}

type NoteRecord struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

type ProjectRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type TaskRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Records is a full snapshot used for reindexing.
type Records struct {
	Notes    []NoteRecord
	Projects []ProjectRecord
	Tasks    []TaskRecord
}
