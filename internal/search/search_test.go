package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryScopesEverySubqueryToOwner(t *testing.T) {
	countSQL, dataSQL := buildQuery(Query{Text: "garden", UserID: "usr_1"})
	require.NotEmpty(t, countSQL)
	assert.Equal(t, 3, strings.Count(dataSQL, "user_id = $2"))
	assert.Contains(t, dataSQL, "FROM notes n")
	assert.Contains(t, dataSQL, "FROM projects p")
	assert.Contains(t, dataSQL, "FROM tasks t")
	assert.Contains(t, dataSQL, "LIMIT 20 OFFSET 0")
}

func TestBuildQueryFiltersType(t *testing.T) {
	_, dataSQL := buildQuery(Query{Text: "x", UserID: "u", FilterType: ResultTask, Limit: 5, Offset: 10})
	assert.NotContains(t, dataSQL, "FROM notes n")
	assert.Contains(t, dataSQL, "FROM tasks t")
	assert.Contains(t, dataSQL, "LIMIT 5 OFFSET 10")
}

func TestBuildMultiSearchAddsOwnerFilter(t *testing.T) {
	queries := buildMultiSearch(Query{Text: "x", UserID: "usr_1", FilterType: ResultProject})
	require.Len(t, queries, 1)
	assert.Equal(t, idxProjects, queries[0].IndexUID)
	assert.Equal(t, []string{`userId = "usr_1"`}, queries[0].Filter)
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":         raw("task_1"),
		"projectId":  raw("prj_1"),
		"title":      raw("Water plants"),
		"_formatted": raw(map[string]any{"title": "<mark>Water</mark> plants", "description": ""}),
	}
	r := hitToResult(hit, ResultTask)
	assert.Equal(t, Result{Type: ResultTask, ID: "task_1", Title: "<mark>Water</mark> plants", ProjectID: "prj_1"}, r)
}

func TestParseResultType(t *testing.T) {
	_, ok := ParseResultType("project")
	assert.True(t, ok)
	_, ok = ParseResultType("document")
	assert.False(t, ok)
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "x", UserID: "u"})
	assert.NotNil(t, resp.Results)
	assert.Zero(t, resp.Total)

	_, err := svc.ReindexAllFromPG(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
