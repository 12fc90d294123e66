package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger.Named("search")}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.UserID == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexNote indexes a note (fire-and-forget to Meilisearch).
func (s *Service) IndexNote(n NoteRecord) {
	s.async("index note", n.ID, func() error { return s.meili.IndexNotes([]NoteRecord{n}) })
}

// IndexProject indexes a project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(p ProjectRecord) {
	s.async("index project", p.ID, func() error { return s.meili.IndexProjects([]ProjectRecord{p}) })
}

// IndexTasks indexes tasks (fire-and-forget to Meilisearch).
func (s *Service) IndexTasks(tasks []TaskRecord) {
	if len(tasks) == 0 {
		return
	}
	s.async("index tasks", tasks[0].ProjectID, func() error { return s.meili.IndexTasks(tasks) })
}

func (s *Service) DeleteNote(id string) {
	s.async("delete note", id, func() error { return s.meili.DeleteNote(id) })
}

func (s *Service) DeleteProject(id string) {
	s.async("delete project", id, func() error { return s.meili.DeleteProject(id) })
}

func (s *Service) DeleteTask(id string) {
	s.async("delete task", id, func() error { return s.meili.DeleteTask(id) })
}

func (s *Service) async(op, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			s.logger.Warn("meilisearch write failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record to Meilisearch and reports how many were sent.
func (s *Service) ReindexAll(records Records) (int, error) {
	if !s.meiliReady() {
		return 0, ErrUnavailable
	}
	if err := s.meili.IndexNotes(records.Notes); err != nil {
		return 0, err
	}
	if err := s.meili.IndexProjects(records.Projects); err != nil {
		return 0, err
	}
	if err := s.meili.IndexTasks(records.Tasks); err != nil {
		return 0, err
	}
	return len(records.Notes) + len(records.Projects) + len(records.Tasks), nil
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if !s.meiliReady() || s.pgfts == nil {
		return 0, ErrUnavailable
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	count, err := s.ReindexAll(records)
	if err != nil {
		return 0, err
	}
	s.logger.Info("reindexed search", zap.Int("records", count))
	return count, nil
}

// Healthy reports whether Meilisearch is reachable. PG FTS is always available.
func (s *Service) Healthy() bool {
	return s.meiliReady()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
