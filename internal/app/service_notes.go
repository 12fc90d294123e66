package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/history"
	"noteforge/api/internal/search"
	"noteforge/api/internal/store"
	"noteforge/api/internal/util"
)

const (
	maxTitleRunes = 80
	historyLimit  = 50
)

type CreateNoteInput struct {
	Title     string `json:"title" validate:"max=200"`
	Content   string `json:"content" validate:"required,max=20000"`
	Summarize bool   `json:"summarize"`
}

type UpdateNoteInput struct {
	Title   *string `json:"title" validate:"omitnil,max=200"`
	Content *string `json:"content" validate:"omitnil,min=1,max=20000"`
	Status  *string `json:"status" validate:"omitnil,oneof=open archived"`
}

type ConvertNoteInput struct {
	Name          string `json:"name" validate:"max=120"`
	Key           string `json:"key"`
	GenerateTasks bool   `json:"generateTasks"`
}

func noteJSON(note store.Note) map[string]any {
	return map[string]any{
		"id":            note.ID,
		"title":         note.Title,
		"content":       note.Content,
		"summary":       note.Summary,
		"summaryStatus": note.SummaryStatus,
		"source":        note.Source,
		"status":        note.Status,
		"projectId":     note.ProjectID,
		"createdAt":     note.CreatedAt,
		"updatedAt":     note.UpdatedAt,
	}
}

// deriveTitle returns the first non-blank line of content, cut to
// maxTitleRunes.
func deriveTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = strings.TrimSpace(string([]rune(line)[:maxTitleRunes]))
		}
		return line
	}
	return "Untitled note"
}

func noteContent(note store.Note) history.Content {
	return history.Content{Title: note.Title, Content: note.Content, Summary: note.Summary}
}

func noteRecord(note store.Note) search.NoteRecord {
	return search.NoteRecord{
		ID:      note.ID,
		UserID:  note.UserID,
		Title:   note.Title,
		Summary: note.Summary,
		Content: note.Content,
		Status:  note.Status,
	}
}

func (s *Service) getNote(ctx context.Context, session Session, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, session.UserID, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, notFound("Note")
	}
	return note, err
}

func (s *Service) ListNotes(ctx context.Context, session Session, status string, limit, offset int) (map[string]any, error) {
	switch status {
	case "", store.NoteOpen, store.NoteConverted, store.NoteArchived:
	default:
		return nil, invalid("status must be open, converted or archived")
	}
	notes, total, err := s.store.ListNotes(ctx, session.UserID, store.NoteFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, noteJSON(note))
	}
	return map[string]any{"notes": items, "total": total}, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, input CreateNoteInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Content = strings.TrimSpace(input.Content)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	note, err := s.createNote(ctx, session.UserID, session.UserName, input, store.SourceWeb)
	if err != nil {
		return nil, err
	}
	return noteJSON(note), nil
}

// createNote stores the note before summarizing it, so an AI failure only
// leaves summaryStatus=failed behind.
func (s *Service) createNote(ctx context.Context, userID, author string, input CreateNoteInput, source string) (store.Note, error) {
	title := input.Title
	if title == "" {
		title = deriveTitle(input.Content)
	}
	note, err := s.store.InsertNote(ctx, store.Note{
		ID:            util.NewID("note"),
		UserID:        userID,
		Title:         title,
		Content:       input.Content,
		SummaryStatus: store.SummaryNone,
		Source:        source,
		Status:        store.NoteOpen,
	})
	if err != nil {
		return store.Note{}, err
	}

	if s.history != nil {
		if err := s.history.EnsureNoteRepo(note.ID, noteContent(note), author); err != nil {
			s.logger.Warn("init note history failed", zap.String("note_id", note.ID), zap.Error(err))
		}
	}

	if input.Summarize && s.aiEnabled() {
		if note, err = s.applySummary(ctx, note, author); err != nil {
			s.logger.Error("save note summary failed", zap.String("note_id", note.ID), zap.Error(err))
		}
	}
	if s.search != nil {
		s.search.IndexNote(noteRecord(note))
	}
	return note, nil
}

// applySummary asks the model for a summary and persists the outcome. A model
// failure is recorded on the note; only store failures are returned.
func (s *Service) applySummary(ctx context.Context, note store.Note, author string) (store.Note, error) {
	summary, err := s.ai.Summarize(ctx, note.Title, note.Content)
	if err != nil {
		s.logger.Warn("summarize note failed", zap.String("note_id", note.ID), zap.Error(err))
		if err := s.store.UpdateNoteSummary(ctx, note.ID, note.Summary, store.SummaryFailed); err != nil {
			return note, fmt.Errorf("mark summary failed: %w", err)
		}
		note.SummaryStatus = store.SummaryFailed
		return note, nil
	}
	if err := s.store.UpdateNoteSummary(ctx, note.ID, summary, store.SummaryReady); err != nil {
		return note, fmt.Errorf("store summary: %w", err)
	}
	note.Summary = summary
	note.SummaryStatus = store.SummaryReady
	s.commitNote(note, author, "Summarize note")
	return note, nil
}

func (s *Service) commitNote(note store.Note, author, message string) {
	if s.history == nil {
		return
	}
	if _, _, err := s.history.CommitNote(note.ID, noteContent(note), author, message); err != nil {
		s.logger.Warn("commit note history failed", zap.String("note_id", note.ID), zap.Error(err))
	}
}

func (s *Service) GetNote(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.getNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	return noteJSON(note), nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input UpdateNoteInput) (map[string]any, error) {
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if input.Content != nil {
		trimmed := strings.TrimSpace(*input.Content)
		input.Content = &trimmed
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}
	note, err := s.getNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	if input.Content != nil {
		note.Content = *input.Content
	}
	if input.Title != nil {
		note.Title = *input.Title
		if note.Title == "" {
			note.Title = deriveTitle(note.Content)
		}
	}
	if input.Status != nil {
		if note.Status == store.NoteConverted {
			return nil, domainError(http.StatusConflict, "NOTE_CONVERTED", "A converted note cannot change status", nil)
		}
		note.Status = *input.Status
	}

	updated, err := s.store.UpdateNote(ctx, note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Note")
	}
	if err != nil {
		return nil, err
	}
	s.commitNote(updated, session.UserName, "Update note")
	if s.search != nil {
		s.search.IndexNote(noteRecord(updated))
	}
	return noteJSON(updated), nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	if err := s.store.DeleteNote(ctx, session.UserID, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Note")
		}
		return err
	}
	if s.history != nil {
		if err := s.history.Remove(noteID); err != nil {
			s.logger.Warn("remove note history failed", zap.String("note_id", noteID), zap.Error(err))
		}
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

// SummarizeNote regenerates the summary on demand. Unlike note creation, a
// model failure is reported to the caller after the note is marked failed.
func (s *Service) SummarizeNote(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	if !s.aiEnabled() {
		return nil, ai.ErrDisabled
	}
	note, err := s.getNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	note, err = s.applySummary(ctx, note, session.UserName)
	if err != nil {
		return nil, err
	}
	if note.SummaryStatus != store.SummaryReady {
		return nil, domainError(http.StatusBadGateway, "AI_FAILED", "Summary could not be generated", noteJSON(note))
	}
	if s.search != nil {
		s.search.IndexNote(noteRecord(note))
	}
	return noteJSON(note), nil
}

// ConvertNote turns a note into a project. The description is the summary
// when one exists, otherwise the note content.
func (s *Service) ConvertNote(ctx context.Context, session Session, noteID string, input ConvertNoteInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Key = strings.TrimSpace(input.Key)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	note, err := s.getNote(ctx, session, noteID)
	if err != nil {
		return nil, err
	}
	if note.Status == store.NoteConverted {
		return nil, store.ErrNoteConverted
	}

	name := input.Name
	if name == "" {
		name = note.Title
	}
	description := note.Content
	if strings.TrimSpace(note.Summary) != "" {
		description = note.Summary
	}

	project, err := s.allocateProject(ctx, store.Project{
		ID:          util.NewID("prj"),
		UserID:      session.UserID,
		Name:        name,
		Description: description,
		Status:      store.ProjectActive,
	}, input.Key, func(p store.Project) (store.Project, error) {
		return s.store.CreateProjectFromNote(ctx, p, note.ID)
	})
	if err != nil {
		return nil, err
	}

	note.Status = store.NoteConverted
	note.ProjectID = &project.ID
	if s.search != nil {
		s.search.IndexNote(noteRecord(note))
		s.search.IndexProject(projectRecord(project))
	}

	payload := map[string]any{
		"project": projectJSON(project, nil),
		"note":    noteJSON(note),
	}
	if input.GenerateTasks {
		tasks, err := s.generateTasks(ctx, project, 0)
		if err != nil {
			s.logger.Warn("generate tasks on convert failed", zap.String("project_id", project.ID), zap.Error(err))
			payload["tasks"] = []map[string]any{}
			payload["taskError"] = err.Error()
		} else {
			payload["tasks"] = tasksJSON(tasks)
		}
	}
	return payload, nil
}

func (s *Service) NoteHistory(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	if _, err := s.getNote(ctx, session, noteID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return map[string]any{"commits": []history.CommitInfo{}}, nil
	}
	commits, err := s.history.History(noteID, historyLimit)
	if errors.Is(err, history.ErrNoRepo) {
		return map[string]any{"commits": []history.CommitInfo{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load note history: %w", err)
	}
	return map[string]any{"commits": commits}, nil
}

func (s *Service) NoteRevision(ctx context.Context, session Session, noteID, hash string) (map[string]any, error) {
	if _, err := s.getNote(ctx, session, noteID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, history.ErrNoRepo
	}
	content, commit, changes, err := s.history.Revision(noteID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"commit":  commit,
		"content": content,
		"changes": changes,
	}, nil
}
