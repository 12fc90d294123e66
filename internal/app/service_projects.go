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
	"noteforge/api/internal/projectkey"
	"noteforge/api/internal/search"
	"noteforge/api/internal/store"
	"noteforge/api/internal/streak"
	"noteforge/api/internal/util"
)

type CreateProjectInput struct {
	Name          string `json:"name" validate:"required,max=120"`
	Description   string `json:"description" validate:"max=20000"`
	Key           string `json:"key"`
	GenerateTasks bool   `json:"generateTasks"`
}

type UpdateProjectInput struct {
	Name        *string `json:"name" validate:"omitnil,min=1,max=120"`
	Description *string `json:"description" validate:"omitnil,max=20000"`
	Status      *string `json:"status" validate:"omitnil,oneof=active paused completed archived"`
}

type GenerateTasksInput struct {
	Limit int `json:"limit" validate:"min=0,max=50"`
}

type CreateTaskInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high"`
	Status      string `json:"status" validate:"omitempty,oneof=todo in_progress done"`
}

type UpdateTaskInput struct {
	Title       *string `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string `json:"description" validate:"omitnil,max=5000"`
	Priority    *string `json:"priority" validate:"omitnil,oneof=low medium high"`
	Status      *string `json:"status" validate:"omitnil,oneof=todo in_progress done"`
	Position    *int    `json:"position" validate:"omitnil,min=0"`
}

type RiskInput struct {
	Description string `json:"description" validate:"required,max=2000"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high"`
	Mitigation  string `json:"mitigation" validate:"max=2000"`
}

type CreateScenarioInput struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description" validate:"max=20000"`
	Risks       []RiskInput `json:"risks" validate:"max=50,dive"`
}

type AnalyzeScenarioInput struct {
	Description string `json:"description" validate:"required,max=20000"`
}

func projectJSON(project store.Project, streakRow *store.ProjectStreak) map[string]any {
	item := map[string]any{
		"id":           project.ID,
		"key":          project.Key,
		"name":         project.Name,
		"description":  project.Description,
		"status":       project.Status,
		"sourceNoteId": project.SourceNoteID,
		"createdAt":    project.CreatedAt,
		"updatedAt":    project.UpdatedAt,
	}
	if streakRow != nil {
		item["streak"] = map[string]any{
			"current":      streakRow.Current,
			"longest":      streakRow.Longest,
			"lastActivity": streakRow.LastActivity,
		}
	}
	return item
}

func projectRecord(project store.Project) search.ProjectRecord {
	return search.ProjectRecord{
		ID:          project.ID,
		UserID:      project.UserID,
		Key:         project.Key,
		Name:        project.Name,
		Description: project.Description,
		Status:      project.Status,
	}
}

func taskJSON(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"projectId":   task.ProjectID,
		"title":       task.Title,
		"description": task.Description,
		"status":      task.Status,
		"priority":    task.Priority,
		"source":      task.Source,
		"position":    task.Position,
		"completedAt": task.CompletedAt,
		"createdAt":   task.CreatedAt,
		"updatedAt":   task.UpdatedAt,
	}
}

func tasksJSON(tasks []store.Task) []map[string]any {
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskJSON(task))
	}
	return items
}

func taskRecords(userID string, tasks []store.Task) []search.TaskRecord {
	records := make([]search.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, search.TaskRecord{
			ID:          task.ID,
			UserID:      userID,
			ProjectID:   task.ProjectID,
			Title:       task.Title,
			Description: task.Description,
			Status:      task.Status,
		})
	}
	return records
}

func (s *Service) streakJSON(row store.ProjectStreak) map[string]any {
	return map[string]any{
		"projectId":    row.ProjectID,
		"current":      row.Current,
		"longest":      row.Longest,
		"lastActivity": row.LastActivity,
		"active":       streak.Active(row.State, s.now(), s.loc),
	}
}

func scenarioJSON(scenario store.Scenario) map[string]any {
	risks := make([]map[string]any, 0, len(scenario.Risks))
	for _, risk := range scenario.Risks {
		risks = append(risks, map[string]any{
			"id":          risk.ID,
			"description": risk.Description,
			"severity":    risk.Severity,
			"mitigation":  risk.Mitigation,
			"position":    risk.Position,
			"taskId":      risk.TaskID,
		})
	}
	return map[string]any{
		"id":          scenario.ID,
		"projectId":   scenario.ProjectID,
		"title":       scenario.Title,
		"description": scenario.Description,
		"risks":       risks,
		"createdAt":   scenario.CreatedAt,
	}
}

func (s *Service) getProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, session.UserID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFound("Project")
	}
	return project, err
}

// allocateProject inserts project with either the explicit key or the lowest
// free one. Explicit keys are validated and tried once; generated keys are
// retried when a concurrent writer takes the same number.
func (s *Service) allocateProject(ctx context.Context, project store.Project, explicitKey string, insert func(store.Project) (store.Project, error)) (store.Project, error) {
	prefix := s.cfg.ProjectKeyPrefix
	if explicitKey != "" {
		if _, err := projectkey.Parse(prefix, explicitKey); err != nil {
			return store.Project{}, domainError(http.StatusUnprocessableEntity, "INVALID_KEY",
				fmt.Sprintf("key must look like %s", projectkey.Format(prefix, 1)), nil)
		}
		project.Key = explicitKey
		return insert(project)
	}

	var created store.Project
	_, err := projectkey.Assign(ctx, s.store, prefix, s.cfg.ProjectKeyAttempts, func(key string) error {
		project.Key = key
		var err error
		created, err = insert(project)
		return err
	}, func(key string, attempt int) {
		s.metrics.KeyRetry()
		s.logger.Info("project key taken, retrying", zap.String("key", key), zap.Int("attempt", attempt))
	})
	if err != nil {
		return store.Project{}, err
	}
	return created, nil
}

// recordActivity updates the project streak. Callers that create or finish
// tasks treat a failure here as non-fatal.
func (s *Service) recordActivity(ctx context.Context, projectID string) (store.ProjectStreak, streak.Outcome, error) {
	row, outcome, err := s.store.RecordProjectActivity(ctx, projectID, s.now(), s.loc)
	if err != nil {
		return store.ProjectStreak{}, "", err
	}
	s.metrics.StreakUpdate(string(outcome))
	return row, outcome, nil
}

func (s *Service) touchProject(ctx context.Context, projectID string) {
	if _, _, err := s.recordActivity(ctx, projectID); err != nil {
		s.logger.Warn("record project activity failed", zap.String("project_id", projectID), zap.Error(err))
	}
}

func (s *Service) ListProjects(ctx context.Context, session Session) (map[string]any, error) {
	projects, err := s.store.ListProjects(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	streaks, err := s.store.ListStreaks(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	byProject := make(map[string]store.ProjectStreak, len(streaks))
	for _, row := range streaks {
		byProject[row.ProjectID] = row
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		var row *store.ProjectStreak
		if found, ok := byProject[project.ID]; ok {
			row = &found
		}
		items = append(items, projectJSON(project, row))
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Key = strings.TrimSpace(input.Key)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	project, err := s.allocateProject(ctx, store.Project{
		ID:          util.NewID("prj"),
		UserID:      session.UserID,
		Name:        input.Name,
		Description: input.Description,
		Status:      store.ProjectActive,
	}, input.Key, func(p store.Project) (store.Project, error) {
		return s.store.InsertProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(projectRecord(project))
	}

	payload := map[string]any{"project": projectJSON(project, nil)}
	if input.GenerateTasks {
		tasks, err := s.generateTasks(ctx, project, 0)
		if err != nil {
			s.logger.Warn("generate tasks on create failed", zap.String("project_id", project.ID), zap.Error(err))
			payload["tasks"] = []map[string]any{}
			payload["taskError"] = err.Error()
		} else {
			payload["tasks"] = tasksJSON(tasks)
		}
	}
	return payload, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetStreak(ctx, project.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, project.ID, "")
	if err != nil {
		return nil, err
	}
	row.ProjectID = project.ID
	payload := projectJSON(project, &row)
	payload["tasks"] = tasksJSON(tasks)
	return payload, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input UpdateProjectInput) (map[string]any, error) {
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		input.Name = &trimmed
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		project.Name = *input.Name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Status != nil {
		project.Status = *input.Status
	}
	updated, err := s.store.UpdateProject(ctx, project)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Project")
	}
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(projectRecord(updated))
	}
	return projectJSON(updated, nil), nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, projectID, "")
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, session.UserID, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Project")
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
		for _, task := range tasks {
			s.search.DeleteTask(task.ID)
		}
	}
	return nil
}

// generateTasks asks the model for a breakdown of project and appends the
// drafts as AI tasks.
func (s *Service) generateTasks(ctx context.Context, project store.Project, limit int) ([]store.Task, error) {
	if !s.aiEnabled() {
		return nil, ai.ErrDisabled
	}
	drafts, err := s.ai.BreakdownTasks(ctx, project.Name, project.Description, limit)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return []store.Task{}, nil
	}
	tasks := make([]store.Task, 0, len(drafts))
	for _, draft := range drafts {
		tasks = append(tasks, store.Task{
			ID:          util.NewID("task"),
			Title:       draft.Title,
			Description: draft.Description,
			Priority:    draft.Priority,
			Status:      store.TaskTodo,
			Source:      store.TaskSourceAI,
		})
	}
	created, err := s.store.InsertTasks(ctx, project.ID, tasks)
	if err != nil {
		return nil, err
	}
	s.touchProject(ctx, project.ID)
	if s.search != nil {
		s.search.IndexTasks(taskRecords(project.UserID, created))
	}
	return created, nil
}

func (s *Service) GenerateTasks(ctx context.Context, session Session, projectID string, input GenerateTasksInput) (map[string]any, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(project.Description) == "" && strings.TrimSpace(project.Name) == "" {
		return nil, invalid("project needs a name or description to generate tasks")
	}
	tasks, err := s.generateTasks(ctx, project, input.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasksJSON(tasks)}, nil
}

// Tasks

func (s *Service) ListTasks(ctx context.Context, session Session, projectID, status string) (map[string]any, error) {
	switch status {
	case "", store.TaskTodo, store.TaskInProgress, store.TaskDone:
	default:
		return nil, invalid("status must be todo, in_progress or done")
	}
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, projectID, status)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasksJSON(tasks)}, nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, projectID string, input CreateTaskInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertTasks(ctx, project.ID, []store.Task{{
		ID:          util.NewID("task"),
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Status:      input.Status,
		Source:      store.TaskSourceManual,
	}})
	if err != nil {
		return nil, err
	}
	if len(created) != 1 {
		return nil, fmt.Errorf("insert task: expected 1 row, got %d", len(created))
	}
	s.touchProject(ctx, project.ID)
	if s.search != nil {
		s.search.IndexTasks(taskRecords(session.UserID, created))
	}
	return taskJSON(created[0]), nil
}

// UpdateTask applies a partial update. Moving a task into done counts as
// project activity; edits that leave it done do not.
func (s *Service) UpdateTask(ctx context.Context, session Session, projectID, taskID string, input UpdateTaskInput) (map[string]any, error) {
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, projectID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Task")
	}
	if err != nil {
		return nil, err
	}

	wasDone := task.Status == store.TaskDone
	if input.Title != nil {
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = strings.TrimSpace(*input.Description)
	}
	if input.Priority != nil {
		task.Priority = *input.Priority
	}
	if input.Status != nil {
		task.Status = *input.Status
	}
	if input.Position != nil {
		task.Position = *input.Position
	}

	updated, err := s.store.UpdateTask(ctx, task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Task")
	}
	if err != nil {
		return nil, err
	}
	if !wasDone && updated.Status == store.TaskDone {
		s.touchProject(ctx, projectID)
	}
	if s.search != nil {
		s.search.IndexTasks(taskRecords(session.UserID, []store.Task{updated}))
	}
	return taskJSON(updated), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, projectID, taskID string) error {
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, projectID, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Task")
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// Streaks

func (s *Service) GetStreak(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetStreak(ctx, project.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	row.ProjectID = project.ID
	return s.streakJSON(row), nil
}

func (s *Service) RecordActivity(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	row, outcome, err := s.recordActivity(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	payload := s.streakJSON(row)
	payload["outcome"] = string(outcome)
	return payload, nil
}

// Scenarios

func (s *Service) ListScenarios(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	scenarios, err := s.store.ListScenarios(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(scenarios))
	for _, scenario := range scenarios {
		items = append(items, scenarioJSON(scenario))
	}
	return map[string]any{"scenarios": items}, nil
}

func (s *Service) CreateScenario(ctx context.Context, session Session, projectID string, input CreateScenarioInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	for i := range input.Risks {
		input.Risks[i].Description = strings.TrimSpace(input.Risks[i].Description)
		input.Risks[i].Severity = strings.ToLower(strings.TrimSpace(input.Risks[i].Severity))
		input.Risks[i].Mitigation = strings.TrimSpace(input.Risks[i].Mitigation)
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	risks := make([]store.Risk, 0, len(input.Risks))
	for _, risk := range input.Risks {
		risks = append(risks, store.Risk{
			ID:          util.NewID("rsk"),
			Description: risk.Description,
			Severity:    ai.NormalizeLevel(risk.Severity),
			Mitigation:  risk.Mitigation,
		})
	}
	scenario, err := s.store.InsertScenario(ctx, store.Scenario{
		ID:          util.NewID("scn"),
		ProjectID:   projectID,
		Title:       input.Title,
		Description: input.Description,
		Risks:       risks,
	})
	if err != nil {
		return nil, err
	}
	return scenarioJSON(scenario), nil
}

func (s *Service) DeleteScenario(ctx context.Context, session Session, projectID, scenarioID string) error {
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteScenario(ctx, projectID, scenarioID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Scenario")
		}
		return err
	}
	return nil
}

// AnalyzeScenario proposes risks for a scenario description. Nothing is
// stored; the client saves the risks it keeps through CreateScenario.
func (s *Service) AnalyzeScenario(ctx context.Context, session Session, projectID string, input AnalyzeScenarioInput) (map[string]any, error) {
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	project, err := s.getProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if !s.aiEnabled() {
		return nil, ai.ErrDisabled
	}
	subject := project.Name
	if project.Description != "" {
		subject += "\n\n" + project.Description
	}
	drafts, err := s.ai.AnalyzeScenario(ctx, subject, input.Description)
	if err != nil {
		return nil, err
	}
	risks := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		risks = append(risks, map[string]any{
			"description": draft.Description,
			"severity":    draft.Severity,
			"mitigation":  draft.Mitigation,
		})
	}
	return map[string]any{"risks": risks}, nil
}

// riskTask builds the preventive task for a risk. The priority follows the
// severity.
func riskTask(risk store.Risk) store.Task {
	title := "Mitigate: " + risk.Description
	if utf8.RuneCountInString(title) > 200 {
		title = strings.TrimSpace(string([]rune(title)[:199])) + "…"
	}
	return store.Task{
		ID:          util.NewID("task"),
		Title:       title,
		Description: risk.Mitigation,
		Priority:    ai.NormalizeLevel(risk.Severity),
		Status:      store.TaskTodo,
	}
}

func (s *Service) ConvertScenario(ctx context.Context, session Session, projectID, scenarioID string) (map[string]any, error) {
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetScenario(ctx, projectID, scenarioID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Scenario")
		}
		return nil, err
	}
	created, err := s.store.ConvertScenarioRisks(ctx, projectID, scenarioID, riskTask)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		s.touchProject(ctx, projectID)
		if s.search != nil {
			s.search.IndexTasks(taskRecords(session.UserID, created))
		}
	}
	return map[string]any{"tasks": tasksJSON(created), "created": len(created)}, nil
}

// Dashboard

func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	counts, err := s.store.DashboardCounts(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	streaks, err := s.store.ListStreaks(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var best *store.ProjectStreak
	activeStreaks := 0
	for i := range streaks {
		row := streaks[i]
		if !streak.Active(row.State, now, s.loc) {
			continue
		}
		activeStreaks++
		if best == nil || row.Current > best.Current {
			best = &row
		}
	}

	payload := map[string]any{
		"notes":         counts.Notes,
		"openNotes":     counts.OpenNotes,
		"projects":      counts.Projects,
		"openTasks":     counts.OpenTasks,
		"doneTasks":     counts.DoneTasks,
		"activeStreaks": activeStreaks,
		"bestStreak":    nil,
	}
	if best != nil {
		payload["bestStreak"] = map[string]any{
			"projectId": best.ProjectID,
			"current":   best.Current,
			"longest":   best.Longest,
		}
	}
	return payload, nil
}
