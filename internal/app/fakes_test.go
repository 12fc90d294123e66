package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/auth"
	"noteforge/api/internal/config"
	"noteforge/api/internal/history"
	"noteforge/api/internal/projectkey"
	"noteforge/api/internal/search"
	sessionstore "noteforge/api/internal/session"
	"noteforge/api/internal/store"
	"noteforge/api/internal/streak"
)

const testSecret = "test-secret"

// fakeStore keeps everything in memory. The Fn fields override single
// methods for failure-path tests.
type fakeStore struct {
	mu        sync.Mutex
	users     []store.User
	resets    map[string]string
	refresh   map[string]string
	revoked   map[string]bool
	notes     []store.Note
	projects  []store.Project
	streaks   map[string]store.ProjectStreak
	tasks     []store.Task
	scenarios []store.Scenario
	pingErr   error

	insertProjectFn  func(context.Context, store.Project) (store.Project, error)
	recordActivityFn func(context.Context, string) (store.ProjectStreak, streak.Outcome, error)
	activityCalls    int
	listTasksCalls   int
	summaryErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		resets:  map[string]string{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		streaks: map[string]store.ProjectStreak{},
	}
}

func (f *fakeStore) addUser(t *testing.T, id, email, password string, verified bool) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{
		ID:              id,
		DisplayName:     strings.Split(email, "@")[0],
		Email:           email,
		PasswordHash:    string(hash),
		Role:            "member",
		IsEmailVerified: verified,
		CreatedAt:       time.Now(),
	}
	f.mu.Lock()
	f.users = append(f.users, user)
	f.mu.Unlock()
	return user
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) findUser(match func(store.User) bool) (int, bool) {
	for i, user := range f.users {
		if match(user) {
			return i, true
		}
	}
	return -1, false
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return strings.EqualFold(u.Email, email) })
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[i], nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return u.ID == id })
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[i], nil
}

func (f *fakeStore) GetUserByTelegramChat(_ context.Context, chatID int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return u.TelegramChatID != nil && *u.TelegramChatID == chatID })
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[i], nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.findUser(func(u store.User) bool { return strings.EqualFold(u.Email, user.Email) }); ok {
		return store.ErrEmailTaken
	}
	user.CreatedAt = time.Now()
	f.users = append(f.users, user)
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return u.ID == userID })
	if !ok {
		return sql.ErrNoRows
	}
	f.users[i].VerificationToken = token
	f.users[i].VerificationExpiresAt = &expiresAt
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return token != "" && u.VerificationToken == token })
	if !ok {
		return sql.ErrNoRows
	}
	f.users[i].IsEmailVerified = true
	f.users[i].VerificationToken = ""
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.findUser(func(u store.User) bool { return u.ID == userID })
	if !ok {
		return sql.ErrNoRows
	}
	f.users[i].PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) LinkTelegramChat(_ context.Context, userID string, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.findUser(func(u store.User) bool {
		return u.ID != userID && u.TelegramChatID != nil && *u.TelegramChatID == chatID
	}); taken {
		return store.ErrChatLinked
	}
	i, ok := f.findUser(func(u store.User) bool { return u.ID == userID })
	if !ok {
		return sql.ErrNoRows
	}
	f.users[i].TelegramChatID = &chatID
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	userID, ok := f.refresh[tokenHash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Notes

func (f *fakeStore) InsertNote(_ context.Context, note store.Note) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	note.CreatedAt, note.UpdatedAt = now, now
	f.notes = append(f.notes, note)
	return note, nil
}

func (f *fakeStore) noteIndex(userID, noteID string) int {
	for i, note := range f.notes {
		if note.ID == noteID && note.UserID == userID {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetNote(_ context.Context, userID, noteID string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.noteIndex(userID, noteID)
	if i < 0 {
		return store.Note{}, sql.ErrNoRows
	}
	return f.notes[i], nil
}

func (f *fakeStore) ListNotes(_ context.Context, userID string, filter store.NoteFilter) ([]store.Note, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.Note
	for i := len(f.notes) - 1; i >= 0; i-- {
		note := f.notes[i]
		if note.UserID != userID || (filter.Status != "" && note.Status != filter.Status) {
			continue
		}
		matched = append(matched, note)
	}
	total := len(matched)
	if filter.Offset >= len(matched) {
		return []store.Note{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeStore) UpdateNote(_ context.Context, note store.Note) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.noteIndex(note.UserID, note.ID)
	if i < 0 {
		return store.Note{}, sql.ErrNoRows
	}
	note.UpdatedAt = time.Now()
	f.notes[i] = note
	return note, nil
}

func (f *fakeStore) UpdateNoteSummary(_ context.Context, noteID, summary, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return f.summaryErr
	}
	for i := range f.notes {
		if f.notes[i].ID == noteID {
			f.notes[i].Summary = summary
			f.notes[i].SummaryStatus = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteNote(_ context.Context, userID, noteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.noteIndex(userID, noteID)
	if i < 0 {
		return sql.ErrNoRows
	}
	f.notes = append(f.notes[:i], f.notes[i+1:]...)
	return nil
}

// Projects

func (f *fakeStore) ListProjectKeys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := []string{}
	for _, project := range f.projects {
		if strings.HasPrefix(project.Key, prefix) {
			keys = append(keys, project.Key)
		}
	}
	return keys, nil
}

func (f *fakeStore) insertProject(project store.Project) (store.Project, error) {
	for _, existing := range f.projects {
		if existing.Key == project.Key {
			return store.Project{}, projectkey.ErrConflict
		}
	}
	now := time.Now()
	project.CreatedAt, project.UpdatedAt = now, now
	f.projects = append(f.projects, project)
	return project, nil
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) (store.Project, error) {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, project)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertProject(project)
}

func (f *fakeStore) CreateProjectFromNote(_ context.Context, project store.Project, noteID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.noteIndex(project.UserID, noteID)
	if i < 0 {
		return store.Project{}, sql.ErrNoRows
	}
	if f.notes[i].Status == store.NoteConverted {
		return store.Project{}, store.ErrNoteConverted
	}
	project.SourceNoteID = &noteID
	created, err := f.insertProject(project)
	if err != nil {
		return store.Project{}, err
	}
	f.notes[i].Status = store.NoteConverted
	f.notes[i].ProjectID = &created.ID
	return created, nil
}

func (f *fakeStore) projectIndex(userID, projectID string) int {
	for i, project := range f.projects {
		if project.ID == projectID && project.UserID == userID {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetProject(_ context.Context, userID, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.projectIndex(userID, projectID)
	if i < 0 {
		return store.Project{}, sql.ErrNoRows
	}
	return f.projects[i], nil
}

func (f *fakeStore) ListProjects(_ context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	projects := []store.Project{}
	for _, project := range f.projects {
		if project.UserID == userID {
			projects = append(projects, project)
		}
	}
	return projects, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, project store.Project) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.projectIndex(project.UserID, project.ID)
	if i < 0 {
		return store.Project{}, sql.ErrNoRows
	}
	project.UpdatedAt = time.Now()
	f.projects[i] = project
	return project, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, userID, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.projectIndex(userID, projectID)
	if i < 0 {
		return sql.ErrNoRows
	}
	f.projects = append(f.projects[:i], f.projects[i+1:]...)
	return nil
}

// Streaks

func (f *fakeStore) GetStreak(_ context.Context, projectID string) (store.ProjectStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.streaks[projectID]
	if !ok {
		return store.ProjectStreak{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeStore) ListStreaks(_ context.Context, userID string) ([]store.ProjectStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := []store.ProjectStreak{}
	for _, project := range f.projects {
		if row, ok := f.streaks[project.ID]; ok && project.UserID == userID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeStore) RecordProjectActivity(ctx context.Context, projectID string, now time.Time, loc *time.Location) (store.ProjectStreak, streak.Outcome, error) {
	f.mu.Lock()
	f.activityCalls++
	fn := f.recordActivityFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, projectID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	next, outcome := streak.Apply(f.streaks[projectID].State, now, loc)
	row := store.ProjectStreak{ProjectID: projectID, State: next, UpdatedAt: now}
	f.streaks[projectID] = row
	return row, outcome, nil
}

// Tasks

func (f *fakeStore) InsertTasks(_ context.Context, projectID string, tasks []store.Task) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertTasks(projectID, tasks), nil
}

func (f *fakeStore) insertTasks(projectID string, tasks []store.Task) []store.Task {
	position := 0
	for _, task := range f.tasks {
		if task.ProjectID == projectID && task.Position >= position {
			position = task.Position + 1
		}
	}
	created := make([]store.Task, 0, len(tasks))
	for _, task := range tasks {
		task.ProjectID = projectID
		task.Position = position
		position++
		if task.Status == "" {
			task.Status = store.TaskTodo
		}
		if task.Priority == "" {
			task.Priority = "medium"
		}
		if task.Source == "" {
			task.Source = store.TaskSourceManual
		}
		task.CreatedAt = time.Now()
		task.UpdatedAt = task.CreatedAt
		f.tasks = append(f.tasks, task)
		created = append(created, task)
	}
	return created
}

func (f *fakeStore) ListTasks(_ context.Context, projectID, status string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listTasksCalls++
	tasks := []store.Task{}
	for _, task := range f.tasks {
		if task.ProjectID == projectID && (status == "" || task.Status == status) {
			tasks = append(tasks, task)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Position < tasks[j].Position })
	return tasks, nil
}

func (f *fakeStore) taskIndex(projectID, taskID string) int {
	for i, task := range f.tasks {
		if task.ID == taskID && task.ProjectID == projectID {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetTask(_ context.Context, projectID, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.taskIndex(projectID, taskID)
	if i < 0 {
		return store.Task{}, sql.ErrNoRows
	}
	return f.tasks[i], nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task store.Task) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.taskIndex(task.ProjectID, task.ID)
	if i < 0 {
		return store.Task{}, sql.ErrNoRows
	}
	if task.Status == store.TaskDone && task.CompletedAt == nil {
		now := time.Now()
		task.CompletedAt = &now
	}
	if task.Status != store.TaskDone {
		task.CompletedAt = nil
	}
	task.UpdatedAt = time.Now()
	f.tasks[i] = task
	return task, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, projectID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.taskIndex(projectID, taskID)
	if i < 0 {
		return sql.ErrNoRows
	}
	f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
	return nil
}

// Scenarios

func (f *fakeStore) InsertScenario(_ context.Context, scenario store.Scenario) (store.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scenario.CreatedAt = time.Now()
	for i := range scenario.Risks {
		scenario.Risks[i].ScenarioID = scenario.ID
		scenario.Risks[i].Position = i
	}
	f.scenarios = append(f.scenarios, scenario)
	return scenario, nil
}

func (f *fakeStore) scenarioIndex(projectID, scenarioID string) int {
	for i, scenario := range f.scenarios {
		if scenario.ID == scenarioID && scenario.ProjectID == projectID {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetScenario(_ context.Context, projectID, scenarioID string) (store.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.scenarioIndex(projectID, scenarioID)
	if i < 0 {
		return store.Scenario{}, sql.ErrNoRows
	}
	return f.scenarios[i], nil
}

func (f *fakeStore) ListScenarios(_ context.Context, projectID string) ([]store.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scenarios := []store.Scenario{}
	for _, scenario := range f.scenarios {
		if scenario.ProjectID == projectID {
			scenarios = append(scenarios, scenario)
		}
	}
	return scenarios, nil
}

func (f *fakeStore) DeleteScenario(_ context.Context, projectID, scenarioID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.scenarioIndex(projectID, scenarioID)
	if i < 0 {
		return sql.ErrNoRows
	}
	f.scenarios = append(f.scenarios[:i], f.scenarios[i+1:]...)
	return nil
}

func (f *fakeStore) ConvertScenarioRisks(_ context.Context, projectID, scenarioID string, toTask func(store.Risk) store.Task) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.scenarioIndex(projectID, scenarioID)
	if i < 0 {
		return nil, sql.ErrNoRows
	}
	created := []store.Task{}
	for r := range f.scenarios[i].Risks {
		risk := f.scenarios[i].Risks[r]
		if risk.TaskID != nil {
			continue
		}
		task := toTask(risk)
		task.Source = store.TaskSourceScenario
		inserted := f.insertTasks(projectID, []store.Task{task})[0]
		f.scenarios[i].Risks[r].TaskID = &inserted.ID
		created = append(created, inserted)
	}
	return created, nil
}

func (f *fakeStore) DashboardCounts(_ context.Context, userID string) (store.DashboardCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts store.DashboardCounts
	owned := map[string]bool{}
	for _, note := range f.notes {
		if note.UserID != userID {
			continue
		}
		counts.Notes++
		if note.Status == store.NoteOpen {
			counts.OpenNotes++
		}
	}
	for _, project := range f.projects {
		if project.UserID == userID {
			counts.Projects++
			owned[project.ID] = true
		}
	}
	for _, task := range f.tasks {
		if !owned[task.ProjectID] {
			continue
		}
		if task.Status == store.TaskDone {
			counts.DoneTasks++
		} else {
			counts.OpenTasks++
		}
	}
	return counts, nil
}

// fakeAI answers with canned results; a non-nil err fails every call.
type fakeAI struct {
	summary string
	drafts  []ai.TaskDraft
	risks   []ai.RiskDraft
	err     error
	calls   int
}

func (f *fakeAI) Enabled() bool { return true }

func (f *fakeAI) Summarize(context.Context, string, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func (f *fakeAI) BreakdownTasks(_ context.Context, _, _ string, limit int) ([]ai.TaskDraft, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.drafts) {
		return f.drafts[:limit], nil
	}
	return f.drafts, nil
}

func (f *fakeAI) AnalyzeScenario(context.Context, string, string) ([]ai.RiskDraft, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.risks, nil
}

type fakeHistory struct {
	commits map[string][]history.CommitInfo
}

func (f *fakeHistory) EnsureNoteRepo(noteID string, _ history.Content, author string) error {
	if f.commits == nil {
		f.commits = map[string][]history.CommitInfo{}
	}
	f.commits[noteID] = append(f.commits[noteID], history.CommitInfo{Hash: "init", Message: "Create note", Author: author})
	return nil
}

func (f *fakeHistory) CommitNote(noteID string, _ history.Content, author, message string) (history.CommitInfo, bool, error) {
	commit := history.CommitInfo{Hash: "c" + strings.Repeat("0", len(f.commits[noteID])), Message: message, Author: author}
	f.commits[noteID] = append([]history.CommitInfo{commit}, f.commits[noteID]...)
	return commit, true, nil
}

func (f *fakeHistory) History(noteID string, _ int) ([]history.CommitInfo, error) {
	commits, ok := f.commits[noteID]
	if !ok {
		return nil, history.ErrNoRepo
	}
	return commits, nil
}

func (f *fakeHistory) Revision(noteID, hash string) (history.Content, history.CommitInfo, []history.FieldChange, error) {
	for _, commit := range f.commits[noteID] {
		if commit.Hash == hash {
			return history.Content{}, commit, nil, nil
		}
	}
	return history.Content{}, history.CommitInfo{}, nil, history.ErrRevisionNotFound
}

func (f *fakeHistory) Remove(noteID string) error {
	delete(f.commits, noteID)
	return nil
}

type fakeSearch struct {
	mu       sync.Mutex
	notes    []string
	projects []string
	tasks    []string
	deleted  []string
	lastQ    search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return search.Response{Results: []search.Result{{Type: search.ResultNote, ID: "note_1", Title: "hit"}}, Total: 1, Query: q.Text, Engine: "fake"}
}

func (f *fakeSearch) IndexNote(n search.NoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n.ID)
}

func (f *fakeSearch) IndexProject(p search.ProjectRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, p.ID)
}

func (f *fakeSearch) IndexTasks(tasks []search.TaskRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range tasks {
		f.tasks = append(f.tasks, task.ID)
	}
}

func (f *fakeSearch) DeleteNote(id string)    { f.deleted = append(f.deleted, id) }
func (f *fakeSearch) DeleteProject(id string) { f.deleted = append(f.deleted, id) }
func (f *fakeSearch) DeleteTask(id string)    { f.deleted = append(f.deleted, id) }

func (f *fakeSearch) ReindexAllFromPG(context.Context) (int, error) { return 7, nil }
func (f *fakeSearch) Healthy() bool                                 { return true }

type fakeLinks struct {
	codes map[string]string
}

func (f *fakeLinks) SaveLinkCode(_ context.Context, code, userID string, _ time.Duration) error {
	if f.codes == nil {
		f.codes = map[string]string{}
	}
	f.codes[code] = userID
	return nil
}

func (f *fakeLinks) ConsumeLinkCode(_ context.Context, code string) (string, error) {
	userID, ok := f.codes[code]
	if !ok {
		return "", sessionstore.ErrNotFound
	}
	delete(f.codes, code)
	return userID, nil
}

func (f *fakeLinks) Ping(context.Context) error { return nil }

func testConfig() config.Config {
	return config.Config{
		AppURL:             "http://localhost:5173",
		TokenSecret:        testSecret,
		AccessTTL:          time.Hour,
		RefreshTTL:         24 * time.Hour,
		ProjectKeyPrefix:   "PRJ-",
		ProjectKeyAttempts: 5,
		StreakTimezone:     "UTC",
	}
}

func newTestService(fs *fakeStore, deps Deps) *Service {
	deps.Store = fs
	return New(testConfig(), deps)
}

// tokenFor issues an access token for user the way SignIn would.
func tokenFor(t *testing.T, user store.User) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Typ:  auth.TypeAccess,
		JTI:  "jti-" + user.ID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

var errBoom = errors.New("boom")
