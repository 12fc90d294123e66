package store

import (
	"time"

	"noteforge/api/internal/streak"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	TelegramChatID        *int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const (
	SummaryNone   = "none"
	SummaryReady  = "ready"
	SummaryFailed = "failed"

	NoteOpen      = "open"
	NoteConverted = "converted"
	NoteArchived  = "archived"

	SourceWeb      = "web"
	SourceTelegram = "telegram"
)

type Note struct {
	ID            string
	UserID        string
	Title         string
	Content       string
	Summary       string
	SummaryStatus string
	Source        string
	Status        string
	ProjectID     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NoteFilter struct {
	Status string
	Limit  int
	Offset int
}

const (
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"
)

type Project struct {
	ID           string
	UserID       string
	Key          string
	Name         string
	Description  string
	Status       string
	SourceNoteID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"

	TaskSourceManual   = "manual"
	TaskSourceAI       = "ai"
	TaskSourceScenario = "scenario"
)

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Priority    string
	Source      string
	Position    int
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectStreak is the persisted form of streak.State.
type ProjectStreak struct {
	ProjectID string
	streak.State
	UpdatedAt time.Time
}

type Scenario struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Risks       []Risk
	CreatedAt   time.Time
}

type Risk struct {
	ID          string
	ScenarioID  string
	Description string
	Severity    string
	Mitigation  string
	Position    int
	TaskID      *string
}

type DashboardCounts struct {
	Notes     int
	OpenNotes int
	Projects  int
	OpenTasks int
	DoneTasks int
}

// ProjectReport bundles everything an export needs in one read.
type ProjectReport struct {
	Project   Project
	Tasks     []Task
	Streak    ProjectStreak
	Scenarios []Scenario
}
