package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/auth"
	"noteforge/api/internal/authpw"
	"noteforge/api/internal/config"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/metrics"
	"noteforge/api/internal/rbac"
	"noteforge/api/internal/search"
	"noteforge/api/internal/store"
	"noteforge/api/internal/streak"
	"noteforge/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	refreshStore
	Ping(ctx context.Context) error
	GetUserByTelegramChat(ctx context.Context, chatID int64) (store.User, error)
	LinkTelegramChat(ctx context.Context, userID string, chatID int64) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertNote(ctx context.Context, note store.Note) (store.Note, error)
	GetNote(ctx context.Context, userID, noteID string) (store.Note, error)
	ListNotes(ctx context.Context, userID string, filter store.NoteFilter) ([]store.Note, int, error)
	UpdateNote(ctx context.Context, note store.Note) (store.Note, error)
	UpdateNoteSummary(ctx context.Context, noteID, summary, status string) error
	DeleteNote(ctx context.Context, userID, noteID string) error

	ListProjectKeys(ctx context.Context, prefix string) ([]string, error)
	InsertProject(ctx context.Context, project store.Project) (store.Project, error)
	CreateProjectFromNote(ctx context.Context, project store.Project, noteID string) (store.Project, error)
	GetProject(ctx context.Context, userID, projectID string) (store.Project, error)
	ListProjects(ctx context.Context, userID string) ([]store.Project, error)
	UpdateProject(ctx context.Context, project store.Project) (store.Project, error)
	DeleteProject(ctx context.Context, userID, projectID string) error

	GetStreak(ctx context.Context, projectID string) (store.ProjectStreak, error)
	ListStreaks(ctx context.Context, userID string) ([]store.ProjectStreak, error)
	RecordProjectActivity(ctx context.Context, projectID string, now time.Time, loc *time.Location) (store.ProjectStreak, streak.Outcome, error)

	InsertTasks(ctx context.Context, projectID string, tasks []store.Task) ([]store.Task, error)
	ListTasks(ctx context.Context, projectID, status string) ([]store.Task, error)
	GetTask(ctx context.Context, projectID, taskID string) (store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) (store.Task, error)
	DeleteTask(ctx context.Context, projectID, taskID string) error

	InsertScenario(ctx context.Context, scenario store.Scenario) (store.Scenario, error)
	GetScenario(ctx context.Context, projectID, scenarioID string) (store.Scenario, error)
	ListScenarios(ctx context.Context, projectID string) ([]store.Scenario, error)
	DeleteScenario(ctx context.Context, projectID, scenarioID string) error
	ConvertScenarioRisks(ctx context.Context, projectID, scenarioID string, toTask func(store.Risk) store.Task) ([]store.Task, error)

	DashboardCounts(ctx context.Context, userID string) (store.DashboardCounts, error)
}

// refreshStore is satisfied by both the PostgreSQL store and the Redis
// session store.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type linkCodeStore interface {
	SaveLinkCode(ctx context.Context, code, userID string, ttl time.Duration) error
	ConsumeLinkCode(ctx context.Context, code string) (string, error)
	Ping(ctx context.Context) error
}

type historyService interface {
	EnsureNoteRepo(noteID string, initial history.Content, author string) error
	CommitNote(noteID string, content history.Content, author, message string) (history.CommitInfo, bool, error)
	History(noteID string, limit int) ([]history.CommitInfo, error)
	Revision(noteID, hash string) (history.Content, history.CommitInfo, []history.FieldChange, error)
	Remove(noteID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexNote(n search.NoteRecord)
	IndexProject(p search.ProjectRecord)
	IndexTasks(tasks []search.TaskRecord)
	DeleteNote(id string)
	DeleteProject(id string)
	DeleteTask(id string)
	ReindexAllFromPG(ctx context.Context) (int, error)
	Healthy() bool
}

type aiClient interface {
	Enabled() bool
	Summarize(ctx context.Context, title, content string) (string, error)
	BreakdownTasks(ctx context.Context, name, description string, limit int) ([]ai.TaskDraft, error)
	AnalyzeScenario(ctx context.Context, project, scenario string) ([]ai.RiskDraft, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// Deps carries the collaborators of a Service. Store is required. Sessions
// defaults to Store; every other field may be left nil.
type Deps struct {
	Store     dataStore
	Sessions  refreshStore
	LinkCodes linkCodeStore
	History   historyService
	Search    searchService
	AI        aiClient
	Exporter  exporter
	Mailer    mailer
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	links     linkCodeStore
	history   historyService
	search    searchService
	ai        aiClient
	exporter  exporter
	mailer    mailer
	authpw    *authpw.Service
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = deps.Store
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  sessions,
		links:     deps.LinkCodes,
		history:   deps.History,
		search:    deps.Search,
		ai:        deps.AI,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		authpw:    authpw.NewService(deps.Store),
		validator: newValidator(),
		logger:    logger.Named("app"),
		metrics:   deps.Metrics,
		loc:       cfg.StreakLocation(),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports the state of every backing service. Only the database
// is required for the API to be ready.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{}
	ready := true
	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}
	if s.links != nil {
		if err := s.links.Ping(ctx); err != nil {
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	} else {
		checks["redis"] = map[string]any{"status": "disabled"}
	}
	switch {
	case s.search == nil:
		checks["search"] = map[string]any{"status": "disabled"}
	case s.search.Healthy():
		checks["search"] = map[string]any{"status": "ok", "engine": "meilisearch"}
	default:
		checks["search"] = map[string]any{"status": "degraded", "engine": "postgres"}
	}
	checks["ai"] = map[string]any{"enabled": s.aiEnabled()}
	checks["email"] = map[string]any{"enabled": s.SMTPConfigured()}
	return ready, checks
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) aiEnabled() bool {
	return s.ai != nil && s.ai.Enabled()
}

// Auth

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
}

type SignInInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (map[string]any, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if s.SMTPConfigured() {
		link := s.appLink("/verify-email", resp.VerificationToken)
		if err := s.mailer.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			s.logger.Warn("send verification email failed", zap.String("user_id", resp.User.ID), zap.Error(err))
		}
	} else {
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, error) {
	if err := s.validate(input); err != nil {
		return Session{}, err
	}
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: input.Email, Password: input.Password})
	if err != nil {
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.authpw.VerifyEmail(ctx, token)
}

// ResendVerification always answers the same way so callers cannot probe for
// accounts; the dev token is only included when mail is disabled.
func (s *Service) ResendVerification(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.authpw.ResendVerification(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If the account exists and is unverified, a new email has been sent"}
	if token == "" {
		return payload, nil
	}
	if s.SMTPConfigured() {
		if err := s.mailer.SendVerificationEmail(user.Email, user.DisplayName, s.appLink("/verify-email", token)); err != nil {
			s.logger.Warn("resend verification email failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	} else {
		payload["devVerificationToken"] = token
	}
	return payload, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.authpw.RequestPasswordReset(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token == "" {
		return payload, nil
	}
	if s.SMTPConfigured() {
		if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, s.appLink("/reset-password", token)); err != nil {
			s.logger.Warn("send reset email failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	} else {
		payload["devResetToken"] = token
	}
	return payload, nil
}

func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if err := s.validate(input); err != nil {
		return err
	}
	return s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: input.Token, NewPassword: input.NewPassword})
}

func (s *Service) appLink(path, token string) string {
	return strings.TrimRight(s.cfg.AppURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if _, err := auth.ParseToken([]byte(s.cfg.TokenSecret), refreshToken, auth.TypeRefresh); err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	secret := []byte(s.cfg.TokenSecret)
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(rbac.Normalize(user.Role))

	token, err := auth.IssueToken(secret, auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: role,
		Typ:  auth.TypeAccess,
		JTI:  jti,
		Iat:  now.Unix(),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshExpires := now.Add(s.cfg.RefreshTTL)
	refresh, err := auth.IssueToken(secret, auth.Claims{
		Sub: user.ID,
		Typ: auth.TypeRefresh,
		JTI: util.NewID("rft"),
		Iat: now.Unix(),
		Exp: refreshExpires.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token, auth.TypeAccess)
	if err != nil {
		if errors.Is(err, auth.ErrWrongType) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.String("jti", session.JTI), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":             user.ID,
		"displayName":    user.DisplayName,
		"email":          user.Email,
		"role":           string(rbac.Normalize(user.Role)),
		"emailVerified":  user.IsEmailVerified,
		"telegramLinked": user.TelegramChatID != nil,
		"createdAt":      user.CreatedAt,
	}, nil
}
