package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"noteforge/api/internal/bot"
	"noteforge/api/internal/export"
	"noteforge/api/internal/search"
	sessionstore "noteforge/api/internal/session"
	"noteforge/api/internal/store"
)

const (
	linkCodeLength   = 6
	linkCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	linkCodeTTL      = 10 * time.Minute
)

var _ bot.Backend = (*Service)(nil)

// Search

func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (map[string]any, error) {
	resultType, ok := search.ParseResultType(filterType)
	if !ok {
		return nil, invalid("type must be note, project or task")
	}
	if limit < 0 || offset < 0 {
		return nil, invalid("limit and offset must not be negative")
	}
	if s.search == nil || strings.TrimSpace(text) == "" {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": text}, nil
	}
	resp := s.search.Search(ctx, search.Query{
		Text:       strings.TrimSpace(text),
		UserID:     session.UserID,
		FilterType: resultType,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
		"engine":  resp.Engine,
	}, nil
}

func (s *Service) ReindexSearch(ctx context.Context) (map[string]any, error) {
	if s.search == nil {
		return nil, search.ErrUnavailable
	}
	count, err := s.search.ReindexAllFromPG(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"indexed": count}, nil
}

// Export

func (s *Service) ExportProject(ctx context.Context, session Session, projectID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if _, err := s.getProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.exporter.Export(ctx, export.Request{UserID: session.UserID, ProjectID: projectID, Format: parsed})
}

// Messaging bot

func newLinkCode() (string, error) {
	size := big.NewInt(int64(len(linkCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < linkCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate link code: %w", err)
		}
		b.WriteByte(linkCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// IssueLinkCode creates a one-time code the user sends to the bot as
// "/link CODE" to attach their chat to the account.
func (s *Service) IssueLinkCode(ctx context.Context, session Session) (map[string]any, error) {
	if s.links == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BOT_LINK_UNAVAILABLE", "Bot linking requires Redis", nil)
	}
	code, err := newLinkCode()
	if err != nil {
		return nil, err
	}
	if err := s.links.SaveLinkCode(ctx, code, session.UserID, linkCodeTTL); err != nil {
		return nil, err
	}
	return map[string]any{
		"code":      code,
		"command":   "/link " + code,
		"expiresAt": s.now().Add(linkCodeTTL).UTC(),
	}, nil
}

func (s *Service) UserByChat(ctx context.Context, chatID int64) (store.User, error) {
	user, err := s.store.GetUserByTelegramChat(ctx, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, bot.ErrNotLinked
	}
	return user, err
}

func (s *Service) LinkChat(ctx context.Context, code string, chatID int64) (store.User, error) {
	if s.links == nil {
		return store.User{}, bot.ErrInvalidCode
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != linkCodeLength {
		return store.User{}, bot.ErrInvalidCode
	}
	userID, err := s.links.ConsumeLinkCode(ctx, code)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return store.User{}, bot.ErrInvalidCode
	}
	if err != nil {
		return store.User{}, err
	}
	if err := s.store.LinkTelegramChat(ctx, userID, chatID); err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	s.logger.Info("telegram chat linked", zap.String("user_id", userID), zap.Int64("chat_id", chatID))
	return user, nil
}

// CreateNoteFromChat stores a chat message as a note. Messages are always
// summarized when the model is available.
func (s *Service) CreateNoteFromChat(ctx context.Context, user store.User, text string) (store.Note, error) {
	input := CreateNoteInput{Content: strings.TrimSpace(text), Summarize: true}
	if err := s.validate(input); err != nil {
		return store.Note{}, err
	}
	return s.createNote(ctx, user.ID, user.DisplayName, input, store.SourceTelegram)
}

func (s *Service) RecentNotes(ctx context.Context, user store.User, limit int) ([]store.Note, error) {
	notes, _, err := s.store.ListNotes(ctx, user.ID, store.NoteFilter{Limit: limit})
	return notes, err
}
