package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"noteforge/api/internal/metrics"
	"noteforge/api/internal/store"
)

const (
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes = 1 << 20
	recentNotes  = 5
)

var (
	// ErrNotLinked is returned by Backend.UserByChat for unknown chats.
	ErrNotLinked = errors.New("chat is not linked to an account")
	// ErrInvalidCode is returned by Backend.LinkChat for unknown or expired codes.
	ErrInvalidCode = errors.New("link code is invalid or expired")
)

// Backend is what the bot needs from the application.
type Backend interface {
	UserByChat(ctx context.Context, chatID int64) (store.User, error)
	LinkChat(ctx context.Context, code string, chatID int64) (store.User, error)
	CreateNoteFromChat(ctx context.Context, user store.User, text string) (store.Note, error)
	RecentNotes(ctx context.Context, user store.User, limit int) ([]store.Note, error)
}

type Options struct {
	Secret string
	// PerChatRate and PerChatBurst bound how fast one chat can create notes.
	PerChatRate  rate.Limit
	PerChatBurst int
}

// Bot handles webhook deliveries.
type Bot struct {
	secret  string
	backend Backend
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Metrics

	perChatRate  rate.Limit
	perChatBurst int

	mu          sync.Mutex
	limiters    map[int64]*rate.Limiter
	lastCleanup time.Time
}

func New(opts Options, backend Backend, sender Sender, logger *zap.Logger, m *metrics.Metrics) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PerChatRate <= 0 {
		opts.PerChatRate = rate.Every(3 * time.Second)
	}
	if opts.PerChatBurst <= 0 {
		opts.PerChatBurst = 5
	}
	return &Bot{
		secret:       opts.Secret,
		backend:      backend,
		sender:       sender,
		logger:       logger.Named("bot"),
		metrics:      m,
		perChatRate:  opts.PerChatRate,
		perChatBurst: opts.PerChatBurst,
		limiters:     make(map[int64]*rate.Limiter),
		lastCleanup:  time.Now(),
	}
}

// limiter returns the limiter for chatID. The map is reset hourly so idle
// chats do not accumulate.
func (b *Bot) limiter(chatID int64) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastCleanup) > time.Hour {
		b.limiters = make(map[int64]*rate.Limiter)
		b.lastCleanup = time.Now()
	}
	limiter, ok := b.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(b.perChatRate, b.perChatBurst)
		b.limiters[chatID] = limiter
	}
	return limiter
}

// ServeHTTP authenticates the delivery and always answers 200 afterwards,
// so Telegram does not redeliver updates that failed on our side.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if b.secret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(b.secret)) != 1 {
		b.metrics.BotUpdate("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("invalid update payload", zap.Error(err))
		b.metrics.BotUpdate("invalid")
		writeOK(w)
		return
	}

	b.HandleUpdate(r.Context(), update)
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// HandleUpdate processes one update and sends at most one reply.
func (b *Bot) HandleUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil {
		b.metrics.BotUpdate("ignored")
		return
	}
	if msg.From != nil && msg.From.IsBot {
		b.metrics.BotUpdate("ignored")
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		b.metrics.BotUpdate("ignored")
		return
	}

	chatID := msg.Chat.ID
	if !b.limiter(chatID).Allow() {
		b.metrics.BotUpdate("rate_limited")
		b.logger.Warn("chat rate limited", zap.Int64("chat_id", chatID))
		return
	}

	command, arg := ParseCommand(text)
	kind := "note"
	if command != "" {
		kind = command
	}
	b.metrics.BotUpdate(kind)

	reply := b.dispatch(ctx, chatID, command, arg, text)
	if reply == "" {
		return
	}
	if err := b.sender.SendMessage(ctx, chatID, reply); err != nil {
		b.logger.Error("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, command, arg, text string) string {
	switch command {
	case "start", "help":
		return helpText
	case "link":
		return b.link(ctx, chatID, arg)
	case "notes":
		return b.listNotes(ctx, chatID)
	case "":
		return b.createNote(ctx, chatID, text)
	default:
		return fmt.Sprintf("Unknown command /%s.\n\n%s", command, helpText)
	}
}

const helpText = `Send me any text and I will save it as a note.

/link CODE - connect this chat to your Noteforge account (get the code in the web app)
/notes - show your latest notes
/help - show this message`

func (b *Bot) link(ctx context.Context, chatID int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "Usage: /link CODE"
	}
	user, err := b.backend.LinkChat(ctx, code, chatID)
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "That code is invalid or expired. Generate a new one in the web app."
	case errors.Is(err, store.ErrChatLinked):
		return "This chat is already linked to another account."
	case err != nil:
		b.logger.Error("link chat failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return "Linking failed, please try again later."
	}
	return fmt.Sprintf("Linked to %s. Send me a note!", user.DisplayName)
}

func (b *Bot) listNotes(ctx context.Context, chatID int64) string {
	user, reply := b.linkedUser(ctx, chatID)
	if reply != "" {
		return reply
	}
	notes, err := b.backend.RecentNotes(ctx, user, recentNotes)
	if err != nil {
		b.logger.Error("list notes failed", zap.String("user_id", user.ID), zap.Error(err))
		return "Could not load your notes, please try again later."
	}
	if len(notes) == 0 {
		return "You have no notes yet."
	}
	var sb strings.Builder
	sb.WriteString("Latest notes:\n")
	for _, note := range notes {
		fmt.Fprintf(&sb, "\n• %s", note.Title)
		if note.Status == store.NoteConverted {
			sb.WriteString(" (project)")
		}
	}
	return sb.String()
}

func (b *Bot) createNote(ctx context.Context, chatID int64, text string) string {
	user, reply := b.linkedUser(ctx, chatID)
	if reply != "" {
		return reply
	}
	note, err := b.backend.CreateNoteFromChat(ctx, user, text)
	if err != nil {
		b.logger.Error("create note from chat failed", zap.String("user_id", user.ID), zap.Error(err))
		return "Could not save your note, please try again later."
	}
	out := fmt.Sprintf("Saved: %s", note.Title)
	if note.SummaryStatus == store.SummaryReady && note.Summary != "" {
		out += "\n\n" + note.Summary
	}
	return out
}

func (b *Bot) linkedUser(ctx context.Context, chatID int64) (store.User, string) {
	user, err := b.backend.UserByChat(ctx, chatID)
	if errors.Is(err, ErrNotLinked) {
		return store.User{}, "This chat is not linked yet. Use /link CODE with a code from the web app."
	}
	if err != nil {
		b.logger.Error("lookup chat user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return store.User{}, "Something went wrong, please try again later."
	}
	return user, ""
}

// ParseCommand splits "/cmd@botname arg" into "cmd" and "arg". Plain text
// yields an empty command.
func ParseCommand(text string) (command, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], head[i:]
	}
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		head = "help"
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
