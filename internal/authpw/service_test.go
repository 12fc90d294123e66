package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"noteforge/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]store.User
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets:        make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(strings.TrimSpace(email))]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, ok := m.emailIndex[strings.ToLower(user.Email)]; ok {
		return store.ErrEmailTaken
	}
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verifications[token]; ok {
		user = m.users[user.ID]
		user.IsEmailVerified = true
		m.users[user.ID] = user
		delete(m.verifications, token)
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func newTestService(st UserStore) *Service {
	svc := NewService(st)
	svc.cost = bcrypt.MinCost
	return svc
}

func signUp(t *testing.T, svc *Service, email string) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       email,
		Password:    "password123",
		DisplayName: "Test User",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return resp
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		resp := signUp(t, svc, "test@example.com")
		if resp.User.ID == "" || !strings.HasPrefix(resp.User.ID, "usr_") {
			t.Fatalf("unexpected user id %q", resp.User.ID)
		}
		if resp.User.Role != "member" {
			t.Fatalf("expected member role, got %q", resp.User.Role)
		}
		if resp.VerificationToken == "" || !resp.RequiresEmailVerify {
			t.Fatal("expected a verification token")
		}
		stored := mockStore.users[resp.User.ID]
		if stored.PasswordHash == "password123" || stored.PasswordHash == "" {
			t.Fatal("password must be stored hashed")
		}
		if stored.VerificationExpiresAt == nil {
			t.Fatal("expected verification expiry")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "TEST@example.com", Password: "password123", DisplayName: "Other"})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "short@example.com", Password: "short", DisplayName: "S"})
		if !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("expected ErrWeakPassword, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "x@example.com", Password: "password123", DisplayName: "   "})
		if !errors.Is(err, ErrMissingFields) {
			t.Fatalf("expected ErrMissingFields, got %v", err)
		}
	})
}

func TestSignInChecksPasswordBeforeVerification(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockUserStore())
	resp := signUp(t, svc, "ada@example.com")

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password on unverified account, got %v", err)
	}

	got, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !got.RequiresVerify {
		t.Fatal("expected RequiresVerify for unverified account")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	got, err = svc.SignIn(ctx, SignInRequest{Email: "ADA@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if got.RequiresVerify || got.User.ID != resp.User.ID {
		t.Fatalf("unexpected sign-in result %+v", got)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	svc := newTestService(newMockUserStore())
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty input, got %v", err)
	}
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	svc := newTestService(newMockUserStore())
	if err := svc.VerifyEmail(context.Background(), "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockUserStore())
	first := signUp(t, svc, "ada@example.com")

	user, token, err := svc.ResendVerification(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("ResendVerification() error = %v", err)
	}
	if token == "" || token == first.VerificationToken || user.ID != first.User.ID {
		t.Fatalf("expected a fresh token, got %q", token)
	}
	if err := svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	_, token, err = svc.ResendVerification(ctx, "ada@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected no token for verified account, got %q, %v", token, err)
	}
	_, token, err = svc.ResendVerification(ctx, "ghost@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected no token for unknown account, got %q, %v", token, err)
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockUserStore())
	signUp(t, svc, "ada@example.com")

	_, token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset() = %q, %v", token, err)
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password-1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password-2"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused token to fail, got %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "new-password-1"}); err != nil {
		t.Fatalf("new password sign-in error = %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	_, token, err := newTestService(newMockUserStore()).RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected silent no-op, got %q, %v", token, err)
	}
}
