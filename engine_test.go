package authgate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/altinors/authgate/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = []byte("test-access-secret-test-access-secret")
	cfg.JWT.RefreshSecret = []byte("test-refresh-secret-test-refresh-secret")
	cfg.SingleUse.ResetTTL = time.Hour
	cfg.SingleUse.VerificationTTL = 24 * time.Hour
	return cfg
}

func cheapHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

// mockUserStore is a map-backed UserStore for engine tests.
type mockUserStore struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
	seq     int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *mockUserStore) CreateUser(_ context.Context, input CreateUserInput) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[input.Email]; exists {
		return nil, ErrEmailExists
	}

	s.seq++
	now := time.Now()
	user := &User{
		ID:           "u-" + strconv.Itoa(s.seq),
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[user.ID] = user
	s.byEmail[user.Email] = user.ID

	clone := *user
	return &clone, nil
}

func (s *mockUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *mockUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *mockUserStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(u *User) { u.PasswordHash = hash })
}

func (s *mockUserStore) UpdateName(ctx context.Context, id, name string) (*User, error) {
	if err := s.update(id, func(u *User) { u.Name = name }); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *mockUserStore) SetVerified(_ context.Context, id string) error {
	return s.update(id, func(u *User) { u.Verified = true })
}

func (s *mockUserStore) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	if err := s.update(id, func(u *User) { u.Active = active }); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *mockUserStore) UpdateRole(ctx context.Context, id, role string) (*User, error) {
	if err := s.update(id, func(u *User) { u.Role = role }); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *mockUserStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.byEmail, user.Email)
	delete(s.byID, id)
	return nil
}

func (s *mockUserStore) ListUsers(_ context.Context, page, pageSize int) ([]User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		all = append(all, *u)
	}

	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (s *mockUserStore) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(user)
	user.UpdatedAt = time.Now()
	return nil
}

// captureNotifier records delivered tokens instead of sending them.
type captureNotifier struct {
	mu           sync.Mutex
	resetTokens  []string
	verifyTokens []string
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

func (n *captureNotifier) SendVerification(_ context.Context, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifyTokens = append(n.verifyTokens, token)
	return nil
}

func (n *captureNotifier) lastReset(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resetTokens) == 0 {
		t.Fatal("expected a reset token to have been issued")
	}
	return n.resetTokens[len(n.resetTokens)-1]
}

func (n *captureNotifier) lastVerify(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.verifyTokens) == 0 {
		t.Fatal("expected a verification token to have been issued")
	}
	return n.verifyTokens[len(n.verifyTokens)-1]
}

type testEngine struct {
	engine   *Engine
	store    *mockUserStore
	notifier *captureNotifier
	redis    *miniredis.Miniredis
}

func buildTestEngine(t *testing.T, opts ...func(*Builder)) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMockUserStore()
	notifier := &captureNotifier{}

	builder := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithUserStore(store).
		WithNotifier(notifier).
		WithPasswordHasher(cheapHasher(t)).
		WithLogger(zerolog.Nop())
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{engine: engine, store: store, notifier: notifier, redis: mr}
}

func registerTestUser(t *testing.T, te *testEngine, email string) (Profile, TokenPair) {
	t.Helper()

	profile, pair, err := te.engine.Register(context.Background(), email, "Alice", "correct-horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return profile, pair
}

func TestRegisterIssuesSession(t *testing.T) {
	te := buildTestEngine(t)

	profile, pair := registerTestUser(t, te, "alice@example.com")

	if profile.Role != RoleUser {
		t.Fatalf("expected default role %s, got %s", RoleUser, profile.Role)
	}
	if profile.Verified {
		t.Fatal("expected new account to be unverified")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair on register")
	}

	// Stored password must be a hash, never the plaintext.
	stored, err := te.store.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if stored.PasswordHash == "correct-horse" || stored.PasswordHash == "" {
		t.Fatal("expected password to be stored hashed")
	}

	result, err := te.engine.Validate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.UserID != profile.ID || result.Email != "alice@example.com" {
		t.Fatalf("unexpected auth result: %+v", result)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	te := buildTestEngine(t)

	registerTestUser(t, te, "alice@example.com")

	_, _, err := te.engine.Register(context.Background(), "alice@example.com", "Alice Again", "other-password")
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	te := buildTestEngine(t)

	registerTestUser(t, te, "alice@example.com")

	_, _, err := te.engine.Register(context.Background(), "  ALICE@example.com ", "Alice", "correct-horse")
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected case-insensitive duplicate detection, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	if _, _, err := te.engine.Register(ctx, "not-an-email", "Alice", "correct-horse"); err == nil {
		t.Fatal("expected invalid email to be rejected")
	}
	if _, _, err := te.engine.Register(ctx, "alice@example.com", "  ", "correct-horse"); err == nil {
		t.Fatal("expected blank name to be rejected")
	}
	if _, _, err := te.engine.Register(ctx, "alice@example.com", "Alice", "short"); err == nil {
		t.Fatal("expected weak password to be rejected")
	}
}

func TestLoginSuccess(t *testing.T) {
	te := buildTestEngine(t)
	registerTestUser(t, te, "alice@example.com")

	profile, pair, err := te.engine.Login(context.Background(), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if profile.Email != "alice@example.com" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected token pair on login")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, te, "alice@example.com")

	caller := AuthResult{UserID: "admin-1", Email: "root@example.com", Role: RoleAdmin}
	if _, err := te.engine.SetUserActive(ctx, caller, profile.ID, false); err != nil {
		t.Fatalf("SetUserActive failed: %v", err)
	}

	// Unknown email, wrong password, and disabled account must all
	// produce the same sentinel.
	_, _, errUnknown := te.engine.Login(ctx, "nobody@example.com", "correct-horse")
	_, _, errWrongPwd := te.engine.Login(ctx, "alice@example.com", "wrong-password")
	_, _, errDisabled := te.engine.Login(ctx, "alice@example.com", "correct-horse")

	for _, err := range []error{errUnknown, errWrongPwd, errDisabled} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for every failure mode, got %v", err)
		}
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	_, pair := registerTestUser(t, te, "alice@example.com")

	next, err := te.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a fresh refresh token")
	}
	if _, err := te.engine.Validate(ctx, next.AccessToken); err != nil {
		t.Fatalf("new access token failed validation: %v", err)
	}

	// The presented token is spent: replaying it must fail.
	if _, err := te.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected replay to fail with ErrTokenInvalidOrExpired, got %v", err)
	}

	// The replacement still works.
	if _, err := te.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated token failed to refresh: %v", err)
	}
}

func TestRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	_, pair := registerTestUser(t, te, "alice@example.com")

	if _, err := te.engine.Refresh(ctx, "not-a-jwt"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected garbage to fail, got %v", err)
	}
	// Access tokens are signed with a different secret and must not
	// pass as refresh tokens.
	if _, err := te.engine.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected access token to fail refresh, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	_, pair := registerTestUser(t, te, "alice@example.com")

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan TokenPair, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if next, err := te.engine.Refresh(ctx, pair.RefreshToken); err == nil {
				wins <- next
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []TokenPair
	for p := range wins {
		winners = append(winners, p)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one concurrent refresh to win, got %d", len(winners))
	}

	// The winner's token is live.
	if _, err := te.engine.Refresh(ctx, winners[0].RefreshToken); err != nil {
		t.Fatalf("winner's token failed to refresh: %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	_, pair := registerTestUser(t, te, "alice@example.com")

	if err := te.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := te.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
	if err := te.engine.Logout(ctx, "never-issued"); err != nil {
		t.Fatalf("Logout of unknown token failed: %v", err)
	}

	if _, err := te.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected logged-out token to fail refresh, got %v", err)
	}
}

func TestLogoutAllInvalidatesEverySession(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	profile, first := registerTestUser(t, te, "alice@example.com")

	var pairs []TokenPair
	pairs = append(pairs, first)
	for i := 0; i < 2; i++ {
		_, pair, err := te.engine.Login(ctx, "alice@example.com", "correct-horse")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		pairs = append(pairs, pair)
	}

	n, err := te.engine.LogoutAll(ctx, profile.ID)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions closed, got %d", n)
	}

	for i, pair := range pairs {
		if _, err := te.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
			t.Fatalf("expected session %d to be invalidated, got %v", i, err)
		}
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	_, pair := registerTestUser(t, te, "alice@example.com")

	if _, err := te.engine.Validate(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage, got %v", err)
	}
	// Refresh tokens must never validate as access tokens.
	if _, err := te.engine.Validate(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for refresh token, got %v", err)
	}
}

func TestValidateRejectsDeactivatedAndDeletedUsers(t *testing.T) {
	te := buildTestEngine(t)
	ctx := context.Background()

	profile, pair := registerTestUser(t, te, "alice@example.com")

	if _, err := te.engine.Validate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Validate failed for an active account: %v", err)
	}

	// Deactivation must lock the account out right away, not when the
	// access token happens to expire.
	if err := te.store.update(profile.ID, func(u *User) { u.Active = false }); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := te.engine.Validate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for deactivated account, got %v", err)
	}

	if err := te.store.update(profile.ID, func(u *User) { u.Active = true }); err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if _, err := te.engine.Validate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Validate failed after reactivation: %v", err)
	}

	// Same for deletion: the token outlives the account, the access
	// must not.
	if err := te.store.DeleteUser(ctx, profile.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := te.engine.Validate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for deleted account, got %v", err)
	}
}

func TestAuthorizeRoleAllowList(t *testing.T) {
	te := buildTestEngine(t)

	user := AuthResult{UserID: "u-1", Role: RoleUser}
	admin := AuthResult{UserID: "u-2", Role: RoleAdmin}

	if err := te.engine.Authorize(user); err != nil {
		t.Fatalf("expected any authenticated identity to pass with no roles, got %v", err)
	}
	if err := te.engine.Authorize(admin, RoleAdmin, RoleModerator); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
	if err := te.engine.Authorize(user, RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := te.engine.Authorize(AuthResult{}, RoleUser); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty identity, got %v", err)
	}
}

func TestEngineNotReady(t *testing.T) {
	var e *Engine

	if _, _, err := e.Login(context.Background(), "a@b.com", "pw"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := (&Engine{}).Refresh(context.Background(), "tok"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
