package authgate

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/altinors/authgate/internal"
	internalaudit "github.com/altinors/authgate/internal/audit"
	"github.com/altinors/authgate/internal/stores"
	"github.com/altinors/authgate/jwt"
	"github.com/altinors/authgate/refresh"
)

// Engine is the credential and session lifecycle engine. Construct it
// through New() and Build(); the zero value is not usable.
type Engine struct {
	config       Config
	logger       zerolog.Logger
	users        UserStore
	auditStore   AuditStore
	refreshStore *refresh.Store
	singleUse    *stores.SingleUseStore
	jwtManager   *jwt.Manager
	hasher       PasswordHasher
	notifier     Notifier
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
}

// Close drains the audit dispatcher. The engine must not be used after
// Close returns.
func (e *Engine) Close() {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because
// the dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed reports how many audit events the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.jwtManager != nil
}

// normalizeEmail lowercases and trims the address; all lookups and
// storage use the normalized form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Register creates an account with the default role, hashes the
// password with argon2id, and opens a first session.
func (e *Engine) Register(ctx context.Context, email, name, pwd string) (Profile, TokenPair, error) {
	if !e.ready() {
		return Profile{}, TokenPair{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return Profile{}, TokenPair{}, errInvalidEmail
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, TokenPair{}, errInvalidName
	}

	hash, err := e.hasher.Hash(pwd)
	if err != nil {
		return Profile{}, TokenPair{}, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         e.config.DefaultRole,
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			e.metricInc(MetricRegisterConflict)
			e.emitAudit(ctx, auditActionRegister, resourceAuth, false, "", email, "", ErrEmailExists, nil)
			return Profile{}, TokenPair{}, ErrEmailExists
		}
		return Profile{}, TokenPair{}, err
	}

	pair, err := e.openSession(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditActionRegister, resourceAuth, false, user.ID, user.Email, user.ID, err, nil)
		return Profile{}, TokenPair{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditActionRegister, resourceAuth, true, user.ID, user.Email, user.ID, nil, func() map[string]any {
		return map[string]any{"role": user.Role}
	})

	return user.Profile(), pair, nil
}

// Login verifies the credentials and opens a session. Every failure
// mode returns ErrInvalidCredentials so responses carry no
// account-enumeration signal; the audit trail records the real reason.
func (e *Engine) Login(ctx context.Context, email, pwd string) (Profile, TokenPair, error) {
	if !e.ready() {
		return Profile{}, TokenPair{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditActionLogin, resourceAuth, false, "", email, "", ErrInvalidCredentials, func() map[string]any {
				return map[string]any{"reason": "unknown_email"}
			})
			return Profile{}, TokenPair{}, ErrInvalidCredentials
		}
		return Profile{}, TokenPair{}, err
	}

	ok, err := e.hasher.Verify(pwd, user.PasswordHash)
	if err != nil {
		return Profile{}, TokenPair{}, err
	}
	if !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditActionLogin, resourceAuth, false, user.ID, user.Email, user.ID, ErrInvalidCredentials, func() map[string]any {
			return map[string]any{"reason": "wrong_password"}
		})
		return Profile{}, TokenPair{}, ErrInvalidCredentials
	}

	if !user.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditActionLogin, resourceAuth, false, user.ID, user.Email, user.ID, ErrInvalidCredentials, func() map[string]any {
			return map[string]any{"reason": "account_disabled"}
		})
		return Profile{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := e.openSession(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditActionLogin, resourceAuth, false, user.ID, user.Email, user.ID, err, nil)
		return Profile{}, TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditActionLogin, resourceAuth, true, user.ID, user.Email, user.ID, nil, nil)

	return user.Profile(), pair, nil
}

// Refresh rotates the refresh token: the presented token is
// invalidated and a fresh pair is issued in one atomic step. A token
// that was already rotated fails here, which is how replayed tokens
// surface.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditActionRefresh, resourceAuth, false, "", "", "", ErrTokenInvalidOrExpired, func() map[string]any {
			return map[string]any{"reason": "jwt_invalid"}
		})
		return TokenPair{}, ErrTokenInvalidOrExpired
	}
	userID := claims.Subject

	next, err := e.jwtManager.MintRefresh(userID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	err = e.refreshStore.Rotate(
		ctx,
		internal.HashToken(refreshToken),
		internal.HashToken(next),
		userID,
		e.jwtManager.RefreshTTL(),
	)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrTokenNotFound):
			// Valid signature but no stored record: either the token
			// was already rotated (replay) or the session was revoked.
			e.metricInc(MetricRefreshReplayDetected)
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditActionRefresh, resourceAuth, false, userID, "", userID, ErrTokenInvalidOrExpired, func() map[string]any {
				return map[string]any{"reason": "not_registered"}
			})
			return TokenPair{}, ErrTokenInvalidOrExpired
		case errors.Is(err, refresh.ErrTokenExpired):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditActionRefresh, resourceAuth, false, userID, "", userID, ErrTokenInvalidOrExpired, func() map[string]any {
				return map[string]any{"reason": "expired"}
			})
			return TokenPair{}, ErrTokenInvalidOrExpired
		default:
			e.metricInc(MetricRefreshFailure)
			return TokenPair{}, err
		}
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil || !user.Active {
		// Account gone or disabled since the token was minted; drop
		// the replacement we just stored.
		_ = e.refreshStore.Delete(ctx, internal.HashToken(next))
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditActionRefresh, resourceAuth, false, userID, "", userID, ErrTokenInvalidOrExpired, func() map[string]any {
			return map[string]any{"reason": "account_unavailable"}
		})
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrTokenInvalidOrExpired
	}

	access, err := e.jwtManager.MintAccess(user.ID, user.Email, user.Role)
	if err != nil {
		_ = e.refreshStore.Delete(ctx, internal.HashToken(next))
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditActionRefresh, resourceAuth, true, user.ID, user.Email, user.ID, nil, nil)

	return TokenPair{AccessToken: access, RefreshToken: next}, nil
}

// Logout invalidates one refresh token. Unknown and already-removed
// tokens succeed; logout is idempotent.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	var userID string
	if claims, err := e.jwtManager.ParseRefresh(refreshToken); err == nil {
		userID = claims.Subject
	}

	if err := e.refreshStore.Delete(ctx, internal.HashToken(refreshToken)); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditActionLogout, resourceAuth, true, userID, "", userID, nil, nil)
	return nil
}

// LogoutAll invalidates every refresh token of the user and returns
// how many sessions were closed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	n, err := e.refreshStore.CountForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := e.refreshStore.DeleteAllForUser(ctx, userID); err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditActionLogoutAll, resourceAuth, true, userID, "", userID, nil, func() map[string]any {
		return map[string]any{"sessions": n}
	})
	return n, nil
}

// Validate verifies an access token and returns the identity it
// carries. The account is re-read from the store, so a deactivated or
// deleted user loses access immediately rather than at token expiry.
// Role and email still come from the claims; role changes take effect
// on the next minted token.
func (e *Engine) Validate(ctx context.Context, accessToken string) (AuthResult, error) {
	if !e.ready() {
		return AuthResult{}, ErrEngineNotReady
	}

	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return AuthResult{}, ErrUnauthorized
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, err
	}
	if !user.Active {
		return AuthResult{}, ErrUnauthorized
	}

	return AuthResult{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// Authorize checks the identity's role against an allow-list. With no
// roles given, any authenticated identity passes.
func (e *Engine) Authorize(result AuthResult, roles ...string) error {
	if result.UserID == "" {
		return ErrUnauthorized
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if result.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

// openSession mints an access/refresh pair and registers the refresh
// token for rotation. Only the token hash reaches Redis.
func (e *Engine) openSession(ctx context.Context, user *User) (TokenPair, error) {
	access, err := e.jwtManager.MintAccess(user.ID, user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := e.jwtManager.MintRefresh(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := e.refreshStore.Save(ctx, internal.HashToken(refreshToken), user.ID, e.jwtManager.RefreshTTL()); err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricSessionCreated)
	return TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}
