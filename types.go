package authgate

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/altinors/authgate/internal/audit"
)

// Roles known to the engine. Stored as-is in the user record and in
// access token claims.
const (
	RoleUser      = "USER"
	RoleAdmin     = "ADMIN"
	RoleModerator = "MODERATOR"
)

// ValidRole reports whether role is one of the known role values.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// User is the durable account record as the user store persists it.
// PasswordHash never leaves the engine; use Profile for anything
// caller-facing.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the caller-facing projection of a User.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile strips the password hash from the record.
func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Active:    u.Active,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// TokenPair carries one freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the identity established by Validate from a verified
// access token.
type AuthResult struct {
	UserID string
	Email  string
	Role   string
}

// CreateUserInput holds the fields the engine supplies when persisting
// a new account. The store assigns ID and timestamps.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
}

// UserStore persists durable account records. Implementations return
// ErrUserNotFound for missing records and ErrEmailExists for unique
// email violations so the engine can map them without driver
// knowledge.
type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateName(ctx context.Context, id, name string) (*User, error)
	SetVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) (*User, error)
	UpdateRole(ctx context.Context, id, role string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, page, pageSize int) ([]User, int64, error)
}

// PasswordHasher abstracts password hashing so deployments can swap the
// default argon2id implementation.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Notifier delivers single-use tokens out of band. The engine hands it
// the raw token; how it becomes a link or a mail is the caller's
// business.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendVerification(ctx context.Context, email, token string) error
}

// LogNotifier writes tokens to the log instead of delivering them.
// Useful in development and in tests; never use it in production, the
// tokens end up in log storage.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.Logger.Info().Str("email", email).Str("token", token).Msg("password reset token issued")
	return nil
}

func (n LogNotifier) SendVerification(_ context.Context, email, token string) error {
	n.Logger.Info().Str("email", email).Str("token", token).Msg("verification token issued")
	return nil
}

// Audit types re-exported from the internal package so integrators
// only import authgate.
type (
	AuditEvent = audit.Event
	AuditQuery = audit.Query
	AuditPage  = audit.Page
	AuditSink  = audit.Sink
)

// AuditRedactedValue replaces sensitive payload values in audit
// details.
const AuditRedactedValue = audit.RedactedValue

// AuditStore persists audit events and answers queries over them. List
// returns the requested page newest-first.
type AuditStore interface {
	Insert(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, q AuditQuery) (*AuditPage, error)
}

// SanitizeAuditDetails returns a copy of details with values under
// sensitive keys (password, token, secret) replaced by
// AuditRedactedValue.
func SanitizeAuditDetails(details map[string]any) map[string]any {
	return audit.Sanitize(details)
}

// ChannelAuditSink buffers emitted events in a channel for callers
// that consume the stream themselves.
type ChannelAuditSink = audit.ChannelSink

// NewChannelAuditSink returns a sink that forwards events to a channel
// of the given capacity, dropping when it is full.
func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink returns a sink that writes each event as one
// JSON line to w.
func NewJSONWriterAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}
