package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	authgate "github.com/altinors/authgate"
)

const uniqueViolation = "23505"

// UserStore is the PostgreSQL implementation of authgate.UserStore.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, name, password_hash, role, active, verified, created_at, updated_at`

func scanUser(row *sql.Row) (*authgate.User, error) {
	user := &authgate.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.Verified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authgate.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (s *UserStore) CreateUser(ctx context.Context, input authgate.CreateUserInput) (*authgate.User, error) {
	query := `INSERT INTO users (id, email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING ` + userColumns

	row := s.db.QueryRowContext(ctx, query,
		uuid.NewString(), input.Email, input.Name, input.PasswordHash, input.Role)

	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, authgate.ErrEmailExists
		}
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*authgate.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*authgate.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	return s.exec(ctx, query, id, hash)
}

func (s *UserStore) UpdateName(ctx context.Context, id, name string) (*authgate.User, error) {
	query := `UPDATE users SET name = $2, updated_at = now() WHERE id = $1
		 RETURNING ` + userColumns
	return scanUser(s.db.QueryRowContext(ctx, query, id, name))
}

func (s *UserStore) SetVerified(ctx context.Context, id string) error {
	query := `UPDATE users SET verified = TRUE, updated_at = now() WHERE id = $1`
	return s.exec(ctx, query, id)
}

func (s *UserStore) SetActive(ctx context.Context, id string, active bool) (*authgate.User, error) {
	query := `UPDATE users SET active = $2, updated_at = now() WHERE id = $1
		 RETURNING ` + userColumns
	return scanUser(s.db.QueryRowContext(ctx, query, id, active))
}

func (s *UserStore) UpdateRole(ctx context.Context, id, role string) (*authgate.User, error) {
	query := `UPDATE users SET role = $2, updated_at = now() WHERE id = $1
		 RETURNING ` + userColumns
	return scanUser(s.db.QueryRowContext(ctx, query, id, role))
}

func (s *UserStore) DeleteUser(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = $1`
	return s.exec(ctx, query, id)
}

func (s *UserStore) ListUsers(ctx context.Context, page, pageSize int) ([]authgate.User, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := make([]authgate.User, 0, pageSize)
	for rows.Next() {
		var u authgate.User
		err := rows.Scan(
			&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
			&u.Active, &u.Verified, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return users, total, nil
}

// exec runs an UPDATE/DELETE that must touch exactly one row.
func (s *UserStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}
