package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// UserStore implements storage.UserStore using SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a SQLite-backed UserStore.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db.DB()}
}

var _ storage.UserStore = (*UserStore)(nil)

const userColumns = `id, email, auth_provider, provider_user_id, account_status,
	encryption_salt, created_at, updated_at, last_login_at`

// Create inserts a new user row.
func (s *UserStore) Create(ctx context.Context, user storage.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, auth_provider, provider_user_id, account_status,
			encryption_salt, created_at, updated_at, last_login_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.AuthProvider,
		user.ProviderUserID,
		user.AccountStatus,
		nullableStr(user.EncryptionSalt),
		user.CreatedAt,
		user.UpdatedAt,
		nullableMs(user.LastLoginAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by its opaque ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (storage.User, error) {
	return s.getWhere(ctx, `id = ?`, id)
}

// GetByProviderSubject retrieves a user by its provider identity.
func (s *UserStore) GetByProviderSubject(ctx context.Context, provider, subject string) (storage.User, error) {
	return s.getWhere(ctx, `auth_provider = ? AND provider_user_id = ?`, provider, subject)
}

// GetByEmail retrieves a user by email, regardless of provider.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (storage.User, error) {
	return s.getWhere(ctx, `email = ?`, email)
}

func (s *UserStore) getWhere(ctx context.Context, where string, args ...any) (storage.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)

	var (
		u           storage.User
		salt        sql.NullString
		lastLoginAt sql.NullInt64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.AuthProvider, &u.ProviderUserID, &u.AccountStatus,
		&salt, &u.CreatedAt, &u.UpdatedAt, &lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("scanning user row: %w", err)
	}
	u.EncryptionSalt = strOf(salt)
	u.LastLoginAt = msOf(lastLoginAt)
	return u, nil
}

// TouchLogin stamps last_login_at and updated_at.
func (s *UserStore) TouchLogin(ctx context.Context, id string, now int64) error {
	return s.update(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
}

// SetEncryptionSalt stores the client-supplied encryption salt.
func (s *UserStore) SetEncryptionSalt(ctx context.Context, id, salt string, now int64) error {
	return s.update(ctx,
		`UPDATE users SET encryption_salt = ?, updated_at = ? WHERE id = ?`,
		salt, now, id)
}

func (s *UserStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
