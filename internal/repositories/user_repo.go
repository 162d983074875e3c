package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mharlow/gatehouse/internal/database"
	"github.com/mharlow/gatehouse/internal/models"
)

type UserRepository struct {
	q database.Querier
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{q: db.Pool}
}

// WithTx returns a repository bound to the given transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{q: tx}
}

const userColumns = `id, username, email, password_hash, role, account_verified, totp_auth_on, totp_ciphertext, totp_iv, totp_tag, created_at, updated_at`

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var ciphertext, iv, tag *string

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.AccountVerified, &user.TOTPAuthOn,
		&ciphertext, &iv, &tag,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if ciphertext != nil && iv != nil && tag != nil {
		user.TOTPSecret = &models.EncryptedSecret{
			Ciphertext: *ciphertext,
			IV:         *iv,
			Tag:        *tag,
		}
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUserRow(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetByEmail matches the address case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUserRow(r.q.QueryRow(ctx, query, email))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetByUsername matches the username case-insensitively.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`

	user, err := scanUserRow(r.q.QueryRow(ctx, query, username))
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}

	query := `
		INSERT INTO users (username, email, password_hash, role, account_verified, totp_auth_on, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	createdUser, err := scanUserRow(r.q.QueryRow(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role,
		user.AccountVerified, user.TOTPAuthOn,
		user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return createdUser, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.q.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *UserRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	query := `UPDATE users SET email = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.q.Exec(ctx, query, email, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *UserRepository) SetVerified(ctx context.Context, id int64) error {
	query := `UPDATE users SET account_verified = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetTOTP stores the encrypted secret and turns two-factor auth on in one write.
func (r *UserRepository) SetTOTP(ctx context.Context, id int64, secret *models.EncryptedSecret) error {
	query := `
		UPDATE users
		SET totp_auth_on = TRUE, totp_ciphertext = $1, totp_iv = $2, totp_tag = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.q.Exec(ctx, query, secret.Ciphertext, secret.IV, secret.Tag, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ClearTOTP turns two-factor auth off and discards the stored secret.
func (r *UserRepository) ClearTOTP(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET totp_auth_on = FALSE, totp_ciphertext = NULL, totp_iv = NULL, totp_tag = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
