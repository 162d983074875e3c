package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mharlow/gatehouse/internal/database"
	"github.com/mharlow/gatehouse/internal/models"
)

// VerificationTokenRepository handles single-use verification token data
// access. The table holds at most one row per (user_id, token_type), so
// issuing a token invalidates any prior one of the same type.
type VerificationTokenRepository struct {
	q database.Querier
}

func NewVerificationTokenRepository(db *database.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{q: db.Pool}
}

// WithTx returns a repository bound to the given transaction.
func (r *VerificationTokenRepository) WithTx(tx pgx.Tx) *VerificationTokenRepository {
	return &VerificationTokenRepository{q: tx}
}

const tokenColumns = `id, user_id, token_type, token_hash, payload, expires_at, used_at, created_at`

// scanTokenRow handles nullable fields and populates a VerificationToken model from a database row
func scanTokenRow(row rowScanner) (*models.VerificationToken, error) {
	var token models.VerificationToken
	var payload *string
	var usedAt *time.Time

	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenType, &token.TokenHash,
		&payload, &token.ExpiresAt, &usedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if payload != nil {
		token.Payload = *payload
	}
	token.UsedAt = usedAt

	return &token, nil
}

// Upsert stores a token for (userID, tokenType), replacing any existing row
// of that type. The replaced token's hash is overwritten, so its plaintext
// value can never be consumed again.
func (r *VerificationTokenRepository) Upsert(ctx context.Context, userID int64, tokenType models.TokenType, tokenHash, payload string, expiresAt time.Time) (*models.VerificationToken, error) {
	query := `
		INSERT INTO verification_tokens (id, user_id, token_type, token_hash, payload, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NOW())
		ON CONFLICT (user_id, token_type) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    payload = EXCLUDED.payload,
		    expires_at = EXCLUDED.expires_at,
		    used_at = NULL,
		    created_at = NOW()
		RETURNING ` + tokenColumns

	var payloadArg *string
	if payload != "" {
		payloadArg = &payload
	}

	token, err := scanTokenRow(r.q.QueryRow(ctx, query,
		uuid.New().String(), userID, tokenType, tokenHash, payloadArg, expiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert verification token: %w", err)
	}

	return token, nil
}

// Consume atomically marks the matching token as used and returns it. The
// guard in the UPDATE makes concurrent consumption of the same token a
// first-writer-wins race; every other caller gets an error. When no row is
// updated a follow-up read classifies the failure as ErrTokenNotFound,
// ErrTokenExpired, or ErrTokenAlreadyUsed.
func (r *VerificationTokenRepository) Consume(ctx context.Context, tokenHash string, tokenType models.TokenType) (*models.VerificationToken, error) {
	query := `
		UPDATE verification_tokens
		SET used_at = NOW()
		WHERE token_hash = $1 AND token_type = $2 AND used_at IS NULL AND expires_at > NOW()
		RETURNING ` + tokenColumns

	token, err := scanTokenRow(r.q.QueryRow(ctx, query, tokenHash, tokenType))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	return nil, r.classifyConsumeFailure(ctx, tokenHash, tokenType)
}

// classifyConsumeFailure inspects the row (if any) that blocked consumption.
// The distinction feeds logging only; callers surface a single generic
// message regardless.
func (r *VerificationTokenRepository) classifyConsumeFailure(ctx context.Context, tokenHash string, tokenType models.TokenType) error {
	query := `
		SELECT ` + tokenColumns + `
		FROM verification_tokens
		WHERE token_hash = $1 AND token_type = $2
	`

	token, err := scanTokenRow(r.q.QueryRow(ctx, query, tokenHash, tokenType))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenNotFound
		}
		return err
	}

	if token.IsUsed() {
		return models.ErrTokenAlreadyUsed
	}
	if token.IsExpired() {
		return models.ErrTokenExpired
	}

	return models.ErrTokenNotFound
}

// GetActive returns the pending token of the given type for a user, if one
// exists and is still consumable.
func (r *VerificationTokenRepository) GetActive(ctx context.Context, userID int64, tokenType models.TokenType) (*models.VerificationToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM verification_tokens
		WHERE user_id = $1 AND token_type = $2 AND used_at IS NULL AND expires_at > NOW()
	`

	token, err := scanTokenRow(r.q.QueryRow(ctx, query, userID, tokenType))
	if err != nil {
		return nil, err
	}

	return token, nil
}

// DeleteByUserID deletes all tokens for a user
func (r *VerificationTokenRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	query := `DELETE FROM verification_tokens WHERE user_id = $1`

	_, err := r.q.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete tokens for user: %w", err)
	}

	return nil
}

// DeleteExpired removes tokens that expired more than the retention window ago.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE expires_at < NOW() - $1::interval
	`

	result, err := r.q.Exec(ctx, query, retention.String())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
