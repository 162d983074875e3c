package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mharlow/gatehouse/internal/models"
	"github.com/mharlow/gatehouse/internal/repositories"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
}

func seedTokenFor(t *testing.T, tokens *repositories.VerificationTokenRepository, userID int64, tokenType models.TokenType, value string, ttl time.Duration) *models.VerificationToken {
	t.Helper()
	token, err := tokens.Upsert(context.Background(), userID, tokenType, sha256Hash(value), "", time.Now().Add(ttl))
	require.NoError(t, err)
	return token
}

// ============================================================================
// Upsert Semantics Tests
// ============================================================================

func TestVerificationTokenRepository_UpsertReplacesPendingToken(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "replacer", "replacer@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	first := seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "first-value", time.Hour)
	second := seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "second-value", time.Hour)

	// One row per (user, type); the replacement takes over the slot
	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM verification_tokens WHERE user_id = $1 AND token_type = $2",
		user.ID, models.TokenPasswordReset).Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, first.ID, second.ID)

	// The replaced value is dead, the new one consumable
	_, err = tokens.Consume(ctx, sha256Hash("first-value"), models.TokenPasswordReset)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	consumed, err := tokens.Consume(ctx, sha256Hash("second-value"), models.TokenPasswordReset)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)
}

func TestVerificationTokenRepository_UpsertResetsUsedAt(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "reuser", "reuser@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenEmailChange, "burned-value", time.Hour)
	_, err = tokens.Consume(ctx, sha256Hash("burned-value"), models.TokenEmailChange)
	require.NoError(t, err)

	// Re-requesting the flow issues a fresh consumable token in the same slot
	seedTokenFor(t, tokens, user.ID, models.TokenEmailChange, "fresh-value", time.Hour)
	consumed, err := tokens.Consume(ctx, sha256Hash("fresh-value"), models.TokenEmailChange)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)
}

func TestVerificationTokenRepository_DistinctTypesCoexist(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "multiflow", "multiflow@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "reset-value", time.Hour)
	seedTokenFor(t, tokens, user.ID, models.TokenAccountDeletion, "deletion-value", time.Hour)

	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM verification_tokens WHERE user_id = $1", user.ID).Scan(&count))
	assert.Equal(t, 2, count)

	// Consuming under the wrong type must not match
	_, err = tokens.Consume(ctx, sha256Hash("reset-value"), models.TokenAccountDeletion)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
}

// ============================================================================
// Consume Semantics Tests
// ============================================================================

func TestVerificationTokenRepository_ConsumeIsSingleUse(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "onceonly", "onceonly@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenAccountVerification, "single-use", time.Hour)

	_, err = tokens.Consume(ctx, sha256Hash("single-use"), models.TokenAccountVerification)
	require.NoError(t, err)

	_, err = tokens.Consume(ctx, sha256Hash("single-use"), models.TokenAccountVerification)
	assert.ErrorIs(t, err, models.ErrTokenAlreadyUsed)
}

func TestVerificationTokenRepository_ConcurrentConsumeSingleWinner(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "racer", "racer@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "contested", time.Hour)

	const attempts = 8
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = tokens.Consume(ctx, sha256Hash("contested"), models.TokenPasswordReset)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res == nil {
			winners++
		} else {
			assert.True(t, errors.Is(res, models.ErrTokenAlreadyUsed) || errors.Is(res, models.ErrTokenNotFound),
				"loser got unexpected error: %v", res)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent consume must succeed")
}

func TestVerificationTokenRepository_ConsumeExpiredToken(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "latecomer", "latecomer@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "stale", -time.Minute)

	_, err = tokens.Consume(ctx, sha256Hash("stale"), models.TokenPasswordReset)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

// ============================================================================
// Transactional Consume Tests
// ============================================================================

// A failed mutation must roll back the consume so the token stays usable.
func TestVerificationTokenRepository_ConsumeRollsBackWithTransaction(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	users, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "rollback", "rollback@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenAccountDeletion, "guarded", time.Hour)

	mutationErr := errors.New("mutation failed")
	err = testDB.DB.WithTransaction(ctx, func(tx pgx.Tx) error {
		txTokens := tokens.WithTx(tx)
		if _, err := txTokens.Consume(ctx, sha256Hash("guarded"), models.TokenAccountDeletion); err != nil {
			return err
		}
		return mutationErr
	})
	require.ErrorIs(t, err, mutationErr)

	// Token survived the rollback
	consumed, err := tokens.Consume(ctx, sha256Hash("guarded"), models.TokenAccountDeletion)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)

	// And the committed path applies both sides
	seedTokenFor(t, tokens, user.ID, models.TokenAccountDeletion, "final", time.Hour)
	err = testDB.DB.WithTransaction(ctx, func(tx pgx.Tx) error {
		txUsers := users.WithTx(tx)
		txTokens := tokens.WithTx(tx)
		if _, err := txTokens.Consume(ctx, sha256Hash("final"), models.TokenAccountDeletion); err != nil {
			return err
		}
		return txUsers.Delete(ctx, user.ID)
	})
	require.NoError(t, err)

	_, err = users.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// A commit that the database turns into a rollback must surface as an error,
// not a silent success.
func TestWithTransaction_ReportsCommitFailure(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "committer", "committer@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	seedTokenFor(t, tokens, user.ID, models.TokenPasswordReset, "doomed", time.Hour)

	err = testDB.DB.WithTransaction(ctx, func(tx pgx.Tx) error {
		txTokens := tokens.WithTx(tx)
		if _, err := txTokens.Consume(ctx, sha256Hash("doomed"), models.TokenPasswordReset); err != nil {
			return err
		}
		// Abort the transaction but swallow the statement error; the
		// commit attempt is what must report the failure
		_, _ = tx.Exec(ctx, "SELECT no_such_column FROM verification_tokens")
		return nil
	})
	require.Error(t, err)

	// Nothing committed, so the token is still consumable
	consumed, err := tokens.Consume(ctx, sha256Hash("doomed"), models.TokenPasswordReset)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)
}

// ============================================================================
// Cleanup Tests
// ============================================================================

func TestVerificationTokenRepository_DeleteExpiredHonorsRetention(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	_, tokens := InitializeRepositories(testDB.DB)

	user, err := SeedUser(ctx, testDB.Pool, "janitor", "janitor@example.com", "SecurePassword#456", true)
	require.NoError(t, err)

	// Long past retention
	_, err = testDB.Pool.Exec(ctx, `
		INSERT INTO verification_tokens (id, user_id, token_type, token_hash, expires_at, created_at)
		VALUES (gen_random_uuid(), $1, 'password_reset', $2, NOW() - INTERVAL '3 days', NOW() - INTERVAL '3 days')
	`, user.ID, sha256Hash("ancient"))
	require.NoError(t, err)

	// Expired but within retention
	seedTokenFor(t, tokens, user.ID, models.TokenEmailChange, "recent", -time.Minute)

	deleted, err := tokens.DeleteExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM verification_tokens WHERE user_id = $1", user.ID).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
