package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedMagicLinks    int64 `json:"deleted_magic_links"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	u.id, u.email, COALESCE(u.name, ''),
	COALESCE((SELECT string_agg(r.role, ',' ORDER BY r.role) FROM user_roles r WHERE r.user_id = u.id), ''),
	u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var roles string
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &roles, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Roles = splitRoles(roles)
	return user, nil
}

func splitRoles(value string) []string {
	roles := make([]string, 0)
	for _, role := range strings.Split(value, ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// UpsertUserByEmail returns the user for email, creating it on first sign-in.
func (r *Repository) UpsertUserByEmail(ctx context.Context, email string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	var userID string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (email) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id
	`, id.String(), email, now).Scan(&userID)
	if err != nil {
		return User{}, fmt.Errorf("upsert user by email: %w", err)
	}

	return r.GetUserByID(ctx, userID)
}

// GrantRoleByEmail creates the user if needed and adds a global role.
func (r *Repository) GrantRoleByEmail(ctx context.Context, email, role string) error {
	user, err := r.UpsertUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, user.ID, role)
	if err != nil {
		return fmt.Errorf("grant role %s: %w", role, err)
	}

	return nil
}

func (r *Repository) CreateMagicLink(ctx context.Context, email, rawToken string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate magic link id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_magic_links (id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), email, hashToken(rawToken), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert magic link: %w", err)
	}

	return nil
}

// ConsumeMagicLink marks an unexpired, unused link as used and returns it.
// A second call with the same token returns ErrInvalidMagicLink.
func (r *Repository) ConsumeMagicLink(ctx context.Context, rawToken string, now time.Time) (MagicLink, error) {
	var link MagicLink
	err := r.db.QueryRowContext(ctx, `
		UPDATE auth_magic_links
		SET consumed_at = $2
		WHERE token_hash = $1
		  AND consumed_at IS NULL
		  AND expires_at > $2
		RETURNING id, email, expires_at
	`, hashToken(rawToken), now.UTC()).Scan(&link.ID, &link.Email, &link.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MagicLink{}, ErrInvalidMagicLink
		}
		return MagicLink{}, fmt.Errorf("consume magic link: %w", err)
	}

	return link, nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), userID, hashToken(rawToken), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) RotateRefreshToken(ctx context.Context, rawOldToken, rawNewToken string, newExpiresAt time.Time) (string, error) {
	newID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate new refresh token id: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	var oldID string
	var userID string
	var expiresAt time.Time
	var revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, revoked_at
		FROM auth_refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, hashToken(rawOldToken)).Scan(&oldID, &userID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	if revokedAt.Valid || now.After(expiresAt.UTC()) {
		return "", ErrInvalidRefreshToken
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, newID.String(), userID, hashToken(rawNewToken), newExpiresAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert rotated refresh token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1
	`, oldID, now, newID.String())
	if err != nil {
		return "", fmt.Errorf("revoke old refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit refresh rotation tx: %w", err)
	}

	return userID, nil
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, hashToken(rawToken), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInvalidRefreshToken
	}

	return nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, refreshRetention, magicLinkRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if refreshRetention <= 0 {
		refreshRetention = 14 * 24 * time.Hour
	}
	if magicLinkRetention <= 0 {
		magicLinkRetention = 24 * time.Hour
	}

	now := time.Now().UTC()

	deletedRefreshTokens, err := r.deleteStaleRefreshTokens(ctx, now.Add(-refreshRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedMagicLinks, err := r.deleteStaleMagicLinks(ctx, now.Add(-magicLinkRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedRefreshTokens,
		DeletedMagicLinks:    deletedMagicLinks,
	}, nil
}

func (r *Repository) deleteStaleRefreshTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW() OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleMagicLinks(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_magic_links
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM auth_magic_links t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale magic links: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale magic links rows affected: %w", err)
	}

	return affected, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidMagicLink    = errors.New("invalid or expired sign-in link")
)
