// Package membership stores join requests and the admin decisions on them.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hoa-portal/internal/permissions"
)

var (
	ErrAlreadyExists = errors.New("membership request already exists")
	ErrNotPending    = errors.New("membership has already been decided")
)

const membershipColumns = `id, user_id, hoa_id, role, status, note, decided_by, decided_at, decision_reason, created_at, updated_at`

// Member is a membership joined with the member's public identity.
type Member struct {
	permissions.Membership
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// UserMembership is a membership joined with the HOA it belongs to.
type UserMembership struct {
	permissions.Membership
	HOAName string `json:"hoa_name"`
	HOASlug string `json:"hoa_slug"`
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner, extra ...any) (permissions.Membership, error) {
	var (
		m         permissions.Membership
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	dest := []any{&m.ID, &m.UserID, &m.HOAID, &m.Role, &m.Status, &m.Note, &decidedBy, &decidedAt, &m.DecisionReason, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return permissions.Membership{}, err
	}
	if decidedBy.Valid {
		m.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		m.DecidedAt = &t
	}
	return m, nil
}

// GetMembership satisfies permissions.MembershipStore: no row is nil, nil.
func (r *Repository) GetMembership(ctx context.Context, userID, hoaID string) (*permissions.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE user_id = $1 AND hoa_id = $2
	`, userID, hoaID)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return &m, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (permissions.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE id = $1
	`, id)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return permissions.Membership{}, err
		}
		return permissions.Membership{}, fmt.Errorf("query membership by id: %w", err)
	}
	return m, nil
}

func (r *Repository) HOAExists(ctx context.Context, hoaID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM hoas WHERE id = $1)`, hoaID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hoa exists: %w", err)
	}
	return exists, nil
}

// Request creates a PENDING MEMBER row. A previously rejected row for the
// same user and HOA is reopened in place; any other existing row yields
// ErrAlreadyExists.
func (r *Repository) Request(ctx context.Context, userID, hoaID, note string) (permissions.Membership, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return permissions.Membership{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := r.now()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO memberships (id, user_id, hoa_id, role, status, note, created_at, updated_at)
		VALUES ($1, $2, $3, 'MEMBER', 'PENDING', $4, $5, $5)
		ON CONFLICT (user_id, hoa_id) DO UPDATE
		SET status = 'PENDING',
		    role = 'MEMBER',
		    note = EXCLUDED.note,
		    decided_by = NULL,
		    decided_at = NULL,
		    decision_reason = '',
		    updated_at = EXCLUDED.updated_at
		WHERE memberships.status = 'REJECTED'
		RETURNING `+membershipColumns+`
	`, id.String(), userID, hoaID, note, now)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return permissions.Membership{}, ErrAlreadyExists
		}
		return permissions.Membership{}, fmt.Errorf("upsert membership request: %w", err)
	}
	return m, nil
}

// Decide moves a PENDING membership to status. Rows that are no longer
// pending are left untouched and reported as ErrNotPending.
func (r *Repository) Decide(ctx context.Context, id, deciderID string, status permissions.Status, reason string) (permissions.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE memberships
		SET status = $2, decided_by = $3, decided_at = $4, decision_reason = $5, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+membershipColumns+`
	`, id, string(status), deciderID, r.now(), reason)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return permissions.Membership{}, ErrNotPending
		}
		return permissions.Membership{}, fmt.Errorf("decide membership: %w", err)
	}
	return m, nil
}

// ListByHOA returns the HOA's memberships, oldest first. An empty status
// returns every status.
func (r *Repository) ListByHOA(ctx context.Context, hoaID string, status permissions.Status) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.hoa_id, m.role, m.status, m.note, m.decided_by, m.decided_at,
		       m.decision_reason, m.created_at, m.updated_at, u.email, COALESCE(u.name, '')
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.hoa_id = $1 AND ($2 = '' OR m.status = $2)
		ORDER BY m.created_at ASC
	`, hoaID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query hoa members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var (
			member Member
			name   sql.NullString
		)
		m, err := scanMembership(rows, &member.Email, &name)
		if err != nil {
			return nil, fmt.Errorf("scan hoa member: %w", err)
		}
		member.Membership = m
		member.Name = name.String
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hoa members: %w", err)
	}
	return members, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]UserMembership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.hoa_id, m.role, m.status, m.note, m.decided_by, m.decided_at,
		       m.decision_reason, m.created_at, m.updated_at, h.name, h.slug
		FROM memberships m
		JOIN hoas h ON h.id = m.hoa_id
		WHERE m.user_id = $1
		ORDER BY m.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]UserMembership, 0)
	for rows.Next() {
		var um UserMembership
		m, err := scanMembership(rows, &um.HOAName, &um.HOASlug)
		if err != nil {
			return nil, fmt.Errorf("scan user membership: %w", err)
		}
		um.Membership = m
		memberships = append(memberships, um)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user memberships: %w", err)
	}
	return memberships, nil
}
