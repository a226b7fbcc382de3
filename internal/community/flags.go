package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrFlagTargetNotFound = errors.New("flagged content not found")

// flagTargetHOA maps a flag target to the query that finds its HOA. USER
// targets have no HOA; the query only confirms the user exists.
var flagTargetHOA = map[FlagTarget]string{
	TargetReview:  `SELECT hoa_id FROM reviews WHERE id = $1`,
	TargetPost:    `SELECT hoa_id FROM posts WHERE id = $1`,
	TargetComment: `SELECT p.hoa_id FROM comments c JOIN posts p ON p.id = c.post_id WHERE c.id = $1`,
	TargetUser:    `SELECT NULL::text FROM users WHERE id = $1`,
}

const flagColumns = `id, reporter_id, hoa_id, target_type, target_id, reason, status, resolved_by, resolved_at, created_at`

func scanFlag(row scanner) (Flag, error) {
	var (
		f          Flag
		hoaID      sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.ReporterID, &hoaID, &f.TargetType, &f.TargetID, &f.Reason, &f.Status, &resolvedBy, &resolvedAt, &f.CreatedAt); err != nil {
		return Flag{}, err
	}
	if hoaID.Valid {
		f.HOAID = &hoaID.String
	}
	if resolvedBy.Valid {
		f.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		f.ResolvedAt = &t
	}
	return f, nil
}

// CreateFlag records an OPEN flag against an existing target. The flag
// inherits the target's HOA so HOA admins can see it in their queue.
func (r *Repository) CreateFlag(ctx context.Context, reporterID string, target FlagTarget, targetID, reason string) (Flag, error) {
	query, ok := flagTargetHOA[target]
	if !ok {
		return Flag{}, fmt.Errorf("unknown flag target %q", target)
	}

	var hoaID sql.NullString
	if err := r.db.QueryRowContext(ctx, query, targetID).Scan(&hoaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Flag{}, ErrFlagTargetNotFound
		}
		return Flag{}, fmt.Errorf("resolve flag target: %w", err)
	}

	id, err := newID()
	if err != nil {
		return Flag{}, err
	}

	f := Flag{
		ID:         id,
		ReporterID: reporterID,
		TargetType: target,
		TargetID:   targetID,
		Reason:     reason,
		Status:     "OPEN",
		CreatedAt:  r.now(),
	}
	if hoaID.Valid {
		f.HOAID = &hoaID.String
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flags (id, reporter_id, hoa_id, target_type, target_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'OPEN', $7)
	`, f.ID, f.ReporterID, hoaID, string(f.TargetType), f.TargetID, f.Reason, f.CreatedAt)
	if err != nil {
		return Flag{}, fmt.Errorf("insert flag: %w", err)
	}
	return f, nil
}

// ListOpenFlags returns the oldest open flags. An empty hoaID lists every HOA.
func (r *Repository) ListOpenFlags(ctx context.Context, hoaID string) ([]Flag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+flagColumns+`
		FROM flags
		WHERE status = 'OPEN' AND ($1 = '' OR hoa_id = $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, hoaID, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("query open flags: %w", err)
	}
	defer rows.Close()

	flags := make([]Flag, 0)
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return flags, nil
}

// ResolveFlag closes an open flag. With a non-empty hoaID the flag must
// belong to that HOA. Missing, foreign and already resolved flags all return
// sql.ErrNoRows.
func (r *Repository) ResolveFlag(ctx context.Context, flagID, hoaID, resolverID string) (Flag, error) {
	now := r.now()
	f, err := scanFlag(r.db.QueryRowContext(ctx, `
		UPDATE flags
		SET status = 'RESOLVED', resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'OPEN' AND ($2 = '' OR hoa_id = $2)
		RETURNING `+flagColumns+`
	`, flagID, hoaID, resolverID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Flag{}, err
		}
		return Flag{}, fmt.Errorf("resolve flag: %w", err)
	}
	return f, nil
}
