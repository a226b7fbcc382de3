// Package hoa serves HOA profiles, search and admin settings.
package hoa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// hoaFrom joins the approved-review rating and approved member count onto
// every HOA row so search filters can reference them.
const hoaFrom = `
	FROM hoas h
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS review_count,
		       AVG(rv.stars)::float8 AS average,
		       COUNT(*) FILTER (WHERE rv.stars = 1) AS s1,
		       COUNT(*) FILTER (WHERE rv.stars = 2) AS s2,
		       COUNT(*) FILTER (WHERE rv.stars = 3) AS s3,
		       COUNT(*) FILTER (WHERE rv.stars = 4) AS s4,
		       COUNT(*) FILTER (WHERE rv.stars = 5) AS s5
		FROM reviews rv
		WHERE rv.hoa_id = h.id AND rv.status = 'APPROVED'
	) rating ON true
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS member_count
		FROM memberships m
		WHERE m.hoa_id = h.id AND m.status = 'APPROVED'
	) members ON true
`

const hoaColumns = `
	h.id, h.name, h.slug, h.description_public, h.description_private, h.location, h.city,
	h.state, h.zip_code, h.amenities, h.unit_count, h.created_at, h.updated_at,
	rating.review_count, rating.average, rating.s1, rating.s2, rating.s3, rating.s4, rating.s5,
	members.member_count
`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHOA(row scanner) (HOA, error) {
	var (
		h         HOA
		amenities []byte
		unitCount sql.NullInt64
		average   sql.NullFloat64
		stars     [5]int
	)
	err := row.Scan(
		&h.ID, &h.Name, &h.Slug, &h.DescriptionPublic, &h.DescriptionPrivate, &h.Location, &h.City,
		&h.State, &h.ZipCode, &amenities, &unitCount, &h.CreatedAt, &h.UpdatedAt,
		&h.ReviewCount, &average, &stars[0], &stars[1], &stars[2], &stars[3], &stars[4],
		&h.MemberCount,
	)
	if err != nil {
		return HOA{}, err
	}

	h.Amenities = make([]string, 0)
	if len(amenities) > 0 {
		if err := json.Unmarshal(amenities, &h.Amenities); err != nil {
			return HOA{}, fmt.Errorf("decode amenities: %w", err)
		}
	}
	if unitCount.Valid {
		n := int(unitCount.Int64)
		h.UnitCount = &n
	}
	if h.ReviewCount > 0 && average.Valid {
		h.Rating = &Rating{Average: average.Float64, Count: h.ReviewCount, Breakdown: make(map[int]int, 5)}
		for i, n := range stars {
			h.Rating.Breakdown[i+1] = n
		}
	}
	return h, nil
}

func (r *Repository) Search(ctx context.Context, params SearchParams) ([]HOA, int, error) {
	var whereClauses []string
	var args []any
	argCount := 0

	if params.Query != "" {
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf(`(h.name ILIKE $%d OR h.location ILIKE $%d OR h.city ILIKE $%d OR h.state ILIKE $%d
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(h.amenities) a WHERE a ILIKE $%d))`,
			argCount, argCount, argCount, argCount, argCount))
		args = append(args, "%"+params.Query+"%")
	}
	if params.State != "" {
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf("h.state ILIKE $%d", argCount))
		args = append(args, "%"+params.State+"%")
	}
	if params.City != "" {
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf("h.city ILIKE $%d", argCount))
		args = append(args, "%"+params.City+"%")
	}
	if params.Location != "" {
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf("h.location ILIKE $%d", argCount))
		args = append(args, "%"+params.Location+"%")
	}
	if len(params.Amenities) > 0 {
		encoded, err := json.Marshal(params.Amenities)
		if err != nil {
			return nil, 0, fmt.Errorf("encode amenities filter: %w", err)
		}
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf("h.amenities @> $%d::jsonb", argCount))
		args = append(args, string(encoded))
	}
	if params.RatingMin > 0 {
		argCount++
		whereClauses = append(whereClauses, fmt.Sprintf("rating.average >= $%d", argCount))
		args = append(args, params.RatingMin)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) "+hoaFrom+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count hoas: %w", err)
	}

	searchSQL := fmt.Sprintf(`SELECT %s %s %s
		ORDER BY rating.average DESC NULLS LAST, h.created_at DESC
		LIMIT $%d OFFSET $%d`, hoaColumns, hoaFrom, whereClause, argCount+1, argCount+2)
	args = append(args, params.Limit, (params.Page-1)*params.Limit)

	rows, err := r.db.QueryContext(ctx, searchSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search hoas: %w", err)
	}
	defer rows.Close()

	hoas := make([]HOA, 0)
	for rows.Next() {
		h, err := scanHOA(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan hoa: %w", err)
		}
		hoas = append(hoas, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate hoas: %w", err)
	}

	return hoas, total, nil
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (HOA, error) {
	h, err := scanHOA(r.db.QueryRowContext(ctx, "SELECT "+hoaColumns+hoaFrom+"WHERE h.slug = $1", slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HOA{}, err
		}
		return HOA{}, fmt.Errorf("query hoa by slug: %w", err)
	}
	return h, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (HOA, error) {
	h, err := scanHOA(r.db.QueryRowContext(ctx, "SELECT "+hoaColumns+hoaFrom+"WHERE h.id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HOA{}, err
		}
		return HOA{}, fmt.Errorf("query hoa by id: %w", err)
	}
	return h, nil
}

// UpdateSettings applies the non-nil fields of input.
func (r *Repository) UpdateSettings(ctx context.Context, id string, input SettingsInput) error {
	var amenities any
	if input.Amenities != nil {
		encoded, err := json.Marshal(*input.Amenities)
		if err != nil {
			return fmt.Errorf("encode amenities: %w", err)
		}
		amenities = string(encoded)
	}
	var unitCount sql.NullInt64
	if input.UnitCount != nil {
		unitCount = sql.NullInt64{Int64: int64(*input.UnitCount), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE hoas
		SET name = COALESCE($2, name),
		    description_public = COALESCE($3, description_public),
		    description_private = COALESCE($4, description_private),
		    location = COALESCE($5, location),
		    amenities = COALESCE($6::jsonb, amenities),
		    unit_count = COALESCE($7, unit_count),
		    updated_at = $8
		WHERE id = $1
	`, id, nullString(input.Name), nullString(input.DescriptionPublic), nullString(input.DescriptionPrivate),
		nullString(input.Location), amenities, unitCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update hoa settings: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *Repository) Analytics(ctx context.Context, hoaID string) (Analytics, error) {
	a := Analytics{HOAID: hoaID}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memberships WHERE hoa_id = $1 AND status = 'APPROVED'),
			(SELECT COUNT(*) FROM memberships WHERE hoa_id = $1 AND status = 'PENDING'),
			(SELECT COUNT(*) FROM reviews WHERE hoa_id = $1 AND status = 'APPROVED'),
			(SELECT COUNT(*) FROM reviews WHERE hoa_id = $1 AND status = 'PENDING'),
			(SELECT COALESCE(AVG(stars), 0)::float8 FROM reviews WHERE hoa_id = $1 AND status = 'APPROVED'),
			(SELECT COUNT(*) FROM posts WHERE hoa_id = $1),
			(SELECT COUNT(*) FROM events WHERE hoa_id = $1),
			(SELECT COUNT(*) FROM flags WHERE hoa_id = $1 AND status = 'OPEN')
	`, hoaID).Scan(
		&a.ApprovedMembers, &a.PendingMembers, &a.ApprovedReviews, &a.PendingReviews,
		&a.AverageRating, &a.Posts, &a.Events, &a.OpenFlags,
	)
	if err != nil {
		return Analytics{}, fmt.Errorf("query hoa analytics: %w", err)
	}
	return a, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
