// Package review handles HOA reviews, admin responses and review moderation.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hoa-portal/internal/permissions"
)

var ErrAlreadyReviewed = errors.New("you have already reviewed this HOA")

const reviewColumns = `rv.id, rv.hoa_id, rv.user_id, rv.stars, rv.text, rv.is_anonymous, rv.status, rv.created_at, rv.updated_at, COALESCE(u.name, '')`

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

func scanReview(row scanner) (Review, error) {
	var (
		rv   Review
		name sql.NullString
	)
	if err := row.Scan(&rv.ID, &rv.HOAID, &rv.UserID, &rv.Stars, &rv.Text, &rv.IsAnonymous, &rv.Status, &rv.CreatedAt, &rv.UpdatedAt, &name); err != nil {
		return Review{}, err
	}
	rv.Author = &Author{ID: rv.UserID, Name: name.String}
	rv.Responses = make([]Response, 0)
	rv.anonymize()
	return rv, nil
}

func (r *Repository) HOAExists(ctx context.Context, hoaID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM hoas WHERE id = $1)`, hoaID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hoa exists: %w", err)
	}
	return exists, nil
}

// Create inserts a PENDING review. One review per user per HOA.
func (r *Repository) Create(ctx context.Context, userID string, input CreateInput) (Review, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Review{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := r.now()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, hoa_id, stars, text, is_anonymous, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7, $7)
		ON CONFLICT (user_id, hoa_id) DO NOTHING
	`, id.String(), userID, input.HOAID, input.Stars, input.Text, input.IsAnonymous, now)
	if err != nil {
		return Review{}, fmt.Errorf("insert review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Review{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Review{}, ErrAlreadyReviewed
	}

	return r.GetByID(ctx, id.String())
}

func (r *Repository) GetByID(ctx context.Context, id string) (Review, error) {
	rv, err := scanReview(r.db.QueryRowContext(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews rv
		JOIN users u ON u.id = rv.user_id
		WHERE rv.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Review{}, err
		}
		return Review{}, fmt.Errorf("query review: %w", err)
	}
	return rv, nil
}

// ListApproved returns one page of an HOA's approved reviews, newest first,
// with their admin responses attached.
func (r *Repository) ListApproved(ctx context.Context, hoaID string, page, limit int) ([]Review, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reviews WHERE hoa_id = $1 AND status = 'APPROVED'
	`, hoaID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews rv
		JOIN users u ON u.id = rv.user_id
		WHERE rv.hoa_id = $1 AND rv.status = 'APPROVED'
		ORDER BY rv.created_at DESC
		LIMIT $2 OFFSET $3
	`, hoaID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	index := make(map[string]int)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan review: %w", err)
		}
		index[rv.ID] = len(reviews)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reviews: %w", err)
	}
	if len(reviews) == 0 {
		return reviews, total, nil
	}

	responses, err := r.db.QueryContext(ctx, `
		SELECT rr.id, rr.review_id, rr.text, rr.created_at, u.id, COALESCE(u.name, '')
		FROM review_responses rr
		JOIN users u ON u.id = rr.responder_id
		WHERE rr.review_id IN (
			SELECT id FROM reviews
			WHERE hoa_id = $1 AND status = 'APPROVED'
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		)
		ORDER BY rr.created_at ASC
	`, hoaID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query review responses: %w", err)
	}
	defer responses.Close()

	for responses.Next() {
		var (
			resp          Response
			responderName sql.NullString
		)
		if err := responses.Scan(&resp.ID, &resp.ReviewID, &resp.Text, &resp.CreatedAt, &resp.Responder.ID, &responderName); err != nil {
			return nil, 0, fmt.Errorf("scan review response: %w", err)
		}
		resp.Responder.Name = responderName.String
		if i, ok := index[resp.ReviewID]; ok {
			reviews[i].Responses = append(reviews[i].Responses, resp)
		}
	}
	if err := responses.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review responses: %w", err)
	}

	return reviews, total, nil
}

func (r *Repository) ListPending(ctx context.Context, limit int) ([]Review, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews rv
		JOIN users u ON u.id = rv.user_id
		WHERE rv.status = 'PENDING'
		ORDER BY rv.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending reviews: %w", err)
	}
	return reviews, nil
}

func (r *Repository) AddResponse(ctx context.Context, reviewID, responderID, text string) (Response, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Response{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	resp := Response{ID: id.String(), ReviewID: reviewID, Text: text, CreatedAt: r.now()}
	var responderName sql.NullString
	err = r.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO review_responses (id, review_id, responder_id, text, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING responder_id
		)
		SELECT u.id, COALESCE(u.name, '') FROM inserted JOIN users u ON u.id = inserted.responder_id
	`, resp.ID, reviewID, responderID, text, resp.CreatedAt).Scan(&resp.Responder.ID, &responderName)
	if err != nil {
		return Response{}, fmt.Errorf("insert review response: %w", err)
	}
	resp.Responder.Name = responderName.String
	return resp, nil
}

func (r *Repository) SetStatus(ctx context.Context, id string, status permissions.Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reviews SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), r.now())
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
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
