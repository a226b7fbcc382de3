// Package community is the members-only side of an HOA: posts, comments,
// events, documents and content flags.
package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 50

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}

func (r *Repository) CreatePost(ctx context.Context, hoaID, authorID string, input PostInput, visibility Visibility) (Post, error) {
	id, err := newID()
	if err != nil {
		return Post{}, err
	}
	now := r.now()

	p := Post{
		ID:         id,
		HOAID:      hoaID,
		AuthorID:   authorID,
		Title:      input.Title,
		Body:       input.Body,
		Visibility: visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var authorName sql.NullString
	err = r.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO posts (id, hoa_id, author_id, title, body, visibility, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING author_id
		)
		SELECT COALESCE(u.name, '') FROM inserted JOIN users u ON u.id = inserted.author_id
	`, p.ID, p.HOAID, p.AuthorID, p.Title, p.Body, string(p.Visibility), now).Scan(&authorName)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	p.AuthorName = authorName.String
	return p, nil
}

const postSelect = `
	SELECT p.id, p.hoa_id, p.author_id, COALESCE(u.name, ''), p.title, p.body, p.visibility,
	       (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id), p.created_at, p.updated_at
	FROM posts p
	JOIN users u ON u.id = p.author_id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (Post, error) {
	var (
		p          Post
		authorName sql.NullString
	)
	err := row.Scan(&p.ID, &p.HOAID, &p.AuthorID, &authorName, &p.Title, &p.Body, &p.Visibility, &p.Comments, &p.CreatedAt, &p.UpdatedAt)
	p.AuthorName = authorName.String
	return p, err
}

func (r *Repository) GetPost(ctx context.Context, id string) (Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx, postSelect+`WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, err
		}
		return Post{}, fmt.Errorf("query post: %w", err)
	}
	return p, nil
}

// ListPosts returns the newest posts first. Private posts are only included
// when includePrivate is set.
func (r *Repository) ListPosts(ctx context.Context, hoaID string, includePrivate bool) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, postSelect+`
		WHERE p.hoa_id = $1 AND ($2 OR p.visibility = 'PUBLIC')
		ORDER BY p.created_at DESC
		LIMIT $3
	`, hoaID, includePrivate, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (r *Repository) DeletePost(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "posts", id)
}

func (r *Repository) CreateComment(ctx context.Context, post Post, authorID, body string) (Comment, error) {
	id, err := newID()
	if err != nil {
		return Comment{}, err
	}

	c := Comment{ID: id, PostID: post.ID, HOAID: post.HOAID, AuthorID: authorID, Body: body, CreatedAt: r.now()}
	var authorName sql.NullString
	err = r.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO comments (id, post_id, author_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING author_id
		)
		SELECT COALESCE(u.name, '') FROM inserted JOIN users u ON u.id = inserted.author_id
	`, c.ID, c.PostID, c.AuthorID, c.Body, c.CreatedAt).Scan(&authorName)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	c.AuthorName = authorName.String
	return c, nil
}

const commentSelect = `
	SELECT c.id, c.post_id, p.hoa_id, c.author_id, COALESCE(u.name, ''), c.body, c.created_at
	FROM comments c
	JOIN posts p ON p.id = c.post_id
	JOIN users u ON u.id = c.author_id
`

func scanComment(row scanner) (Comment, error) {
	var (
		c          Comment
		authorName sql.NullString
	)
	err := row.Scan(&c.ID, &c.PostID, &c.HOAID, &c.AuthorID, &authorName, &c.Body, &c.CreatedAt)
	c.AuthorName = authorName.String
	return c, err
}

func (r *Repository) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx, commentSelect+`WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, err
		}
		return Comment{}, fmt.Errorf("query comment: %w", err)
	}
	return c, nil
}

func (r *Repository) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, commentSelect+`
		WHERE c.post_id = $1
		ORDER BY c.created_at ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func (r *Repository) DeleteComment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "comments", id)
}

func (r *Repository) CreateEvent(ctx context.Context, hoaID, authorID string, input EventInput, visibility Visibility) (Event, error) {
	id, err := newID()
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:          id,
		HOAID:       hoaID,
		AuthorID:    authorID,
		Title:       input.Title,
		StartsAt:    input.StartsAt.UTC(),
		Location:    input.Location,
		Description: input.Description,
		Visibility:  visibility,
		CreatedAt:   r.now(),
	}
	var endsAt sql.NullTime
	if input.EndsAt != nil {
		t := input.EndsAt.UTC()
		e.EndsAt = &t
		endsAt = sql.NullTime{Time: t, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO events (id, hoa_id, author_id, title, starts_at, ends_at, location, description, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.HOAID, e.AuthorID, e.Title, e.StartsAt, endsAt, e.Location, e.Description, string(e.Visibility), e.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// ListEvents returns events that have not ended yet, soonest first.
func (r *Repository) ListEvents(ctx context.Context, hoaID string, includePrivate bool) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hoa_id, author_id, title, starts_at, ends_at, location, description, visibility, created_at
		FROM events
		WHERE hoa_id = $1 AND ($2 OR visibility = 'PUBLIC') AND COALESCE(ends_at, starts_at) >= $3
		ORDER BY starts_at ASC
		LIMIT $4
	`, hoaID, includePrivate, r.now(), defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			e      Event
			endsAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.HOAID, &e.AuthorID, &e.Title, &e.StartsAt, &endsAt, &e.Location, &e.Description, &e.Visibility, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if endsAt.Valid {
			t := endsAt.Time.UTC()
			e.EndsAt = &t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (r *Repository) CreateDocument(ctx context.Context, hoaID, uploaderID, title, url string, visibility Visibility) (Document, error) {
	id, err := newID()
	if err != nil {
		return Document{}, err
	}

	d := Document{ID: id, HOAID: hoaID, UploaderID: uploaderID, Title: title, URL: url, Visibility: visibility, CreatedAt: r.now()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (id, hoa_id, uploader_id, title, url, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.HOAID, d.UploaderID, d.Title, d.URL, string(d.Visibility), d.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

func (r *Repository) ListDocuments(ctx context.Context, hoaID string, includePrivate bool) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hoa_id, uploader_id, title, url, visibility, created_at
		FROM documents
		WHERE hoa_id = $1 AND ($2 OR visibility = 'PUBLIC')
		ORDER BY created_at DESC
	`, hoaID, includePrivate)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.HOAID, &d.UploaderID, &d.Title, &d.URL, &d.Visibility, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// deleteByID is only called with the fixed table names above.
func (r *Repository) deleteByID(ctx context.Context, table, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
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
