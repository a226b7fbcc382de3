package community

import "time"

type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// parseVisibility defaults to PRIVATE.
func parseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case "":
		return VisibilityPrivate, true
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(raw), true
	default:
		return "", false
	}
}

type Post struct {
	ID         string     `json:"id"`
	HOAID      string     `json:"hoa_id"`
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Visibility Visibility `json:"visibility"`
	Comments   int        `json:"comment_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	HOAID      string    `json:"hoa_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type Event struct {
	ID          string     `json:"id"`
	HOAID       string     `json:"hoa_id"`
	AuthorID    string     `json:"author_id"`
	Title       string     `json:"title"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Visibility  Visibility `json:"visibility"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Document struct {
	ID         string     `json:"id"`
	HOAID      string     `json:"hoa_id"`
	UploaderID string     `json:"uploader_id"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
}

type FlagTarget string

const (
	TargetReview  FlagTarget = "REVIEW"
	TargetPost    FlagTarget = "POST"
	TargetComment FlagTarget = "COMMENT"
	TargetUser    FlagTarget = "USER"
)

type Flag struct {
	ID         string     `json:"id"`
	ReporterID string     `json:"reporter_id"`
	HOAID      *string    `json:"hoa_id"`
	TargetType FlagTarget `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type PostInput struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Visibility string `json:"visibility"`
}

type CommentInput struct {
	Body string `json:"body"`
}

type EventInput struct {
	Title       string     `json:"title"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	Visibility  string     `json:"visibility"`
}

type DocumentInput struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Visibility string `json:"visibility"`
}

type FlagInput struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
}
