package review

import (
	"time"

	"hoa-portal/internal/permissions"
)

type Author struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type Response struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"review_id"`
	Text      string    `json:"text"`
	Responder Author    `json:"responder"`
	CreatedAt time.Time `json:"created_at"`
}

type Review struct {
	ID          string             `json:"id"`
	HOAID       string             `json:"hoa_id"`
	UserID      string             `json:"-"`
	Stars       int                `json:"stars"`
	Text        string             `json:"text,omitempty"`
	IsAnonymous bool               `json:"is_anonymous"`
	Status      permissions.Status `json:"status"`
	Author      *Author            `json:"user"`
	Responses   []Response         `json:"admin_responses"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type CreateInput struct {
	HOAID       string `json:"hoaId"`
	Stars       int    `json:"stars"`
	Text        string `json:"text"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// anonymize hides the reviewer's identity when they asked for it.
func (r *Review) anonymize() {
	if r.IsAnonymous {
		r.Author = &Author{Name: "Anonymous"}
	}
}
