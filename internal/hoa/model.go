package hoa

import "time"

type Rating struct {
	Average   float64     `json:"average"`
	Count     int         `json:"count"`
	Breakdown map[int]int `json:"breakdown"`
}

type HOA struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	DescriptionPublic  string    `json:"description_public"`
	DescriptionPrivate string    `json:"description_private,omitempty"`
	Location           string    `json:"location"`
	City               string    `json:"city"`
	State              string    `json:"state"`
	ZipCode            string    `json:"zip_code"`
	Amenities          []string  `json:"amenities"`
	UnitCount          *int      `json:"unit_count"`
	Rating             *Rating   `json:"rating"`
	ReviewCount        int       `json:"review_count"`
	MemberCount        int       `json:"member_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type SearchParams struct {
	Query     string
	State     string
	City      string
	Location  string
	RatingMin float64
	Amenities []string
	Page      int
	Limit     int
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}

// SettingsInput is a partial update; nil fields are left unchanged.
type SettingsInput struct {
	Name               *string   `json:"name"`
	DescriptionPublic  *string   `json:"descriptionPublic"`
	DescriptionPrivate *string   `json:"descriptionPrivate"`
	Location           *string   `json:"location"`
	Amenities          *[]string `json:"amenities"`
	UnitCount          *int      `json:"unitCount"`
}

type Analytics struct {
	HOAID           string  `json:"hoa_id"`
	ApprovedMembers int     `json:"approved_members"`
	PendingMembers  int     `json:"pending_members"`
	ApprovedReviews int     `json:"approved_reviews"`
	PendingReviews  int     `json:"pending_reviews"`
	AverageRating   float64 `json:"average_rating"`
	Posts           int     `json:"posts"`
	Events          int     `json:"events"`
	OpenFlags       int     `json:"open_flags"`
}
