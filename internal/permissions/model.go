package permissions

import "time"

type Role string

const (
	RoleMember    Role = "MEMBER"
	RoleAdmin     Role = "ADMIN"
	RolePresident Role = "PRESIDENT"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Membership links one user to one HOA. (UserID, HOAID) is unique.
type Membership struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	HOAID          string     `json:"hoa_id"`
	Role           Role       `json:"role"`
	Status         Status     `json:"status"`
	Note           string     `json:"note,omitempty"`
	DecidedBy      *string    `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (m *Membership) Approved() bool {
	return m != nil && m.Status == StatusApproved
}

// Elevated reports whether the role carries admin capabilities. ADMIN and
// PRESIDENT are interchangeable for every check in this service.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RolePresident
}
