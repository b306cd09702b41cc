package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// User is the acting identity on governance commands. User management itself
// is an external collaborator concern; this table only carries what the
// exception engine needs to authorize and attribute actions.
type User struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserName    string `gorm:"size:100;uniqueIndex;not null" json:"user_name"`
	DisplayName string `gorm:"size:200" json:"display_name"`
	Email       string `gorm:"size:200" json:"email"`
	Role        string `gorm:"size:20;not null;default:viewer" json:"role"`

	// bcrypt hash of the caller's API token.
	APITokenHash string `gorm:"size:100" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "governance_users"
}

// IsAdmin reports whether the user may run acknowledge, close and
// detect-all commands.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
