// Package membership stores requests to invite users into projects.
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvitationNotFound = errors.New("invitation request not found")
	ErrInvalidInvitation  = errors.New("invalid invitation request")
)

// Role is the project role a user is invited with.
type Role string

const (
	RoleReader      Role = "reader"
	RoleContributor Role = "contributor"
	RoleOwner       Role = "owner"
)

// InvitationRequest asks for Username to join the project ProjectGUID.
type InvitationRequest struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectGUID uuid.UUID `gorm:"type:varchar(36);index;not null" json:"project_guid" validate:"required"`
	Username    string    `gorm:"type:varchar(256);index;not null" json:"username" validate:"required,max=256"`
	UserRole    Role      `gorm:"type:varchar(32);not null" json:"user_role" validate:"required,oneof=reader contributor owner"`
	CreatedAt   time.Time `json:"created_at"`
}
