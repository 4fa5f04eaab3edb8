package project

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrProjectExists      = errors.New("project already exists")
	ErrEmptyProjectName   = errors.New("project name cannot be empty")
	ErrEmptyProjectGUID   = errors.New("project GUID cannot be empty")
	ErrEmptyCollectionID  = errors.New("team collection GUID cannot be empty")
	ErrInvalidProjectName = errors.New("invalid project name")
)

// Project is a work-item project inside a team collection.
type Project struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// Name as shown by the server.
	Name string `gorm:"type:varchar(256);not null" json:"name"`

	// GUID is the server-assigned project identifier.
	GUID uuid.UUID `gorm:"type:varchar(36);uniqueIndex;not null" json:"guid"`

	// TeamCollectionGUID is the owning collection.
	TeamCollectionGUID uuid.UUID `gorm:"type:varchar(36);index;not null" json:"team_collection_guid"`

	CreatedAt time.Time `json:"created_at"`
}

// NewProject builds a project row for a remote project.
func NewProject(name string, guid, collection uuid.UUID) (*Project, error) {
	p := &Project{Name: name, GUID: guid, TeamCollectionGUID: collection}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks required fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return ErrEmptyProjectName
	}
	if len(p.Name) > 256 {
		return ErrInvalidProjectName
	}
	if p.GUID == uuid.Nil {
		return ErrEmptyProjectGUID
	}
	if p.TeamCollectionGUID == uuid.Nil {
		return ErrEmptyCollectionID
	}
	return nil
}
