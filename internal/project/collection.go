package project

import (
	"strings"

	"github.com/google/uuid"
)

// TeamCollection is a team project collection with the projects it holds.
type TeamCollection struct {
	GUID     uuid.UUID `json:"guid"`
	Name     string    `json:"name"`
	Projects []Project `json:"projects"`
}

// HasProject reports whether a project with name exists in the collection.
// Names compare case-insensitively, as on the server.
func (c *TeamCollection) HasProject(name string) bool {
	for _, p := range c.Projects {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// FindCollection returns the collection named name, or nil.
func FindCollection(collections []TeamCollection, name string) *TeamCollection {
	for i := range collections {
		if strings.EqualFold(collections[i].Name, name) {
			return &collections[i]
		}
	}
	return nil
}
