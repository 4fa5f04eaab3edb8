package http

import "github.com/softwareforge/forge/internal/project"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
}

// CreateCollectionRequest is the request body for POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// CreateProjectRequest is the request body for
// POST /api/v1/collections/:guid/projects.
type CreateProjectRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	Template string `json:"template" validate:"required"`
}

// CollectionList is the response body for GET /api/v1/collections.
type CollectionList struct {
	Collections []project.TeamCollection `json:"collections"`
}

// TemplateList is the response body for GET /api/v1/collections/:guid/templates.
type TemplateList struct {
	Templates []string `json:"templates"`
}

// ProjectList is the response body for GET /api/v1/collections/:guid/projects.
type ProjectList struct {
	Projects []project.Project `json:"projects"`
}
