package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/softwareforge/forge/internal/logging"
	"github.com/softwareforge/forge/internal/membership"
	"github.com/softwareforge/forge/internal/project"
)

func collectionGUID(c echo.Context) (uuid.UUID, error) {
	guid, err := uuid.Parse(c.Param("guid"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid collection guid")
	}
	return guid, nil
}

func (s *Server) handleListCollections(c echo.Context) error {
	collections, err := s.services.TFS().TeamCollections(c.Request().Context())
	if err != nil {
		return fail(c, "list collections", err)
	}
	if collections == nil {
		collections = []project.TeamCollection{}
	}
	return c.JSON(http.StatusOK, CollectionList{Collections: collections})
}

func (s *Server) handleGetCollection(c echo.Context) error {
	guid, err := collectionGUID(c)
	if err != nil {
		return err
	}
	tc, err := s.services.TFS().TeamCollection(c.Request().Context(), guid)
	if err != nil {
		return fail(c, "get collection", err)
	}
	return c.JSON(http.StatusOK, tc)
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := logging.WithCollection(c.Request().Context(), req.Name)
	tc, err := s.services.TFS().CreateTeamCollection(ctx, req.Name)
	if err != nil {
		return fail(c, "create collection", err)
	}
	return c.JSON(http.StatusCreated, tc)
}

func (s *Server) handleRemoveCollection(c echo.Context) error {
	guid, err := collectionGUID(c)
	if err != nil {
		return err
	}
	if err := s.services.TFS().RemoveTeamCollection(c.Request().Context(), guid); err != nil {
		return fail(c, "remove collection", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListTemplates(c echo.Context) error {
	guid, err := collectionGUID(c)
	if err != nil {
		return err
	}
	names, err := s.services.TFS().Templates(c.Request().Context(), guid)
	if err != nil {
		return fail(c, "list templates", err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, TemplateList{Templates: names})
}

func (s *Server) handleListProjects(c echo.Context) error {
	guid, err := collectionGUID(c)
	if err != nil {
		return err
	}
	projects, err := s.services.TFS().TeamProjects(c.Request().Context(), guid)
	if err != nil {
		return fail(c, "list projects", err)
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return c.JSON(http.StatusOK, ProjectList{Projects: projects})
}

func (s *Server) handleCreateProject(c echo.Context) error {
	guid, err := collectionGUID(c)
	if err != nil {
		return err
	}
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := s.services.TFS().CreateTeamProject(c.Request().Context(), guid, req.Name, req.Template)
	if err != nil {
		return fail(c, "create project", err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetInvitation(c echo.Context) error {
	var id uint
	if err := echo.PathParamsBinder(c).MustUint("id", &id).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invitation id")
	}
	req, err := s.services.Invitations().Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, "get invitation", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (s *Server) handleListInvitations(c echo.Context) error {
	username := c.QueryParam("username")
	ctx := logging.WithUsername(c.Request().Context(), username)
	reqs, err := s.services.Invitations().ListByUser(ctx, username)
	if err != nil {
		return fail(c, "list invitations", err)
	}
	return c.JSON(http.StatusOK, reqs)
}

func (s *Server) handleCreateInvitation(c echo.Context) error {
	var req membership.InvitationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithUsername(c.Request().Context(), req.Username)
	if err := s.services.Invitations().Add(ctx, &req); err != nil {
		return fail(c, "create invitation", err)
	}
	return c.JSON(http.StatusCreated, req)
}
