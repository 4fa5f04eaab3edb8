package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/softwareforge/forge/internal/logging"
	"github.com/softwareforge/forge/internal/membership"
	"github.com/softwareforge/forge/internal/project"
	"github.com/softwareforge/forge/internal/tfs"
	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tfs.ErrCollectionNotFound),
		errors.Is(err, tfs.ErrTemplateNotFound),
		errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, membership.ErrInvitationNotFound):
		return http.StatusNotFound
	case errors.Is(err, tfs.ErrCollectionExists),
		errors.Is(err, tfs.ErrProjectExists),
		errors.Is(err, project.ErrProjectExists):
		return http.StatusConflict
	case errors.Is(err, tfs.ErrInvalidArgument),
		errors.Is(err, membership.ErrInvalidInvitation):
		return http.StatusBadRequest
	case errors.Is(err, tfs.ErrUnauthorized),
		errors.Is(err, tfs.ErrServicingFailed),
		errors.Is(err, tfs.ErrOperationFailed):
		return http.StatusBadGateway
	case errors.Is(err, tfs.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail logs err and converts it to an echo.HTTPError. Internal errors
// are not echoed to the client.
func fail(c echo.Context, op string, err error) error {
	ctx := c.Request().Context()
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error(ctx, op+" failed", zap.Error(err), zap.Int("status", status))
	} else {
		logging.FromContext(ctx).Debug(ctx, op+" rejected", zap.Error(err), zap.Int("status", status))
	}

	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error")
	}
	return echo.NewHTTPError(status, err.Error())
}
