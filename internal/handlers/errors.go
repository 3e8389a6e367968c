package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.roost/internal/model"
)

var statusOf = map[model.Code]int{
	model.CodeInvalidArgument:    http.StatusBadRequest,
	model.CodeNotFound:           http.StatusNotFound,
	model.CodePermissionDenied:   http.StatusForbidden,
	model.CodeUnauthenticated:    http.StatusUnauthorized,
	model.CodeFailedPrecondition: http.StatusConflict,
}

// ErrorHandler renders domain errors as {code, message} with a matching status.
// Anything else is logged and reported as a bare 500.
func ErrorHandler(server *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var appErr *model.AppError
		if errors.As(err, &appErr) {
			status, ok := statusOf[appErr.Code]
			if !ok {
				status = http.StatusInternalServerError
			}
			if err := c.JSON(status, appErr); err != nil {
				c.Logger().Error(err)
			}
			return
		}

		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) {
			c.Logger().Errorf("%s %s: %+v", c.Request().Method, c.Request().URL.Path, err)
		}
		server.DefaultHTTPErrorHandler(err, c)
	}
}
