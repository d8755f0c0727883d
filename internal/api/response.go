package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"SignalSentinel/internal/model"
)

// Response is the envelope of every API reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func reply(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Status: status, Message: http.StatusText(status), Data: data})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, Response{Status: status, Message: msg})
}

// failErr maps an error class to an HTTP status.
func failErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrConfiguration):
		return fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrDataUnavailable):
		return fail(c, http.StatusServiceUnavailable, err.Error())
	default:
		return fail(c, http.StatusInternalServerError, err.Error())
	}
}

var validate = validator.New()

// bindRequest binds, fills defaults and validates req.
func bindRequest(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("bind: %v: %w", err, model.ErrConfiguration)
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("defaults: %v: %w", err, model.ErrConfiguration)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), model.ErrConfiguration)
		}
		return fmt.Errorf("%v: %w", err, model.ErrConfiguration)
	}
	return nil
}
