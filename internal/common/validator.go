package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator plugs go-playground/validator into echo's Validate.
type GenericEchoValidator struct {
	validator *validator.Validate
}

func NewEchoValidator() *GenericEchoValidator {
	return &GenericEchoValidator{validator: validator.New()}
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	err := gv.validator.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		problems = append(problems, fmt.Sprintf("%s failed %q", strings.ToLower(fieldError.Field()), fieldError.Tag()))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "received invalid request: "+strings.Join(problems, ", "))
}
