// Package handlers exposes the HTTP surface over echo. Handlers stay
// thin: bind and validate the request, call the service, choose the
// status code. Errors flow out as application errors and the central
// error handler renders the envelope.
package handlers

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/apperror"
)

// Validator adapts go-playground/validator to echo's Validate hook,
// reporting offending fields by their JSON names.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates the request validator
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate implements echo.Validator
func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperror.Wrap(apperror.KindValidation, err, "request validation failed")
	}
	fields := map[string]interface{}{}
	for _, fe := range invalid {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return apperror.New(apperror.KindValidation, "request validation failed").
		WithDetails(map[string]interface{}{"fields": fields})
}

// bindBody decodes and validates a JSON request body
func bindBody(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "invalid request body")
	}
	return c.Validate(v)
}

// uuidParam parses a path parameter as a UUID
func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid %s: %q", name, c.Param(name))
	}
	return id, nil
}

// pagination reads ?page and ?page_size with the shared defaults
func pagination(c echo.Context) (page, pageSize int) {
	page = intQuery(c, "page", models.DefaultPage)
	pageSize = intQuery(c, "page_size", models.DefaultPageSize)
	if page < 1 {
		page = models.DefaultPage
	}
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}
	if pageSize > models.MaxPageSize {
		pageSize = models.MaxPageSize
	}
	return page, pageSize
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// listOf wraps a page of items in the collection envelope
func listOf(items interface{}, total, page, pageSize int) *models.ListResponse {
	return &models.ListResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
}
