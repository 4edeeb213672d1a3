package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"bookstore/pkg/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type selfValidator interface {
	Validate() []domain.FieldFailure
}

// EntityFailure is one failing property of one staged entity.
type EntityFailure struct {
	Entity  string `json:"entity"`
	Key     string `json:"key"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every failure found while saving.
type ValidationError struct {
	Failures []EntityFailure
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s[%s].%s: %s", f.Entity, f.Key, f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single entity.
func NewValidationError(entity, key string, failures ...domain.FieldFailure) *ValidationError {
	out := &ValidationError{}
	for _, f := range failures {
		out.Failures = append(out.Failures, EntityFailure{Entity: entity, Key: key, Field: f.Field, Message: f.Message})
	}
	return out
}

// ValidateEntity runs struct tag rules and the entity's own Validate method.
func ValidateEntity(entity any) ([]domain.FieldFailure, error) {
	var failures []domain.FieldFailure
	err := validate.Struct(entity)
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		for _, fe := range fieldErrs {
			failures = append(failures, domain.FieldFailure{Field: fieldPath(fe), Message: failureMessage(fe)})
		}
	case err != nil:
		return nil, fmt.Errorf("validate: %w", err)
	}
	if v, ok := entity.(selfValidator); ok {
		failures = append(failures, v.Validate()...)
	}
	return failures, nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func failureMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "len":
		return "must have length " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
