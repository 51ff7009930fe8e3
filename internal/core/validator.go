package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"forwardgate/internal/types"
)

// ValidationError describes one rejected field, named by its JSON tag.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with JSON field naming and
// AppError output.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks s against its validate tags. The returned AppError
// takes its code from the first failing field and lists every failure under
// details.validation_errors.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "type", fmt.Sprintf("%T", s), "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    string(codeForTag(fe.Tag())),
			Message: messageFor(fe),
		})
	}
	return types.NewAppErrorWithDetails(
		types.ErrorCode(out[0].Code),
		out[0].Message,
		err,
		map[string]any{"validation_errors": out},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_without", "required_with":
		return types.ErrCodeValidationMissingField
	case "email":
		return types.ErrCodeValidationInvalidEmail
	default:
		return types.ErrCodeValidationInvalidValue
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without", "required_with":
		return fe.Field() + " is required unless " + strings.ToLower(fe.Param()) + " is set"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
