package service

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that also knows the campus_location tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("campus_location", func(fl validator.FieldLevel) bool {
		return models.IsCampusLocation(fl.Field().String())
	})
	return v
}

// validationError turns validator output into a ValidationError whose message
// can be shown as-is.
func validationError(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validation(op, err.Error())
	}

	var msgs []string
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			return apperrors.Validation(op, "Please fill in all fields")
		case "campus_location":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", strings.ToLower(fe.Field()), strings.Join(models.CampusLocations, ", ")))
		case "nefield":
			msgs = append(msgs, "pickup and dropoff must differ")
		case "datetime":
			msgs = append(msgs, "time must be HH:MM")
		case "email":
			msgs = append(msgs, "email is not valid")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return apperrors.Validation(op, strings.Join(msgs, "; "))
}
