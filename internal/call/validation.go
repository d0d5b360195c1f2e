package call

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern  = regexp.MustCompile(`^(\+?1?)?[0-9]{10,14}$`)
	phoneStripper = regexp.MustCompile(`[^0-9+]`)
	validate      = newValidator()
)

func newValidator() *validator.Validate {
	requestValidator := validator.New(validator.WithRequiredStructEnabled())

	requestValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	err := requestValidator.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}

	return requestValidator
}

// IsValidPhone applies a loose check after dropping formatting characters.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phoneStripper.ReplaceAllString(phone, ""))
}

// Normalized returns request with surrounding whitespace removed from every field.
func (request Request) Normalized() Request {
	return Request{
		CallerName:     strings.TrimSpace(request.CallerName),
		CallerPhone:    strings.TrimSpace(request.CallerPhone),
		Destination:    strings.TrimSpace(request.Destination),
		Action:         strings.TrimSpace(request.Action),
		AdditionalInfo: strings.TrimSpace(request.AdditionalInfo),
	}
}

// Validate returns a *ValidationError listing every problem with request.
func (request Request) Validate() error {
	err := validate.Struct(request.Normalized())
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ValidationError{Problems: []string{err.Error()}}
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		problems = append(problems, describe(fieldError))
	}

	return &ValidationError{Problems: problems}
}

func describe(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return fieldError.Field() + " is required"
	case "phone":
		return fieldError.Field() + " is not a valid phone number"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fieldError.Field(), fieldError.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fieldError.Field(), fieldError.Tag())
	}
}
