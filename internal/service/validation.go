package service

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()

		// Report JSON field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validateInput checks v's struct tags. The first failing field becomes an
// INVALID_INPUT error; every failing field is listed in its details.
func validateInput(v interface{}) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid input")
	}

	first := fieldErrs[0]
	out := errors.InvalidInput(first.Field(), describe(first))
	for _, fe := range fieldErrs {
		out.WithDetail(fe.Field(), describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "uuid":
		return "must be a UUID"
	}
	return "failed " + fe.Tag() + " validation"
}
