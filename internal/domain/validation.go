package domain

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// slugPattern constrains concept and question identifiers.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// validate is the package-level validator instance used for struct validation.
// Field names in errors are the JSON names so they can be reported verbatim.
var validate = newValidator()

// enumValue is implemented by the string enums in this package.
type enumValue interface{ IsValid() bool }

func newValidator() *validator.Validate {
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
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(enumValue)
		return ok && e.IsValid()
	})
	return v
}

// structError converts the first validator failure into a *MalformedItemError.
func structError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &MalformedItemError{Field: "item", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &MalformedItemError{Field: fieldPath(fe), Reason: fieldReason(fe)}
}

// fieldPath drops the top-level struct name from the namespace,
// e.g. "Concept.code_examples[0].code" becomes "code_examples[0].code".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func fieldReason(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	switch fe.Tag() {
	case "required":
		return "is required"
	case "slug":
		return "must match " + slugPattern.String()
	case "enum":
		return fmt.Sprintf("unknown value %q", fmt.Sprint(fe.Value()))
	case "min":
		if isList {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "url":
		return "must be a valid URL"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
