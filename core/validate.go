package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator is shared by every package; validator caches struct
// metadata and is safe for concurrent use.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so problems line up with API payloads.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// CheckStruct applies `validate` struct tags and appends every failure to
// verr. Non-tag errors (e.g. a nil pointer) are reported against the entity.
func CheckStruct(verr *ValidationError, s any) {
	err := structValidator.Struct(s)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add(verr.Entity, "%v", err)
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), "%s", describeTag(fe))
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "uppercase":
		return "must be upper-case"
	case "alpha":
		return "must contain letters only"
	case "excludesall":
		return "must not contain whitespace"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// CheckClearFields validates the clear list of a partial update: every
// name must be clearable and must not also be set by the same update.
func CheckClearFields(entity string, clear []string, clearable map[string]bool, isSet func(string) bool) error {
	verr := &ValidationError{Entity: entity}
	for _, field := range clear {
		switch {
		case !clearable[field]:
			verr.Add("clear", "%q cannot be cleared", field)
		case isSet(field):
			verr.Add(field, "cannot be set and cleared in one update")
		}
	}
	return verr.OrNil()
}
