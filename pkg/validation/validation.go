// Package validation holds the struct validator shared by gin request
// binding and the services. Field names in errors follow the json tags.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"ristosmart-license/pkg/errutil"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func init() {
	// gin binding keeps a separate engine.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonName)
	}
}

// Validator returns the process wide validator.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
	})
	return validate
}

func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// Var validates a single value against tag.
func Var(v any, tag string) error {
	return Validator().Var(v, tag)
}

// Details turns validator field errors into response details. It returns
// nil for any other error.
func Details(err error) []errutil.Detail {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil
	}
	out := make([]errutil.Detail, 0, len(ves))
	for _, fe := range ves {
		out = append(out, errutil.Detail{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

// BindError maps a gin binding error to the API error. Rule violations
// become validation_failed with one detail per field; malformed bodies stay
// a plain bad request.
func BindError(err error) error {
	if details := Details(err); len(details) > 0 {
		return errutil.ValidationFailed("invalid request body", err,
			errutil.WithReason("invalid_argument"),
			errutil.WithDetails(details...),
		)
	}
	return errutil.BadRequest("invalid request body", err, errutil.WithReason("invalid_argument"))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
