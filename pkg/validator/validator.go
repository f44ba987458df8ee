package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

// FieldError is one failed rule, named by the JSON field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type playgroundValidator struct {
	v *validator.Validate
}

// New validates `validate` tags. Gin's binding engine is configured separately by Configure.
func New() Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	Configure(v)
	return &playgroundValidator{v: v}
}

func (p *playgroundValidator) Validate(obj interface{}) error {
	return p.v.Struct(obj)
}

func (p *playgroundValidator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := p.v.Var(value, strings.Join(rules, ",")); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// Configure makes v report JSON field names.
func Configure(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

var messages = map[string]string{
	"required": "is required",
	"max":      "is too long",
	"min":      "is too short",
	"url":      "must be a valid URL",
	"oneof":    "has an unsupported value",
}

// FieldErrors flattens validation failures into client-facing messages.
// It returns nil when err holds no validation errors.
func FieldErrors(err error) []FieldError {
	var errs validator.ValidationErrors
	if !stderrors.As(err, &errs) {
		return nil
	}

	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		msg, ok := messages[e.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %q validation", e.Tag())
		}
		if e.Param() != "" && (e.Tag() == "max" || e.Tag() == "min") {
			msg = fmt.Sprintf("%s (limit %s)", msg, e.Param())
		}
		out = append(out, FieldError{Field: fieldPath(e), Message: msg})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace, so
// "ReplaceAvailabilityRequest.slots[1].end_minute" becomes "slots[1].end_minute".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}
