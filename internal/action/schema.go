package action

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidationError reports parameters that failed their schema.
type ValidationError struct {
	// Message is the user-facing text, e.g. "Command required".
	Message string

	// Fields lists the offending parameter names.
	Fields []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// trimSpace strips surrounding whitespace from string parameters so a blank
// value counts as missing.
func trimSpace(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to.Kind() == reflect.String {
		return strings.TrimSpace(reflect.ValueOf(data).String()), nil
	}
	return data, nil
}

// bind decodes params into P and validates it. Missing or blank required
// parameters yield a ValidationError carrying missing as its message.
func bind[P any](params map[string]any, missing string) (P, error) {
	var p P

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		DecodeHook:       trimSpace,
	})
	if err != nil {
		return p, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(params); err != nil {
		return p, fmt.Errorf("invalid parameters: %w", err)
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return p, fmt.Errorf("invalid parameters: %w", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return p, &ValidationError{Message: missing, Fields: fields}
	}

	return p, nil
}
