package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	// Report json field names so errors match the payload the client sent.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// ValidateRequest runs the binding rules of a request payload, the same rules
// gin applies in ShouldBindJSON.
func ValidateRequest(req interface{}) error {
	if v := reflect.ValueOf(req); req == nil || (v.Kind() == reflect.Ptr && v.IsNil()) {
		return fmt.Errorf("%w: empty request", ErrValidation)
	}
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return ValidationError(err)
	}
	return nil
}

// ValidationError turns a bind or validation failure into ErrValidation,
// naming every offending field.
func ValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			fields = append(fields, fe.Field())
			continue
		}
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
}
