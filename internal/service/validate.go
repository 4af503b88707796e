// ABOUTME: Input validation for the service surface using go-playground/validator.
// ABOUTME: Failures are reported as DataInvalid errors naming each offending field.
package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("metric_type", func(fl validator.FieldLevel) bool {
		return models.IsValidMetricType(fl.Field().String())
	})
	_ = v.RegisterValidation("correlation_type", func(fl validator.FieldLevel) bool {
		return models.IsValidCorrelationType(fl.Field().String())
	})
	_ = v.RegisterValidation("vendor", func(fl validator.FieldLevel) bool {
		return models.IsValidVendor(fl.Field().String())
	})
	_ = v.RegisterValidation("source", func(fl validator.FieldLevel) bool {
		return models.IsValidSource(fl.Field().String())
	})
	return v
}

// check validates s and converts validator output to a DataInvalid error.
func check(op string, s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return syncerr.Wrap(syncerr.DataInvalid, op, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s' (got '%v')", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s' (got '%v')", fe.Field(), fe.Tag(), fe.Value()))
	}
	return syncerr.New(syncerr.DataInvalid, op, strings.Join(msgs, "; "))
}
