// Package validate checks request structs and reports the first failure as a validation error.
package validate

import (
	"reflect"
	"strings"
	"sync"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	once sync.Once
	v    *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return v
}

// Struct validates s by its `validate` tags. Field names in errors follow the json tags.
func Struct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return shiperr.Validation("", err.Error())
	}
	fe := ves[0]
	return shiperr.Validation(fieldPath(fe), message(fe))
}

// fieldPath drops the top-level struct name: "trackingReq.shipment_id" -> "shipment_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "min":
		switch fe.Kind() {
		case reflect.String:
			return "must be at least " + fe.Param() + " characters"
		case reflect.Slice:
			return "must have at least " + fe.Param() + " items"
		}
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "dive":
		return "is invalid"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
