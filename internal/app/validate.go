package app

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"invoice-agent/internal/core"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
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
	return v
}

// validationErrors flattens validator errors into field -> failed tag.
func validationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

// checkRequest validates req and converts failures to a core.InputError
// naming the first offending field.
func (s *appService) checkRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	fields := validationErrors(err)
	if len(fields) == 0 {
		return core.NewInputError("request", err.Error())
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s failed %q", name, fields[name])
	}
	return core.NewInputError(names[0], strings.Join(parts, "; "))
}
