package dto

import (
	"errors"
	"html"
	"reflect"
	"regexp"
	"strings"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/pkg/apperror"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var idempotencyKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,128}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("purpose", validatePurpose)
	}
}

func validatePurpose(fl validator.FieldLevel) bool {
	return domain.Purpose(fl.Field().String()).IsValid()
}

// ValidIdempotencyKey reports whether key is safe to use as a cache key.
func ValidIdempotencyKey(key string) bool {
	return idempotencyKeyRe.MatchString(key)
}

// BindingError maps a ShouldBindJSON failure to the matching validation error.
func BindingError(err error) *apperror.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Validation("malformed request body")
	}
	switch verrs[0].Field() {
	case "PhoneNumber":
		return apperror.ErrInvalidPhone()
	case "Purpose":
		return apperror.ErrInvalidPurpose()
	}
	return apperror.Validation(verrs[0].Error())
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
