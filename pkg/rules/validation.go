package rules

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields under their input names (lan_ip, wan_port_end, ...).
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ip_proto", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case ProtoTCP, ProtoUDP:
			return true
		}
		return false
	})
	return v
}

// ValidationError is a single rejected input field.
type ValidationError struct {
	FieldPath string
	Message   string
}

func (e ValidationError) Error() string {
	if e.FieldPath == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

// ValidationErrors is the set of problems found in one input.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, e.Error())
	}
	return "invalid rule: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err carries input validation failures.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

// Validate checks a desired lease before any device interaction.
func (r DhcpLeaseRule) Validate() error {
	return check(r, "")
}

// Validate checks a desired port forwarding rule before any device interaction.
func (r NatRule) Validate() error {
	return check(r, "")
}

// ValidateAt is Validate with every field path prefixed, e.g. "port_forwards.2".
func ValidateAt(rule any, prefix string) error {
	return check(rule, prefix)
}

func check(rule any, prefix string) error {
	err := validate.Struct(rule)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{FieldPath: prefix, Message: err.Error()}}
	}

	result := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Field()
		if prefix != "" {
			path = prefix + "." + path
		}
		result = append(result, ValidationError{
			FieldPath: path,
			Message:   validationMessage(fe),
		})
	}
	return result
}

// validationMessage returns a human-readable message for a validator failure.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "ip_proto":
		return "must be one of: tcp, udp"
	case "ip":
		return "must be a valid IPv4 or IPv6 address"
	case "mac":
		return "must be a valid MAC address"
	case "gtefield":
		return "must not be lower than wan_port_start"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}
