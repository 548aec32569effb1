package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks struct tags on Rule, Condition and Action. Field names are
// reported by their json tag so errors point at the record, not the Go field.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// OperatorAllowed reports whether a condition type accepts an operator.
// "has" only applies to attachments; every other operator applies everywhere.
func OperatorAllowed(t ConditionType, op Operator) bool {
	if op == OpHas {
		return t == ConditionAttachments
	}
	return true
}

// ValidateRule checks a rule against the record invariants: non-empty name,
// conditions and actions, recognized enum values, operator/type
// compatibility, header names on header conditions and required action
// parameters.
func ValidateRule(r Rule) error {
	return validateRule(r, r.Name)
}

// ValidateRules validates every rule and enforces unique names.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := validateRule(r, label); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return &ValidationError{Rule: r.Name, Field: "name", Err: ErrDuplicateName}
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

func validateRule(r Rule, label string) error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return translateFieldError(label, fieldErrs[0])
		}
		return &ValidationError{Rule: label, Err: err}
	}

	for i, c := range r.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if !OperatorAllowed(c.Type, c.Operator) {
			return &ValidationError{Rule: label, Field: field + ".operator",
				Err: fmt.Errorf("%w: %s %s", ErrUnsupportedOperator, c.Type, c.Operator)}
		}
		if c.Type == ConditionHeader {
			for _, p := range c.Patterns() {
				if _, _, ok := HeaderName(p); !ok {
					return &ValidationError{Rule: label, Field: field + ".value",
						Err: fmt.Errorf("%w: header condition %q needs \"Name: pattern\"", ErrMissingParameter, p)}
				}
			}
		}
	}

	for i, a := range r.Actions {
		field := fmt.Sprintf("actions[%d].parameters", i)
		switch a.Type {
		case ActionMoveTo:
			if a.Parameters[ParamFolder] == "" {
				return &ValidationError{Rule: label, Field: field,
					Err: fmt.Errorf("%w: %s requires %q", ErrMissingParameter, a.Type, ParamFolder)}
			}
		case ActionLabel:
			if a.Target() == "" {
				return &ValidationError{Rule: label, Field: field,
					Err: fmt.Errorf("%w: %s requires %q", ErrMissingParameter, a.Type, ParamLabel)}
			}
		}
	}
	return nil
}

// translateFieldError maps a validator failure onto the sentinel set.
func translateFieldError(label string, fe validator.FieldError) error {
	field := fe.Namespace()
	if idx := strings.IndexByte(field, '.'); idx >= 0 {
		field = field[idx+1:]
	}

	var err error
	switch {
	case field == "name":
		err = ErrEmptyName
	case field == "conditions" && (fe.Tag() == "required" || fe.Tag() == "min"):
		err = ErrEmptyConditions
	case field == "actions" && (fe.Tag() == "required" || fe.Tag() == "min"):
		err = ErrEmptyActions
	case fe.Tag() == "oneof":
		err = fmt.Errorf("%w: %q (want one of %s)", ErrUnknownValue, fmt.Sprint(fe.Value()), fe.Param())
	default:
		err = fmt.Errorf("%w: %s failed %q", ErrUnknownValue, field, fe.Tag())
	}
	return &ValidationError{Rule: label, Field: field, Err: err}
}
