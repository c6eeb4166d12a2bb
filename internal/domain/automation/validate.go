package automation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ActionTypeChecker reports whether an action type has a registered handler.
type ActionTypeChecker func(actionType string) bool

// Validate checks a rule definition before it is saved. Struct tags cover
// required fields; the remaining checks cover what the evaluator would
// otherwise degrade silently at run time (unknown logic or operator, a
// non-list "in" value, an unregistered action type).
// knownAction may be nil to skip the action type check.
func Validate(r *Rule, knownAction ActionTypeChecker) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRule, formatValidationErrors(err))
	}

	var problems []string
	if !r.Conditions.Logic.Valid() {
		problems = append(problems, fmt.Sprintf("conditions.logic must be AND or OR, got %q", r.Conditions.Logic))
	}
	for i, leaf := range r.Conditions.Rules {
		if !leaf.Operator.Valid() {
			problems = append(problems, fmt.Sprintf("conditions.rules[%d]: unknown operator %q", i, leaf.Operator))
			continue
		}
		if leaf.Operator == OpIn && !isList(leaf.Value) {
			problems = append(problems, fmt.Sprintf("conditions.rules[%d]: operator \"in\" requires a list value", i))
		}
	}
	for i, a := range r.Actions {
		if knownAction != nil && !knownAction(a.Type) {
			problems = append(problems, fmt.Sprintf("actions[%d]: unknown action type %q", i, a.Type))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must have at least %s items", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s long", field, e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}
