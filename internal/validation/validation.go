// Package validation partitions candidate entities into valid and invalid sets before any remote write.
package validation

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/peteski22/shopbridge/internal/batch"
)

// Violation describes one broken rule.
type Violation struct {
	// Field is the namespaced field path, empty for rules on the value itself.
	Field string

	// Message is a human readable description.
	Message string

	// Tag is the rule that failed, e.g. "required".
	Tag string
}

// Violations is the list of broken rules for one value.
type Violations []Violation

// Error implements error.
func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, violation := range v {
		msgs[i] = violation.Message
	}
	return strings.Join(msgs, "; ")
}

// Rule checks one value.
type Rule interface {
	check(v *validator.Validate, value any) Violations
}

type ruleFunc func(v *validator.Validate, value any) Violations

func (f ruleFunc) check(v *validator.Validate, value any) Violations {
	return f(v, value)
}

// NotBlank rejects nil and zero values.
func NotBlank() Rule {
	return ruleFunc(func(_ *validator.Validate, value any) Violations {
		if value == nil {
			return Violations{{Tag: "required", Message: "value must not be blank"}}
		}
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			if rv.IsNil() {
				return Violations{{Tag: "required", Message: "value must not be blank"}}
			}
		default:
			if rv.IsZero() {
				return Violations{{Tag: "required", Message: "value must not be blank"}}
			}
		}
		return nil
	})
}

// Type rejects values that are not of type T.
func Type[T any]() Rule {
	return ruleFunc(func(_ *validator.Validate, value any) Violations {
		if _, ok := value.(T); !ok {
			var zero T
			return Violations{{
				Tag:     "type",
				Message: fmt.Sprintf("value must be of type %T, got %T", zero, value),
			}}
		}
		return nil
	})
}

// Valid runs the struct's own `validate` tags, nested fields included.
func Valid() Rule {
	return ruleFunc(func(v *validator.Validate, value any) Violations {
		return convert(v.Struct(value))
	})
}

// Var validates the value itself against a tag, e.g. "required,min=1".
func Var(tag string) Rule {
	return ruleFunc(func(v *validator.Validate, value any) Violations {
		return convert(v.Var(value, tag))
	})
}

// Field validates one exported struct field against a tag, e.g. Field("ID", "required").
func Field(name string, tag string) Rule {
	return ruleFunc(func(v *validator.Validate, value any) Violations {
		rv := reflect.Indirect(reflect.ValueOf(value))
		if rv.Kind() != reflect.Struct {
			return Violations{{Field: name, Tag: "type", Message: fmt.Sprintf("value must be a struct, got %T", value)}}
		}

		fv := rv.FieldByName(name)
		if !fv.IsValid() || !fv.CanInterface() {
			return Violations{{Field: name, Tag: "field", Message: fmt.Sprintf("%T has no exported field %s", value, name)}}
		}

		violations := convert(v.Var(fv.Interface(), tag))
		for i := range violations {
			violations[i].Field = name
			violations[i].Message = fmt.Sprintf("%s failed on the '%s' rule", name, violations[i].Tag)
		}
		return violations
	})
}

func convert(err error) Violations {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		violations := make(Violations, len(fieldErrs))
		for i, fe := range fieldErrs {
			violations[i] = Violation{
				Field:   fe.Namespace(),
				Message: fe.Error(),
				Tag:     fe.Tag(),
			}
		}
		return violations
	}

	return Violations{{Tag: "invalid", Message: err.Error()}}
}

// Validator applies rules to values.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator. Violation paths use json field names when the struct declares them.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

// Validate applies every rule in order and returns all violations.
func (v *Validator) Validate(value any, rules ...Rule) Violations {
	var violations Violations
	for _, rule := range rules {
		violations = append(violations, rule.check(v.validate, value)...)
	}
	return violations
}

// Result is the outcome of a split. Keys are those of the input and are not renumbered.
type Result[V any] struct {
	// Invalid holds a VALIDATION error for every rejected value.
	Invalid []batch.Entry[*batch.ByError]

	// Valid holds the values that passed.
	Valid []batch.Entry[V]
}

// Errors returns the invalid entries' errors in input order.
func (r Result[V]) Errors() []error {
	errs := make([]error, len(r.Invalid))
	for i, e := range r.Invalid {
		errs[i] = e.Value
	}
	return errs
}

// Split validates each value independently and partitions them by outcome.
func Split[V any](v *Validator, entries []batch.Entry[V], rules ...Rule) Result[V] {
	result := Result[V]{Valid: make([]batch.Entry[V], 0, len(entries))}

	for _, e := range entries {
		violations := v.Validate(e.Value, rules...)
		if len(violations) == 0 {
			result.Valid = append(result.Valid, e)
			continue
		}

		result.Invalid = append(result.Invalid, batch.Entry[*batch.ByError]{
			Key: e.Key,
			Value: &batch.ByError{
				Reason: violations,
				Type:   batch.ErrorTypeValidation,
				Value:  e.Value,
			},
		})
	}

	return result
}

// SplitTwoPass checks shape and type first and runs deep validation only on the survivors,
// so a wrongly typed value is reported once instead of as a cascade of nested violations.
func SplitTwoPass[V any](v *Validator, entries []batch.Entry[V]) Result[V] {
	first := Split(v, entries, NotBlank(), Type[V]())
	second := Split(v, first.Valid, Valid())

	second.Invalid = append(first.Invalid, second.Invalid...)
	slices.SortStableFunc(second.Invalid, func(a, b batch.Entry[*batch.ByError]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return second
}
