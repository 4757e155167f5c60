// Package schema implements declarative validation of configuration
// documents.
//
// A Schema maps key names to Rules. Validation applies defaults, type
// checks, custom validators, and nested schemas, and reports failures as
// data rather than errors: callers inspect Result and decide whether a
// failed validation is fatal. Keys not named in the schema pass through
// into the validated document unchanged; a schema is not a whitelist.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/layercfg/layercfg/merge"
)

// Type names a value's expected kind. Slices report as TypeArray, never as
// TypeObject.
type Type string

const (
	TypeString Type = "string"
	TypeNumber Type = "number"
	TypeBool   Type = "boolean"
	TypeObject Type = "object"
	TypeArray  Type = "array"
)

// Rule is the declarative validation rule for a single key.
type Rule struct {
	// Type, when non-empty, requires the value to be of this kind. A
	// mismatch short-circuits all further checks for the key, including
	// children validation.
	Type Type

	// Required reports an error when the key is missing or explicitly null.
	Required bool

	// Default is used when the key is missing, or as the fallback outcome
	// when a check fails. Defaults are trusted: no checks run against them.
	Default any

	// Validator, when set, is called with the (possibly transformed) value.
	// A non-nil error fails the key with the error's message.
	Validator func(any) error

	// Transform, when set, rewrites the value before type and validator
	// checks.
	Transform func(any) any

	// Children validates nested mappings recursively. Nested errors are
	// reported with a dotted path prefix, e.g. "database.port is required".
	Children Schema
}

// Schema maps top-level key names to their rules.
type Schema map[string]Rule

// Result is the outcome of a validation run.
type Result struct {
	// Valid is true when Errors is empty.
	Valid bool

	// Errors lists every failure in schema key order, nested failures
	// prefixed with their parent path.
	Errors []string

	// Validated is the normalized document: defaults filled in, transforms
	// applied, unknown keys copied through unchanged.
	Validated merge.Document
}

// Err converts a failed result into a single error aggregating all entries,
// for fail-fast load paths. It returns nil when the result is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(r.Errors, "; "))
}

// Validate checks config against s and returns the validated document plus
// any errors. The input document is never mutated.
func Validate(config merge.Document, s Schema) Result {
	var errs []string
	validated := make(merge.Document, len(config))

	for _, k := range sortedRuleKeys(s) {
		rule := s[k]
		value, present := config[k]

		if rule.Required && (!present || value == nil) {
			errs = append(errs, fmt.Sprintf("%s is required", k))
			if rule.Default != nil {
				validated[k] = rule.Default
			}
			continue
		}

		if !present {
			if rule.Default != nil {
				validated[k] = rule.Default
			}
			continue
		}

		if rule.Transform != nil {
			value = rule.Transform(value)
		}

		if rule.Type != "" {
			if actual := typeOf(value); actual != rule.Type {
				errs = append(errs, fmt.Sprintf("%s should be %s, got %s", k, rule.Type, actual))
				if rule.Default != nil {
					validated[k] = rule.Default
				}
				continue
			}
		}

		if rule.Validator != nil {
			if err := rule.Validator(value); err != nil {
				msg := err.Error()
				if msg == "" {
					msg = fmt.Sprintf("%s is invalid", k)
				}
				errs = append(errs, msg)
				if rule.Default != nil {
					validated[k] = rule.Default
				}
				continue
			}
		}

		if rule.Children != nil {
			if child, ok := value.(merge.Document); ok {
				nested := Validate(child, rule.Children)
				for _, e := range nested.Errors {
					errs = append(errs, k+"."+e)
				}
				validated[k] = nested.Validated
				continue
			}
		}

		validated[k] = value
	}

	// Unknown keys pass through unchanged.
	for k, v := range config {
		if _, known := s[k]; !known {
			validated[k] = v
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Validated: validated}
}

// typeOf reports a value's kind using the schema's vocabulary. Every numeric
// kind the parsers produce counts as "number".
func typeOf(v any) Type {
	switch v.(type) {
	case nil:
		return Type("null")
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TypeNumber
	case merge.Document:
		return TypeObject
	case []any:
		return TypeArray
	default:
		if isSliceKind(v) {
			return TypeArray
		}
		return Type(fmt.Sprintf("%T", v))
	}
}

func isSliceKind(v any) bool {
	switch v.(type) {
	case []string, []int, []int64, []float64, []bool:
		return true
	}
	return false
}

func sortedRuleKeys(s Schema) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
