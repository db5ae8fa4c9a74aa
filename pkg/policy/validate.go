package policy

import (
	"fmt"
	"reflect"
	"regexp"
)

// Validate checks a single definition for structural problems: empty id,
// name or type, unknown operators or action types, list-valued operators
// without lists, and uncompilable regex patterns. All problems are
// reported, not just the first.
func Validate(def *Definition) *ValidationErrors {
	errs := &ValidationErrors{}
	validateInto(def, errs)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateSet checks a whole definition set, including id uniqueness.
// A non-nil result rejects the entire set (atomic load).
func ValidateSet(defs []*Definition) *ValidationErrors {
	errs := &ValidationErrors{}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		validateInto(def, errs)
		if def.ID == "" {
			continue
		}
		if seen[def.ID] {
			errs.Add(def.ID, "id", "duplicate policy id")
		}
		seen[def.ID] = true
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateInto(def *Definition, errs *ValidationErrors) {
	if def == nil {
		errs.Add("", "", "nil policy definition")
		return
	}
	if def.ID == "" {
		errs.Add(def.ID, "id", "must not be empty")
	}
	if def.Name == "" {
		errs.Add(def.ID, "name", "must not be empty")
	}
	if def.Type == "" {
		errs.Add(def.ID, "type", "must not be empty")
	}
	if len(def.Actions) == 0 {
		errs.Add(def.ID, "actions", "must contain at least one action")
	}

	for i, cond := range def.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if cond.Field == "" {
			errs.Add(def.ID, field, "condition field must not be empty")
		}
		if !cond.Operator.IsValid() {
			errs.Add(def.ID, field, fmt.Sprintf("unknown operator %q", cond.Operator))
			continue
		}
		switch cond.Operator {
		case OperatorIn, OperatorNotIn:
			if !isList(cond.Value) {
				errs.Add(def.ID, field, fmt.Sprintf("operator %q requires a list value", cond.Operator))
			}
		case OperatorMatches:
			pattern, ok := cond.Value.(string)
			if !ok {
				errs.Add(def.ID, field, "operator \"matches\" requires a string pattern")
				break
			}
			if _, err := regexp.Compile(pattern); err != nil {
				errs.Add(def.ID, field, fmt.Sprintf("invalid regex pattern %q: %v", pattern, err))
			}
		}
	}

	for i, action := range def.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if !action.Type.IsValid() {
			errs.Add(def.ID, field, fmt.Sprintf("unknown action type %q", action.Type))
		}
	}
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
