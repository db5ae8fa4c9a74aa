package engine

import (
	"strings"

	"fedlearn-hq/arbiter/pkg/policy"
)

// resolveField resolves a dotted field path into the evaluation context.
// The second return value reports presence: a missing field makes the
// referencing condition false, never an error.
func resolveField(fieldPath string, evalCtx policy.Context) (interface{}, bool) {
	if fieldPath == "" || evalCtx == nil {
		return nil, false
	}

	parts := strings.Split(fieldPath, ".")
	var current interface{} = map[string]interface{}(evalCtx)

	for _, part := range parts {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v

		case policy.Context:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v

		case map[interface{}]interface{}:
			// YAML-decoded nested maps key on interface{}.
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v

		default:
			// Path descends into a scalar.
			return nil, false
		}
	}

	return current, true
}
