package engine

import (
	"fmt"
	"reflect"
	"regexp"

	"fedlearn-hq/arbiter/pkg/policy"
)

// evaluateOperator evaluates a comparison between the actual context value
// and the expected condition value.
func evaluateOperator(op policy.Operator, actual, expected interface{}) (bool, error) {
	switch op {
	case policy.OperatorEqual:
		return evaluateEqual(actual, expected), nil

	case policy.OperatorNotEqual:
		return !evaluateEqual(actual, expected), nil

	case policy.OperatorLessThan:
		a, b, err := toNumeric(actual, expected)
		if err != nil {
			return false, err
		}
		return a < b, nil

	case policy.OperatorLessEqual:
		a, b, err := toNumeric(actual, expected)
		if err != nil {
			return false, err
		}
		return a <= b, nil

	case policy.OperatorGreaterThan:
		a, b, err := toNumeric(actual, expected)
		if err != nil {
			return false, err
		}
		return a > b, nil

	case policy.OperatorGreaterEqual:
		a, b, err := toNumeric(actual, expected)
		if err != nil {
			return false, err
		}
		return a >= b, nil

	case policy.OperatorIn:
		return evaluateIn(actual, expected)

	case policy.OperatorNotIn:
		in, err := evaluateIn(actual, expected)
		return !in, err

	case policy.OperatorMatches:
		return evaluateMatches(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator: %q", op)
	}
}

// evaluateEqual checks equality, trying numeric comparison first so that
// int context values compare equal to float64 condition values decoded
// from YAML/JSON.
func evaluateEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	actualNum, actualErr := convertToFloat64(actual)
	expectedNum, expectedErr := convertToFloat64(expected)
	if actualErr == nil && expectedErr == nil {
		return actualNum == expectedNum
	}

	return reflect.DeepEqual(actual, expected)
}

// evaluateIn checks whether actual is an element of the expected list.
func evaluateIn(actual, expected interface{}) (bool, error) {
	expectedVal := reflect.ValueOf(expected)
	if expectedVal.Kind() != reflect.Slice && expectedVal.Kind() != reflect.Array {
		return false, fmt.Errorf("in operator requires a list value, got %T", expected)
	}

	for i := 0; i < expectedVal.Len(); i++ {
		if evaluateEqual(actual, expectedVal.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateMatches checks whether actual matches the expected regex.
func evaluateMatches(actual, expected interface{}) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("matches operator requires a string pattern, got %T", expected)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	actualStr, ok := actual.(string)
	if !ok {
		actualStr = fmt.Sprint(actual)
	}
	return re.MatchString(actualStr), nil
}

// toNumeric converts both values to float64 for ordered comparison.
func toNumeric(actual, expected interface{}) (float64, float64, error) {
	a, err := convertToFloat64(actual)
	if err != nil {
		return 0, 0, fmt.Errorf("cannot convert actual value to number: %w", err)
	}
	b, err := convertToFloat64(expected)
	if err != nil {
		return 0, 0, fmt.Errorf("cannot convert expected value to number: %w", err)
	}
	return a, b, nil
}

func convertToFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
