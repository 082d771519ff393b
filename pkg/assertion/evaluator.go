// Package assertion evaluates declared expectations against actual step and
// run outputs, producing pass/fail verdicts with diagnostics.
package assertion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/flowprobe/flowprobe/pkg/models"
)

// MissingTargetMessage is the diagnostic attached to verdicts for targets that
// produced no output.
const MissingTargetMessage = "no output produced for target"

// Verdict is the outcome of evaluating one assertion.
type Verdict struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Evaluate compares an actual value against the assertion's expectation.
// found reports whether the target produced any output at all; a missing
// target never panics or errors, it yields a failed verdict. The returned
// error is reserved for assertions that cannot be evaluated (unknown kind or
// unsupported custom predicate) and must surface as an error result, never as
// a silent pass.
func Evaluate(a models.Assertion, actual any, found bool) (Verdict, error) {
	if !found {
		return Verdict{Passed: false, Message: MissingTargetMessage}, nil
	}

	switch a.Kind {
	case models.AssertionKindEquals:
		return evaluateEquals(a.Expected, actual), nil
	case models.AssertionKindContains:
		return evaluateContains(a.Expected, actual), nil
	case models.AssertionKindExists:
		return evaluateExists(actual), nil
	case models.AssertionKindCustom:
		return evaluateCustom(a, actual)
	default:
		return Verdict{}, fmt.Errorf("unsupported assertion kind: %q", a.Kind)
	}
}

func evaluateEquals(expected, actual any) Verdict {
	expectedNorm := normalize(expected)
	actualNorm := normalize(actual)

	if reflect.DeepEqual(expectedNorm, actualNorm) {
		return Verdict{Passed: true}
	}

	if path, expDiff, actDiff, ok := firstMismatch("", expectedNorm, actualNorm); ok {
		return Verdict{
			Passed: false,
			Message: fmt.Sprintf("values differ at %q: expected %s, got %s",
				path, renderValue(expDiff), renderValue(actDiff)),
		}
	}

	return Verdict{
		Passed:  false,
		Message: fmt.Sprintf("expected %s, got %s", renderValue(expectedNorm), renderValue(actualNorm)),
	}
}

func evaluateContains(expected, actual any) Verdict {
	expectedNorm := normalize(expected)

	switch actualNorm := normalize(actual).(type) {
	case string:
		needle, ok := expectedNorm.(string)
		if !ok {
			return Verdict{Passed: false, Message: fmt.Sprintf("cannot search string output for %s", renderValue(expectedNorm))}
		}

		if strings.Contains(actualNorm, needle) {
			return Verdict{Passed: true}
		}

		return Verdict{Passed: false, Message: fmt.Sprintf("string %s does not contain %s", renderValue(actualNorm), renderValue(needle))}

	case []any:
		for _, element := range actualNorm {
			if reflect.DeepEqual(element, expectedNorm) {
				return Verdict{Passed: true}
			}
		}

		return Verdict{Passed: false, Message: fmt.Sprintf("sequence does not contain %s", renderValue(expectedNorm))}

	case map[string]any:
		subset, ok := expectedNorm.(map[string]any)
		if !ok {
			return Verdict{Passed: false, Message: fmt.Sprintf("cannot check mapping output against %s", renderValue(expectedNorm))}
		}

		for key, expectedValue := range subset {
			actualValue, exists := actualNorm[key]
			if !exists {
				return Verdict{Passed: false, Message: fmt.Sprintf("mapping is missing key %q", key)}
			}

			if !reflect.DeepEqual(actualValue, expectedValue) {
				return Verdict{
					Passed: false,
					Message: fmt.Sprintf("mapping key %q: expected %s, got %s",
						key, renderValue(expectedValue), renderValue(actualValue)),
				}
			}
		}

		return Verdict{Passed: true}

	default:
		return Verdict{Passed: false, Message: fmt.Sprintf("output of type %T does not support contains", actual)}
	}
}

func evaluateExists(actual any) Verdict {
	if actual == nil {
		return Verdict{Passed: false, Message: "output is null"}
	}

	return Verdict{Passed: true}
}

// evaluateCustom applies the user-supplied numeric predicate. An unsupported
// predicate is an evaluation error, never a silent pass.
func evaluateCustom(a models.Assertion, actual any) (Verdict, error) {
	actualNumber, ok := asNumber(normalize(actual))
	if !ok {
		return Verdict{Passed: false, Message: fmt.Sprintf("custom predicate requires numeric output, got %T", actual)}, nil
	}

	expectedNumber, ok := asNumber(normalize(a.Expected))
	if !ok {
		return Verdict{}, fmt.Errorf("custom predicate %q requires a numeric expected value", a.Predicate)
	}

	var passed bool

	switch a.Predicate {
	case "gt":
		passed = actualNumber > expectedNumber
	case "gte":
		passed = actualNumber >= expectedNumber
	case "lt":
		passed = actualNumber < expectedNumber
	case "lte":
		passed = actualNumber <= expectedNumber
	case "ne":
		passed = actualNumber != expectedNumber
	default:
		return Verdict{}, fmt.Errorf("unsupported custom predicate: %q", a.Predicate)
	}

	if passed {
		return Verdict{Passed: true}, nil
	}

	return Verdict{
		Passed:  false,
		Message: fmt.Sprintf("expected value %s %v, got %v", a.Predicate, expectedNumber, actualNumber),
	}, nil
}

// normalize round-trips a value through JSON so comparisons always see the
// canonical shapes: map[string]any, []any, float64, string, bool, nil.
func normalize(value any) any {
	if value == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return value
	}

	return normalized
}

func asNumber(value any) (float64, bool) {
	number, ok := value.(float64)

	return number, ok
}

// firstMismatch walks two normalized values and reports the path of the first
// difference, for diagnostics that name the mismatched field.
func firstMismatch(path string, expected, actual any) (string, any, any, bool) {
	expectedMap, expectedIsMap := expected.(map[string]any)
	actualMap, actualIsMap := actual.(map[string]any)

	if expectedIsMap && actualIsMap {
		keys := make([]string, 0, len(expectedMap))
		for key := range expectedMap {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}

			actualValue, exists := actualMap[key]
			if !exists {
				return childPath, expectedMap[key], nil, true
			}

			if mismatchPath, exp, act, ok := firstMismatch(childPath, expectedMap[key], actualValue); ok {
				return mismatchPath, exp, act, true
			}
		}

		for key := range actualMap {
			if _, exists := expectedMap[key]; !exists {
				childPath := key
				if path != "" {
					childPath = path + "." + key
				}

				return childPath, nil, actualMap[key], true
			}
		}

		return "", nil, nil, false
	}

	expectedSeq, expectedIsSeq := expected.([]any)
	actualSeq, actualIsSeq := actual.([]any)

	if expectedIsSeq && actualIsSeq {
		for i := 0; i < len(expectedSeq) && i < len(actualSeq); i++ {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if mismatchPath, exp, act, ok := firstMismatch(childPath, expectedSeq[i], actualSeq[i]); ok {
				return mismatchPath, exp, act, true
			}
		}

		if len(expectedSeq) != len(actualSeq) {
			return path, expectedSeq, actualSeq, true
		}

		return "", nil, nil, false
	}

	if !reflect.DeepEqual(expected, actual) {
		return path, expected, actual, true
	}

	return "", nil, nil, false
}

func renderValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}

	return string(data)
}
