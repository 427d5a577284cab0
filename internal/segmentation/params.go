package segmentation

import (
	"fmt"
	"sort"
)

// OptionsFromParams converts loosely typed parameters, as decoded from an
// experiment file, into metric options. Unknown keys are rejected.
func OptionsFromParams(params map[string]interface{}) ([]Option, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var opts []Option
	for _, key := range keys {
		value := params[key]
		switch key {
		case "threshold":
			t, ok := getFloatParam(value)
			if !ok {
				return nil, &ConfigError{Option: key, Value: value, Reason: "must be a number"}
			}
			opts = append(opts, WithThreshold(t))
		case "average":
			s, ok := value.(string)
			if !ok {
				return nil, &ConfigError{Option: key, Value: value, Reason: "must be a string"}
			}
			a, err := ParseAverage(s)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithAverage(a))
		case "connectivity":
			c, ok := getIntParam(value)
			if !ok {
				return nil, &ConfigError{Option: key, Value: value, Reason: "must be an integer"}
			}
			opts = append(opts, WithConnectivity(c))
		case "spacing":
			s, ok := getFloatSliceParam(value)
			if !ok {
				return nil, &ConfigError{Option: key, Value: value, Reason: "must be a list of numbers"}
			}
			opts = append(opts, WithSpacing(s...))
		case "empty_policy":
			s, ok := value.(string)
			if !ok {
				return nil, &ConfigError{Option: key, Value: value, Reason: "must be a string"}
			}
			p, err := ParseEmptyPolicy(s)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithEmptyPolicy(p))
		default:
			return nil, &ConfigError{Option: key, Value: value, Reason: "unknown option"}
		}
	}

	if _, err := resolve(opts); err != nil {
		return nil, fmt.Errorf("metric options: %w", err)
	}
	return opts, nil
}

func getFloatParam(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func getIntParam(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func getFloatSliceParam(v interface{}) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []interface{}:
		out := make([]float64, len(s))
		for i, e := range s {
			f, ok := getFloatParam(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}
