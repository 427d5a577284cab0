package model

import "fmt"

// ConfigError reports a training or evaluation setting that cannot be used.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// MetricError names the metric of a suite that failed.
type MetricError struct {
	Key string
	Err error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *MetricError) Unwrap() error {
	return e.Err
}
