package model

import (
	"fmt"
	"strings"
)

// Task selects how a backbone's forward pass is shaped. It is resolved once
// when a head is built, never looked up per forward call.
type Task int

const (
	TaskSegmentation Task = iota
	TaskClassification
)

func (t Task) String() string {
	switch t {
	case TaskSegmentation:
		return "segmentation"
	case TaskClassification:
		return "classification"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

func (t Task) Valid() bool {
	return t == TaskSegmentation || t == TaskClassification
}

func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "segmentation":
		return TaskSegmentation, nil
	case "classification":
		return TaskClassification, nil
	default:
		return 0, &ConfigError{Field: "task", Value: s, Reason: `want "segmentation" or "classification"`}
	}
}
