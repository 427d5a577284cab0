package model

import (
	"fmt"
	"strings"

	"xrseg/internal/segmentation"
	"xrseg/internal/tensor"
)

// Activation maps raw network output to the scores the metrics threshold.
type Activation int

const (
	ActivationSigmoid Activation = iota
	ActivationIdentity
)

func (a Activation) String() string {
	switch a {
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationIdentity:
		return "identity"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sigmoid":
		return ActivationSigmoid, nil
	case "identity", "none":
		return ActivationIdentity, nil
	default:
		return 0, &ConfigError{Field: "activation", Value: s, Reason: `want "sigmoid" or "identity"`}
	}
}

func (a Activation) Apply(m *tensor.Mask) *tensor.Mask {
	if a == ActivationSigmoid {
		return segmentation.Sigmoid(m)
	}
	return m
}
