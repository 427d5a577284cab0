package model

import (
	"math"
	"strings"
)

const (
	DefaultLearningRate = 1e-3
	DefaultBeta1        = 0.9
	DefaultBeta2        = 0.999
)

// OptimizerSpec carries the hyper-parameters the training engine builds its
// optimizer from.
type OptimizerSpec struct {
	Name         string  `yaml:"name" json:"name"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Beta1        float64 `yaml:"beta1" json:"beta1"`
	Beta2        float64 `yaml:"beta2" json:"beta2"`
	WeightDecay  float64 `yaml:"weight_decay" json:"weight_decay"`
}

func DefaultOptimizer() OptimizerSpec {
	return OptimizerSpec{
		Name:         "adam",
		LearningRate: DefaultLearningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
	}
}

func (o OptimizerSpec) Validate() error {
	switch strings.ToLower(o.Name) {
	case "adam", "adamw", "sgd":
	default:
		return &ConfigError{Field: "optimizer", Value: o.Name, Reason: `want "adam", "adamw" or "sgd"`}
	}
	if o.LearningRate <= 0 || math.IsNaN(o.LearningRate) {
		return &ConfigError{Field: "learning_rate", Value: o.LearningRate, Reason: "must be positive"}
	}
	if !(o.Beta1 >= 0 && o.Beta1 < 1) || !(o.Beta2 >= 0 && o.Beta2 < 1) {
		return &ConfigError{Field: "betas", Value: []float64{o.Beta1, o.Beta2}, Reason: "must lie in [0,1)"}
	}
	if o.WeightDecay < 0 || math.IsNaN(o.WeightDecay) {
		return &ConfigError{Field: "weight_decay", Value: o.WeightDecay, Reason: "must be non-negative"}
	}
	return nil
}

// CosineAnnealing decays the learning rate from BaseLR to MinLR over TMax
// epochs along half a cosine, then follows the cosine back up.
type CosineAnnealing struct {
	BaseLR float64
	MinLR  float64
	TMax   int
}

func (c CosineAnnealing) LR(epoch int) float64 {
	if c.TMax <= 0 {
		return c.BaseLR
	}
	return c.MinLR + (c.BaseLR-c.MinLR)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))/2
}

func (c CosineAnnealing) Validate() error {
	if c.TMax <= 0 {
		return &ConfigError{Field: "t_max", Value: c.TMax, Reason: "must be positive"}
	}
	if c.MinLR < 0 || c.MinLR > c.BaseLR {
		return &ConfigError{Field: "min_lr", Value: c.MinLR, Reason: "must lie in [0, base learning rate]"}
	}
	return nil
}
