package model

import (
	"math"
	"regexp"

	"xrseg/internal/segmentation"
)

// Device names where the training engine places tensors. It is always passed
// explicitly with the run configuration.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

var devicePattern = regexp.MustCompile(`^(cpu|mps|cuda(:[0-9]+)?)$`)

func (d Device) Validate() error {
	if !devicePattern.MatchString(string(d)) {
		return &ConfigError{Field: "device", Value: string(d), Reason: `want "cpu", "mps", "cuda" or "cuda:N"`}
	}
	return nil
}

type Precision string

const (
	Float32 Precision = "float32"
	Float64 Precision = "float64"
)

func (p Precision) Validate() error {
	if p != Float32 && p != Float64 {
		return &ConfigError{Field: "precision", Value: string(p), Reason: `want "float32" or "float64"`}
	}
	return nil
}

// LossSpec holds the DiceBCE loss settings.
type LossSpec struct {
	FromLogits bool    `yaml:"from_logits" json:"from_logits"`
	Smooth     float64 `yaml:"smooth" json:"smooth"`
	BCEWeight  float64 `yaml:"bce_weight" json:"bce_weight"`
	DiceWeight float64 `yaml:"dice_weight" json:"dice_weight"`
}

func DefaultLoss() LossSpec {
	return LossSpec{FromLogits: true, Smooth: 1, BCEWeight: 1, DiceWeight: 1}
}

func (l LossSpec) Build() (*segmentation.DiceBCELoss, error) {
	return segmentation.NewDiceBCELoss(
		segmentation.WithLogits(l.FromLogits),
		segmentation.WithSmooth(l.Smooth),
		segmentation.WithLossWeights(l.BCEWeight, l.DiceWeight),
	)
}

// Config is everything needed to train or evaluate one backbone.
type Config struct {
	Backbone   Backbone
	Task       Task
	Outputs    int
	Epochs     int
	Device     Device
	Precision  Precision
	Activation Activation
	Optimizer  OptimizerSpec
	MinLR      float64
	Loss       LossSpec
	Metrics    []MetricSpec
}

func (c Config) Schedule() CosineAnnealing {
	return CosineAnnealing{BaseLR: c.Optimizer.LearningRate, MinLR: c.MinLR, TMax: c.Epochs}
}

func (c Config) Validate() error {
	if _, ok := backboneNames[c.Backbone]; !ok {
		return &ConfigError{Field: "backbone", Value: int(c.Backbone), Reason: "unknown backbone"}
	}
	if !c.Task.Valid() {
		return &ConfigError{Field: "task", Value: c.Task, Reason: "unknown task"}
	}
	if c.Outputs <= 0 {
		return &ConfigError{Field: "outputs", Value: c.Outputs, Reason: "must be positive"}
	}
	if c.Epochs <= 0 {
		return &ConfigError{Field: "epochs", Value: c.Epochs, Reason: "must be positive"}
	}
	if err := c.Device.Validate(); err != nil {
		return err
	}
	if err := c.Precision.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.MinLR) {
		return &ConfigError{Field: "min_lr", Value: c.MinLR, Reason: "must be a number"}
	}
	if err := c.Schedule().Validate(); err != nil {
		return err
	}
	if _, err := c.Loss.Build(); err != nil {
		return err
	}
	if _, err := NewSuite(c.Metrics); err != nil {
		return err
	}
	return nil
}
