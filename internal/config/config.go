// Package config loads experiment files: which backbone to train or
// evaluate, its hyper-parameters and metric suite, and where results go.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"xrseg/internal/logger"
	"xrseg/internal/model"
	"xrseg/internal/segmentation"
)

type Optimizer = model.OptimizerSpec

type Scheduler struct {
	MinLR float64 `yaml:"min_lr"`
}

type Evaluation struct {
	// EmptyPolicy and Spacing apply to every distance metric that does not
	// set them itself.
	EmptyPolicy string    `yaml:"empty_policy"`
	Spacing     []float64 `yaml:"spacing"`
	BatchSize   int       `yaml:"batch_size"`
}

type RunLog struct {
	Path string `yaml:"path"`
}

type Telemetry struct {
	Listen string `yaml:"listen"`
}

type File struct {
	Backbone   string             `yaml:"backbone"`
	Task       string             `yaml:"task"`
	Outputs    int                `yaml:"outputs"`
	Epochs     int                `yaml:"epochs"`
	Device     string             `yaml:"device"`
	Precision  string             `yaml:"precision"`
	Activation string             `yaml:"activation"`
	LogLevel   string             `yaml:"log_level"`
	Optimizer  Optimizer          `yaml:"optimizer"`
	Scheduler  Scheduler          `yaml:"scheduler"`
	Loss       model.LossSpec     `yaml:"loss"`
	Metrics    []model.MetricSpec `yaml:"metrics"`
	Evaluation Evaluation         `yaml:"evaluation"`
	RunLog     RunLog             `yaml:"runlog"`
	Telemetry  Telemetry          `yaml:"telemetry"`
}

const DefaultBatchSize = 8

// Default mirrors model.Preset for backbone.
func Default(backbone model.Backbone) *File {
	preset := model.Preset(backbone, 50)
	return &File{
		Backbone:   backbone.String(),
		Task:       preset.Task.String(),
		Outputs:    preset.Outputs,
		Epochs:     preset.Epochs,
		Device:     string(preset.Device),
		Precision:  string(preset.Precision),
		Activation: preset.Activation.String(),
		LogLevel:   "info",
		Optimizer:  preset.Optimizer,
		Scheduler:  Scheduler{MinLR: preset.MinLR},
		Loss:       preset.Loss,
		Metrics:    preset.Metrics,
		Evaluation: Evaluation{EmptyPolicy: segmentation.EmptyFail.String(), BatchSize: DefaultBatchSize},
	}
}

// Load decodes an experiment file. Unset fields take the defaults of the
// named backbone, including its metric suite when none is listed.
func Load(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var peek struct {
		Backbone string `yaml:"backbone"`
	}
	if err := yaml.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	backbone := model.DenseNet201
	if peek.Backbone != "" {
		backbone, err = model.ParseBackbone(peek.Backbone)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	f := Default(backbone)
	f.Metrics = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(f.Metrics) == 0 {
		f.Metrics = model.Preset(backbone, f.Epochs).Metrics
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	f, err := Load(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) Validate() error {
	if _, err := f.Model(); err != nil {
		return err
	}
	if f.Evaluation.BatchSize <= 0 {
		return fmt.Errorf("config: %w", &model.ConfigError{Field: "evaluation.batch_size", Value: f.Evaluation.BatchSize, Reason: "must be positive"})
	}
	if _, ok := logger.LookupLevel(f.LogLevel); !ok {
		return fmt.Errorf("config: %w", &model.ConfigError{Field: "log_level", Value: f.LogLevel, Reason: `want "debug", "info", "warn" or "error"`})
	}
	return nil
}

// Model resolves the file into a validated model configuration.
func (f *File) Model() (model.Config, error) {
	backbone, err := model.ParseBackbone(f.Backbone)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: %w", err)
	}
	task, err := model.ParseTask(f.Task)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: %w", err)
	}
	activation, err := model.ParseActivation(f.Activation)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := segmentation.ParseEmptyPolicy(f.Evaluation.EmptyPolicy); err != nil {
		return model.Config{}, fmt.Errorf("config: %w", err)
	}

	cfg := model.Config{
		Backbone:   backbone,
		Task:       task,
		Outputs:    f.Outputs,
		Epochs:     f.Epochs,
		Device:     model.Device(f.Device),
		Precision:  model.Precision(f.Precision),
		Activation: activation,
		Optimizer:  f.Optimizer,
		MinLR:      f.Scheduler.MinLR,
		Loss:       f.Loss,
		Metrics:    f.metricSpecs(),
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// metricSpecs copies the metric list, filling in evaluation-wide distance
// options where a metric leaves them unset.
func (f *File) metricSpecs() []model.MetricSpec {
	specs := make([]model.MetricSpec, len(f.Metrics))
	for i, spec := range f.Metrics {
		opts := make(map[string]interface{}, len(spec.Options)+2)
		for k, v := range spec.Options {
			opts[k] = v
		}
		if family, ok := model.FamilyOf(spec.Name); ok && family == model.FamilyDistance {
			if _, ok := opts["empty_policy"]; !ok && f.Evaluation.EmptyPolicy != "" {
				opts["empty_policy"] = f.Evaluation.EmptyPolicy
			}
			if _, ok := opts["spacing"]; !ok && len(f.Evaluation.Spacing) > 0 {
				opts["spacing"] = append([]float64(nil), f.Evaluation.Spacing...)
			}
		}
		if len(opts) == 0 {
			opts = nil
		}
		specs[i] = model.MetricSpec{Name: spec.Name, Key: spec.Key, Options: opts}
	}
	return specs
}
