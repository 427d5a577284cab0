package model

import (
	"errors"
	"fmt"
	"sync"

	"xrseg/internal/logger"
	"xrseg/internal/segmentation"
	"xrseg/internal/tensor"
)

const harnessComponent = "Harness"

// Observer receives what the harness computes, e.g. a metrics exporter.
type Observer interface {
	ObserveLoss(value float64)
	ObserveMetrics(results map[string]float64)
	ObserveMetricError(key string)
}

// Harness binds a Config to the loss, metric suite and learning-rate
// schedule around a network the training engine runs. It does not own the
// network: callers pass raw outputs and targets for every step.
type Harness struct {
	mu        sync.Mutex
	cfg       Config
	head      Head
	loss      *segmentation.DiceBCELoss
	suite     *Suite
	schedule  CosineAnnealing
	epoch     int
	steps     int
	logger    logger.Logger
	observers []Observer
}

func NewHarness(cfg Config, log logger.Logger, observers ...Observer) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("harness config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	head, err := NewHead(cfg.Task, cfg.Outputs)
	if err != nil {
		return nil, err
	}
	loss, err := cfg.Loss.Build()
	if err != nil {
		return nil, err
	}
	suite, err := NewSuite(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		cfg:       cfg,
		head:      head,
		loss:      loss,
		suite:     suite,
		schedule:  cfg.Schedule(),
		logger:    log,
		observers: observers,
	}

	log.Info(harnessComponent, "initialized", map[string]interface{}{
		"model":   cfg.Backbone.ModelName(),
		"task":    cfg.Task.String(),
		"device":  string(cfg.Device),
		"metrics": suite.Keys(),
	})
	return h, nil
}

func (h *Harness) Head() Head     { return h.head }
func (h *Harness) Suite() *Suite  { return h.suite }
func (h *Harness) Config() Config { return h.cfg }

// Predict applies the configured activation to raw network output.
func (h *Harness) Predict(raw *tensor.Mask) *tensor.Mask {
	return h.cfg.Activation.Apply(raw)
}

// TrainStep evaluates the loss and its gradient for one batch.
func (h *Harness) TrainStep(raw, targets *tensor.Mask) (segmentation.LossResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.loss.Forward(raw, targets)
	if err != nil {
		h.logger.Error(harnessComponent, err, map[string]interface{}{
			"operation": "train_step",
			"epoch":     h.epoch,
			"step":      h.steps,
		})
		return segmentation.LossResult{}, fmt.Errorf("train step: %w", err)
	}
	h.steps++

	for _, o := range h.observers {
		o.ObserveLoss(res.Value)
	}
	h.logger.Debug(harnessComponent, "train step", map[string]interface{}{
		"epoch": h.epoch,
		"step":  h.steps,
		"loss":  res.Value,
		"bce":   res.BCE,
		"dice":  res.Dice,
	})
	return res, nil
}

// EvalStep activates raw output and runs the metric suite on it.
func (h *Harness) EvalStep(raw, targets *tensor.Mask) (map[string]float64, error) {
	if raw == nil {
		return nil, fmt.Errorf("eval step: nil predictions")
	}
	results, err := h.Evaluate(h.Predict(raw), targets)
	if err != nil {
		return nil, fmt.Errorf("eval step: %w", err)
	}
	return results, nil
}

// Evaluate runs the metric suite on already-activated predictions.
func (h *Harness) Evaluate(predictions, targets *tensor.Mask) (map[string]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	results, err := h.suite.Evaluate(predictions, targets)
	if err != nil {
		fields := map[string]interface{}{
			"operation": "evaluate",
			"epoch":     h.epoch,
		}
		var me *MetricError
		if errors.As(err, &me) {
			fields["metric"] = me.Key
			for _, o := range h.observers {
				o.ObserveMetricError(me.Key)
			}
		}
		h.logger.Error(harnessComponent, err, fields)
		return nil, err
	}

	for _, o := range h.observers {
		o.ObserveMetrics(results)
	}
	h.logger.Debug(harnessComponent, "evaluated", map[string]interface{}{
		"epoch":   h.epoch,
		"results": results,
	})
	return results, nil
}

// EndEpoch advances the cosine schedule and returns the learning rate for
// the next epoch.
func (h *Harness) EndEpoch() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.epoch++
	lr := h.schedule.LR(h.epoch)
	h.logger.Info(harnessComponent, "epoch finished", map[string]interface{}{
		"epoch":         h.epoch,
		"steps":         h.steps,
		"learning_rate": lr,
	})
	return lr
}

func (h *Harness) Epoch() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch
}

func (h *Harness) LearningRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schedule.LR(h.epoch)
}

// Hyperparameters is the flat record saved alongside a run.
func (h *Harness) Hyperparameters() map[string]interface{} {
	metrics := make([]map[string]interface{}, 0, len(h.cfg.Metrics))
	for _, spec := range h.cfg.Metrics {
		entry := map[string]interface{}{"name": spec.Name}
		if spec.Key != "" {
			entry["key"] = spec.Key
		}
		if len(spec.Options) > 0 {
			entry["options"] = spec.Options
		}
		metrics = append(metrics, entry)
	}

	return map[string]interface{}{
		"model":        h.cfg.Backbone.ModelName(),
		"backbone":     h.cfg.Backbone.String(),
		"task":         h.cfg.Task.String(),
		"outputs":      h.cfg.Outputs,
		"n_epochs":     h.cfg.Epochs,
		"device":       string(h.cfg.Device),
		"precision":    string(h.cfg.Precision),
		"activation":   h.cfg.Activation.String(),
		"optimizer":    h.cfg.Optimizer.Name,
		"lr":           h.cfg.Optimizer.LearningRate,
		"betas":        []float64{h.cfg.Optimizer.Beta1, h.cfg.Optimizer.Beta2},
		"weight_decay": h.cfg.Optimizer.WeightDecay,
		"scheduler":    "cosine_annealing",
		"t_max":        h.schedule.TMax,
		"min_lr":       h.schedule.MinLR,
		"loss": map[string]interface{}{
			"name":        "dice_bce",
			"from_logits": h.cfg.Loss.FromLogits,
			"smooth":      h.cfg.Loss.Smooth,
			"bce_weight":  h.cfg.Loss.BCEWeight,
			"dice_weight": h.cfg.Loss.DiceWeight,
		},
		"metrics": metrics,
	}
}
