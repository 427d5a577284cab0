// Package pipeline evaluates directories of predicted masks against ground
// truth with a model's metric suite and records the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"xrseg/internal/imageio"
	"xrseg/internal/logger"
	"xrseg/internal/model"
	"xrseg/internal/runlog"
	"xrseg/internal/tensor"
)

const component = "PipelineCoordinator"

// Recorder persists run results; *runlog.Store implements it.
type Recorder interface {
	StartRun(backbone string, hyperparameters map[string]interface{}) (runlog.Run, error)
	RecordMetrics(runID string, epoch int, values map[string]float64) error
}

// Evaluator scores already-activated predictions; *model.Harness implements
// it.
type Evaluator interface {
	Evaluate(predictions, targets *tensor.Mask) (map[string]float64, error)
	Hyperparameters() map[string]interface{}
	Config() model.Config
	Epoch() int
}

type MaskLoader interface {
	LoadFile(path string) (*imageio.MaskData, error)
}

type PairResult struct {
	Name   string
	Values map[string]float64
}

type BatchResult struct {
	Index  int
	Names  []string
	Values map[string]float64
}

type Report struct {
	RunID    string
	Backbone string
	Keys     []string
	Pairs    []PairResult
	Batches  []BatchResult
	// Means averages each metric over pairs.
	Means    map[string]float64
	Duration time.Duration
}

type Option func(*Coordinator)

func WithBatchSize(n int) Option {
	return func(c *Coordinator) { c.batchSize = n }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithObserver installs a factory for a per-run observer, called once the
// run ID is known.
func WithObserver(factory func(runID string) model.Observer) Option {
	return func(c *Coordinator) { c.observerFor = factory }
}

func WithLoader(l MaskLoader) Option {
	return func(c *Coordinator) { c.loader = l }
}

type Coordinator struct {
	mu          sync.Mutex
	evaluator   Evaluator
	loader      MaskLoader
	recorder    Recorder
	observerFor func(runID string) model.Observer
	batchSize   int
	logger      logger.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewCoordinator(evaluator Evaluator, log logger.Logger, opts ...Option) (*Coordinator, error) {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		evaluator: evaluator,
		loader:    imageio.NewLoader(log),
		batchSize: 1,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batchSize <= 0 {
		cancel()
		return nil, &model.ConfigError{Field: "batch_size", Value: c.batchSize, Reason: "must be positive"}
	}

	log.Info(component, "initialized", map[string]interface{}{
		"batch_size": c.batchSize,
		"recording":  c.recorder != nil,
	})
	return c, nil
}

// EvaluateDirs pairs the files of predDir and targetDir and evaluates them.
func (c *Coordinator) EvaluateDirs(ctx context.Context, predDir, targetDir string) (*Report, error) {
	pairs, err := imageio.PairDir(predDir, targetDir)
	if err != nil {
		c.logger.Error(component, err, map[string]interface{}{
			"operation":  "pair_dirs",
			"prediction": predDir,
			"target":     targetDir,
		})
		return nil, err
	}
	return c.Evaluate(ctx, pairs)
}

// Evaluate scores pairs in batches. It stops between pairs once ctx or the
// coordinator is cancelled and returns no partial report on failure.
func (c *Coordinator) Evaluate(ctx context.Context, pairs []imageio.Pair) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pairs) == 0 {
		return nil, fmt.Errorf("no mask pairs to evaluate")
	}

	ctx, cancel := mergeCancel(ctx, c.ctx)
	defer cancel()

	start := time.Now()
	cfg := c.evaluator.Config()
	report := &Report{Backbone: cfg.Backbone.String()}

	if c.recorder != nil {
		run, err := c.recorder.StartRun(report.Backbone, c.evaluator.Hyperparameters())
		if err != nil {
			c.logger.Error(component, err, map[string]interface{}{"operation": "start_run"})
			return nil, fmt.Errorf("start run: %w", err)
		}
		report.RunID = run.ID
	}

	var observer model.Observer
	if c.observerFor != nil {
		observer = c.observerFor(report.RunID)
	}

	for index, first := 0, 0; first < len(pairs); index, first = index+1, first+c.batchSize {
		last := first + c.batchSize
		if last > len(pairs) {
			last = len(pairs)
		}

		batch, pairResults, err := c.evaluateBatch(ctx, index, pairs[first:last])
		if err != nil {
			var me *model.MetricError
			if observer != nil && errors.As(err, &me) {
				observer.ObserveMetricError(me.Key)
			}
			c.logger.Error(component, err, map[string]interface{}{
				"operation": "evaluate_batch",
				"batch":     index,
			})
			return nil, err
		}
		report.Batches = append(report.Batches, batch)
		report.Pairs = append(report.Pairs, pairResults...)
	}

	report.Keys = keys(report.Pairs[0].Values)
	report.Means = means(report.Keys, report.Pairs)
	report.Duration = time.Since(start)

	if observer != nil {
		observer.ObserveMetrics(report.Means)
	}
	if c.recorder != nil {
		if err := c.recorder.RecordMetrics(report.RunID, c.evaluator.Epoch(), report.Means); err != nil {
			c.logger.Error(component, err, map[string]interface{}{"operation": "record_metrics", "run": report.RunID})
			return nil, fmt.Errorf("record metrics: %w", err)
		}
	}

	c.logger.Info(component, "evaluation finished", map[string]interface{}{
		"run":      report.RunID,
		"pairs":    len(report.Pairs),
		"batches":  len(report.Batches),
		"means":    report.Means,
		"duration": report.Duration,
	})
	return report, nil
}

func (c *Coordinator) evaluateBatch(ctx context.Context, index int, pairs []imageio.Pair) (BatchResult, []PairResult, error) {
	preds := make([]*tensor.Mask, 0, len(pairs))
	targets := make([]*tensor.Mask, 0, len(pairs))
	names := make([]string, 0, len(pairs))

	for _, p := range pairs {
		select {
		case <-ctx.Done():
			return BatchResult{}, nil, ctx.Err()
		default:
		}

		pred, err := c.loader.LoadFile(p.Prediction)
		if err != nil {
			return BatchResult{}, nil, fmt.Errorf("load prediction %s: %w", p.Name, err)
		}
		target, err := c.loader.LoadFile(p.Target)
		if err != nil {
			return BatchResult{}, nil, fmt.Errorf("load target %s: %w", p.Name, err)
		}
		preds = append(preds, pred.Mask)
		targets = append(targets, target.Mask)
		names = append(names, p.Name)
	}

	predBatch, err := imageio.Stack(preds)
	if err != nil {
		return BatchResult{}, nil, fmt.Errorf("batch %d predictions: %w", index, err)
	}
	targetBatch, err := imageio.Stack(targets)
	if err != nil {
		return BatchResult{}, nil, fmt.Errorf("batch %d targets: %w", index, err)
	}

	values, err := c.evaluator.Evaluate(predBatch, targetBatch)
	if err != nil {
		return BatchResult{}, nil, fmt.Errorf("batch %d: %w", index, err)
	}
	batch := BatchResult{Index: index, Names: names, Values: values}

	if len(pairs) == 1 {
		return batch, []PairResult{{Name: names[0], Values: values}}, nil
	}

	results := make([]PairResult, len(pairs))
	for i := range pairs {
		pred, err := singleSample(predBatch, i)
		if err != nil {
			return BatchResult{}, nil, err
		}
		target, err := singleSample(targetBatch, i)
		if err != nil {
			return BatchResult{}, nil, err
		}
		v, err := c.evaluator.Evaluate(pred, target)
		if err != nil {
			return BatchResult{}, nil, fmt.Errorf("pair %s: %w", names[i], err)
		}
		results[i] = PairResult{Name: names[i], Values: v}
	}

	c.logger.Debug(component, "batch evaluated", map[string]interface{}{
		"batch":  index,
		"pairs":  len(pairs),
		"values": values,
	})
	return batch, results, nil
}

// singleSample keeps the batch axis so the result is still a valid batch.
func singleSample(batch *tensor.Mask, i int) (*tensor.Mask, error) {
	s, err := batch.Sample(i)
	if err != nil {
		return nil, err
	}
	return s.Reshape(append([]int{1}, s.Shape()...)...)
}

func keys(values map[string]float64) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func means(keys []string, pairs []PairResult) map[string]float64 {
	out := make(map[string]float64, len(keys))
	column := make([]float64, len(pairs))
	for _, k := range keys {
		for i, p := range pairs {
			column[i] = p.Values[k]
		}
		out[k] = stat.Mean(column, nil)
	}
	return out
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	if b.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}

func (c *Coordinator) Context() context.Context {
	return c.ctx
}

func (c *Coordinator) Cancel() {
	c.cancel()
}

func (c *Coordinator) Shutdown() {
	c.logger.Info(component, "shutdown started", nil)
	c.cancel()
	c.logger.Info(component, "shutdown completed", nil)
}
