package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrseg/internal/imageio"
	"xrseg/internal/logger"
	"xrseg/internal/model"
	"xrseg/internal/runlog"
	"xrseg/internal/segmentation"
	"xrseg/internal/telemetry"
	"xrseg/internal/tensor"
)

// block returns an (h, w) mask with ones in rows [r0,r1) and cols [c0,c1).
func block(t *testing.T, h, w, r0, r1, c0, c1 int) *tensor.Mask {
	t.Helper()
	m, err := tensor.New(h, w)
	require.NoError(t, err)
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			require.NoError(t, m.Set(1, r, c))
		}
	}
	return m
}

// fixture writes two pairs: "exact" matches its target, "shifted" is the
// target moved one column right.
func fixture(t *testing.T) (string, string) {
	t.Helper()
	preds, targets := t.TempDir(), t.TempDir()
	saver := imageio.NewSaver(nil)

	require.NoError(t, saver.SaveFile(filepath.Join(preds, "exact.png"), block(t, 7, 7, 1, 4, 1, 4), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(targets, "exact.png"), block(t, 7, 7, 1, 4, 1, 4), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(preds, "shifted.png"), block(t, 7, 7, 1, 4, 2, 5), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(targets, "shifted.png"), block(t, 7, 7, 1, 4, 1, 4), 0.5))
	return preds, targets
}

func harness(t *testing.T, backbone model.Backbone) *model.Harness {
	t.Helper()
	h, err := model.NewHarness(model.Preset(backbone, 10), logger.NewNop())
	require.NoError(t, err)
	return h
}

func TestEvaluateDirs(t *testing.T) {
	preds, targets := fixture(t)

	for _, batch := range []int{1, 2} {
		c, err := NewCoordinator(harness(t, model.ResNet152V2), logger.NewNop(), WithBatchSize(batch))
		require.NoError(t, err)

		report, err := c.EvaluateDirs(context.Background(), preds, targets)
		require.NoError(t, err)

		require.Len(t, report.Pairs, 2)
		assert.Equal(t, "exact", report.Pairs[0].Name)
		assert.Equal(t, 1.0, report.Pairs[0].Values[model.MetricDice])
		assert.InDelta(t, 2.0/3.0, report.Pairs[1].Values[model.MetricDice], 1e-12)
		assert.InDelta(t, 0.5, report.Pairs[1].Values[model.MetricAverageSurfaceDistance], 1e-12)

		assert.InDelta(t, (1+2.0/3.0)/2, report.Means[model.MetricDice], 1e-12)
		assert.InDelta(t, 0.25, report.Means[model.MetricAverageSurfaceDistance], 1e-12)
		assert.Len(t, report.Keys, 4)
		assert.Len(t, report.Batches, 2/batch)
		assert.Equal(t, "resnet152v2", report.Backbone)
		assert.Empty(t, report.RunID)
	}
}

func TestEvaluateRecordsRun(t *testing.T) {
	preds, targets := fixture(t)

	store, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewCollector(reg)
	require.NoError(t, err)

	c, err := NewCoordinator(harness(t, model.Xception), logger.NewNop(),
		WithBatchSize(2),
		WithRecorder(store),
		WithObserver(func(run string) model.Observer { return collector.ForRun(run) }),
	)
	require.NoError(t, err)

	report, err := c.EvaluateDirs(context.Background(), preds, targets)
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	records, err := store.Metrics(report.RunID)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, 0, rec.Epoch)
		assert.InDelta(t, report.Means[rec.Name], rec.Value, 1e-12)
	}

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "XceptionUNet", runs[0].Hyperparameters["model"])

	assert.InDelta(t, report.Means[model.MetricDice],
		testutil.ToFloat64(collector.MetricValue.WithLabelValues(report.RunID, model.MetricDice)), 1e-12)
}

func TestEvaluateMetricFailure(t *testing.T) {
	preds, targets := t.TempDir(), t.TempDir()
	saver := imageio.NewSaver(nil)
	empty, err := tensor.New(5, 5)
	require.NoError(t, err)
	require.NoError(t, saver.SaveFile(filepath.Join(preds, "a.png"), empty, 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(targets, "a.png"), block(t, 5, 5, 1, 3, 1, 3), 0.5))

	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewCollector(reg)
	require.NoError(t, err)

	c, err := NewCoordinator(harness(t, model.MobileNetV2), logger.NewNop(),
		WithObserver(func(run string) model.Observer { return collector.ForRun(run) }))
	require.NoError(t, err)

	_, err = c.EvaluateDirs(context.Background(), preds, targets)
	require.Error(t, err)
	assert.True(t, errors.Is(err, segmentation.ErrEmptyMask))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.MetricErrors.WithLabelValues(model.MetricBalancedAverageHausdorff)))
}

func TestEvaluateMismatchedSizesInBatch(t *testing.T) {
	preds, targets := t.TempDir(), t.TempDir()
	saver := imageio.NewSaver(nil)
	require.NoError(t, saver.SaveFile(filepath.Join(preds, "a.png"), block(t, 5, 5, 1, 3, 1, 3), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(targets, "a.png"), block(t, 5, 5, 1, 3, 1, 3), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(preds, "b.png"), block(t, 6, 6, 1, 3, 1, 3), 0.5))
	require.NoError(t, saver.SaveFile(filepath.Join(targets, "b.png"), block(t, 6, 6, 1, 3, 1, 3), 0.5))

	c, err := NewCoordinator(harness(t, model.VGG19), nil, WithBatchSize(2))
	require.NoError(t, err)
	_, err = c.EvaluateDirs(context.Background(), preds, targets)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	c, err = NewCoordinator(harness(t, model.VGG19), nil, WithBatchSize(1))
	require.NoError(t, err)
	report, err := c.EvaluateDirs(context.Background(), preds, targets)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Means[model.MetricDice])
}

func TestEvaluateCancelled(t *testing.T) {
	preds, targets := fixture(t)

	c, err := NewCoordinator(harness(t, model.DenseNet201), logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.EvaluateDirs(ctx, preds, targets)
	assert.True(t, errors.Is(err, context.Canceled))

	c.Cancel()
	_, err = c.EvaluateDirs(context.Background(), preds, targets)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewCoordinatorRejectsBatchSize(t *testing.T) {
	_, err := NewCoordinator(harness(t, model.DenseNet201), nil, WithBatchSize(0))
	var cfg *model.ConfigError
	assert.True(t, errors.As(err, &cfg))

	c, err := NewCoordinator(harness(t, model.DenseNet201), nil)
	require.NoError(t, err)
	_, err = c.Evaluate(context.Background(), nil)
	assert.Error(t, err)
}
