package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrseg/internal/logger"
	"xrseg/internal/segmentation"
	"xrseg/internal/tensor"
)

func TestParseBackbone(t *testing.T) {
	for _, b := range Backbones() {
		parsed, err := ParseBackbone(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)

		parsed, err = ParseBackbone(b.ModelName())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}

	_, err := ParseBackbone("alexnet")
	var cfg *ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "backbone", cfg.Field)

	var b Backbone
	require.NoError(t, b.UnmarshalText([]byte("Xception")))
	assert.Equal(t, Xception, b)
}

func TestParseTaskAndActivation(t *testing.T) {
	task, err := ParseTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskSegmentation, task)

	task, err = ParseTask("Classification")
	require.NoError(t, err)
	assert.Equal(t, TaskClassification, task)

	_, err = ParseTask("detection")
	assert.Error(t, err)

	act, err := ParseActivation("none")
	require.NoError(t, err)
	assert.Equal(t, ActivationIdentity, act)

	_, err = ParseActivation("relu")
	assert.Error(t, err)
}

func TestNewHead(t *testing.T) {
	var cfg *ConfigError

	_, err := NewHead(Task(9), 1)
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "task", cfg.Field)

	_, err = NewHead(TaskSegmentation, 0)
	assert.True(t, errors.As(err, &cfg))

	head, err := NewHead(TaskClassification, 3)
	require.NoError(t, err)
	assert.Equal(t, TaskClassification, head.Task())
	assert.Equal(t, 3, head.Outputs())
}

func TestSegmentationHeadResizes(t *testing.T) {
	head, err := NewHead(TaskSegmentation, 2)
	require.NoError(t, err)

	flat, err := tensor.FromSlice([]float64{0.25, 0.75}, 1, 2)
	require.NoError(t, err)

	out, err := head.Forward(flat, Grid{Height: 3, Width: 4})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 3, 4}, out.Shape())

	v, err := out.At(0, 0, 2, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-6)
	v, err = out.At(0, 1, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 1e-6)

	constant, err := tensor.Full(0.5, 2, 2, 2, 2)
	require.NoError(t, err)
	out, err = head.Forward(constant, Grid{Height: 5, Width: 5})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2, 5, 5}, out.Shape())
	for _, v := range out.Data() {
		assert.InDelta(t, 0.5, v, 1e-6)
	}

	wrong, err := tensor.New(1, 3, 2, 2)
	require.NoError(t, err)
	_, err = head.Forward(wrong, Grid{Height: 4, Width: 4})
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	volume, err := tensor.New(1, 2, 2, 2, 2)
	require.NoError(t, err)
	_, err = head.Forward(volume, Grid{Height: 4, Width: 4})
	assert.True(t, errors.Is(err, tensor.ErrDimensionality))
}

func TestClassificationHeadPassesThrough(t *testing.T) {
	head, err := NewHead(TaskClassification, 2)
	require.NoError(t, err)

	scores, err := tensor.FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	out, err := head.Forward(scores, Grid{})
	require.NoError(t, err)
	assert.Equal(t, scores.Data(), out.Data())

	bad, err := tensor.New(2, 3)
	require.NoError(t, err)
	_, err = head.Forward(bad, Grid{})
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
}

func TestCosineAnnealing(t *testing.T) {
	s := CosineAnnealing{BaseLR: 1e-3, MinLR: 1e-5, TMax: 10}

	assert.InDelta(t, 1e-3, s.LR(0), 1e-15)
	assert.InDelta(t, (1e-3+1e-5)/2, s.LR(5), 1e-15)
	assert.InDelta(t, 1e-5, s.LR(10), 1e-15)

	for e := 1; e <= 10; e++ {
		assert.Less(t, s.LR(e), s.LR(e-1))
	}

	assert.Error(t, CosineAnnealing{BaseLR: 1e-3, TMax: 0}.Validate())
	assert.Error(t, CosineAnnealing{BaseLR: 1e-3, MinLR: 1, TMax: 5}.Validate())
}

func TestOptimizerValidate(t *testing.T) {
	require.NoError(t, DefaultOptimizer().Validate())

	o := DefaultOptimizer()
	o.Name = "lbfgs"
	assert.Error(t, o.Validate())

	o = DefaultOptimizer()
	o.LearningRate = 0
	assert.Error(t, o.Validate())

	o = DefaultOptimizer()
	o.Beta2 = 1
	assert.Error(t, o.Validate())
}

func TestPresets(t *testing.T) {
	type test struct {
		backbone Backbone
		jaccard  map[string]interface{}
		asd      map[string]interface{}
	}

	tests := map[string]test{
		"densenet": {
			backbone: DenseNet201,
			jaccard:  map[string]interface{}{"average": "weighted"},
			asd:      map[string]interface{}{"threshold": 0.3},
		},
		"resnet": {
			backbone: ResNet152V2,
			jaccard:  map[string]interface{}{"average": "weighted"},
		},
		"xception": {
			backbone: Xception,
			jaccard:  map[string]interface{}{"average": "macro"},
		},
		"mobilenet": {
			backbone: MobileNetV2,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Preset(tt.backbone, 20)
			require.NoError(t, cfg.Validate())
			require.Len(t, cfg.Metrics, 4)

			assert.Equal(t, MetricDice, cfg.Metrics[0].Name)
			assert.Equal(t, MetricJaccardIndex, cfg.Metrics[1].Name)
			assert.Equal(t, tt.jaccard, cfg.Metrics[1].Options)
			assert.Equal(t, MetricBalancedAverageHausdorff, cfg.Metrics[2].Name)
			assert.Equal(t, MetricAverageSurfaceDistance, cfg.Metrics[3].Name)
			assert.Equal(t, tt.asd, cfg.Metrics[3].Options)

			assert.Equal(t, 1e-3, cfg.Optimizer.LearningRate)
			assert.Equal(t, 20, cfg.Schedule().TMax)
			assert.Equal(t, ActivationSigmoid, cfg.Activation)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	var cfg *ConfigError

	c := Preset(VGG19, 5)
	c.Device = "tpu"
	require.True(t, errors.As(c.Validate(), &cfg))
	assert.Equal(t, "device", cfg.Field)

	c = Preset(VGG19, 5)
	c.Device = "cuda:1"
	assert.NoError(t, c.Validate())

	c = Preset(VGG19, 0)
	require.True(t, errors.As(c.Validate(), &cfg))
	assert.Equal(t, "epochs", cfg.Field)

	c = Preset(VGG19, 5)
	c.Loss.Smooth = 0
	var segCfg *segmentation.ConfigError
	assert.True(t, errors.As(c.Validate(), &segCfg))
}

func TestNewSuite(t *testing.T) {
	suite, err := NewSuite([]MetricSpec{
		{Name: MetricDice},
		{Name: MetricAverageSurfaceDistance, Key: "asd@0.3", Options: map[string]interface{}{"threshold": 0.3}},
		{Name: MetricAverageSurfaceDistance},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dice", "asd@0.3", "average_surface_distance"}, suite.Keys())

	var cfg *ConfigError
	_, err = NewSuite(nil)
	assert.True(t, errors.As(err, &cfg))

	_, err = NewSuite([]MetricSpec{{Name: "f1"}})
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "f1", cfg.Value)

	_, err = NewSuite([]MetricSpec{{Name: MetricDice}, {Name: MetricDice}})
	assert.True(t, errors.As(err, &cfg))

	_, err = NewSuite([]MetricSpec{{Name: MetricJaccardIndex, Options: map[string]interface{}{"average": "micro"}}})
	var segCfg *segmentation.ConfigError
	assert.True(t, errors.As(err, &segCfg))

	assert.Contains(t, MetricNames(), MetricHausdorff)
}

func TestNewSuiteRejectsOptionsOfOtherFamily(t *testing.T) {
	type test struct {
		spec  MetricSpec
		field string
	}

	tests := map[string]test{
		"connectivity-on-dice": {
			spec:  MetricSpec{Name: MetricDice, Options: map[string]interface{}{"connectivity": 2}},
			field: "options.connectivity",
		},
		"spacing-on-jaccard": {
			spec:  MetricSpec{Name: MetricJaccardIndex, Options: map[string]interface{}{"spacing": []interface{}{1.0, 2.0}}},
			field: "options.spacing",
		},
		"average-on-hausdorff": {
			spec:  MetricSpec{Name: MetricHausdorff, Options: map[string]interface{}{"average": "macro"}},
			field: "options.average",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewSuite([]MetricSpec{tt.spec})
			var cfg *ConfigError
			require.True(t, errors.As(err, &cfg))
			assert.Equal(t, tt.field, cfg.Field)
		})
	}

	family, ok := FamilyOf(MetricBalancedAverageHausdorff)
	require.True(t, ok)
	assert.Equal(t, FamilyDistance, family)
	_, ok = FamilyOf("f1")
	assert.False(t, ok)
}

func TestSuiteEvaluate(t *testing.T) {
	suite, err := NewSuite([]MetricSpec{{Name: MetricDice}, {Name: MetricHausdorff, Key: "hd"}})
	require.NoError(t, err)

	target := square(t, 1)
	results, err := suite.Evaluate(target, target)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"dice": 1, "hd": 0}, results)

	empty, err := tensor.New(1, 1, 6, 6)
	require.NoError(t, err)
	results, err = suite.Evaluate(empty, target)
	assert.Nil(t, results)
	var me *MetricError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "hd", me.Key)
	assert.True(t, errors.Is(err, segmentation.ErrEmptyMask))
}

type recordingObserver struct {
	losses  []float64
	results []map[string]float64
	errors  []string
}

func (r *recordingObserver) ObserveLoss(v float64)               { r.losses = append(r.losses, v) }
func (r *recordingObserver) ObserveMetrics(m map[string]float64) { r.results = append(r.results, m) }
func (r *recordingObserver) ObserveMetricError(key string)       { r.errors = append(r.errors, key) }

func square(t *testing.T, value float64) *tensor.Mask {
	t.Helper()
	m, err := tensor.New(1, 1, 6, 6)
	require.NoError(t, err)
	for r := 1; r < 4; r++ {
		for c := 1; c < 4; c++ {
			require.NoError(t, m.Set(value, 0, 0, r, c))
		}
	}
	return m
}

func TestHarnessSteps(t *testing.T) {
	obs := &recordingObserver{}
	h, err := NewHarness(Preset(ResNet152V2, 4), logger.NewNop(), obs)
	require.NoError(t, err)

	target := square(t, 1)
	logits := square(t, 12).Map(func(v float64) float64 { return v - 6 })

	res, err := h.TrainStep(logits, target)
	require.NoError(t, err)
	assert.Less(t, res.Value, 0.05)
	assert.Equal(t, []float64{res.Value}, obs.losses)

	results, err := h.EvalStep(logits, target)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[MetricDice], 1e-12)
	assert.InDelta(t, 1.0, results[MetricJaccardIndex], 1e-12)
	assert.Equal(t, 0.0, results[MetricAverageSurfaceDistance])
	assert.Equal(t, 0.0, results[MetricBalancedAverageHausdorff])
	require.Len(t, obs.results, 1)

	assert.InDelta(t, 1e-3, h.LearningRate(), 1e-15)
	lr := h.EndEpoch()
	assert.InDelta(t, 1e-3*(1+math.Cos(math.Pi/4))/2, lr, 1e-15)
	assert.Equal(t, 1, h.Epoch())

	for h.Epoch() < 4 {
		lr = h.EndEpoch()
	}
	assert.InDelta(t, 0, lr, 1e-15)
}

func TestHarnessEvalFailure(t *testing.T) {
	obs := &recordingObserver{}
	h, err := NewHarness(Preset(Xception, 2), nil, obs)
	require.NoError(t, err)

	empty, err := tensor.Full(-10, 1, 1, 6, 6)
	require.NoError(t, err)

	_, err = h.EvalStep(empty, square(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, segmentation.ErrEmptyMask))
	var me *MetricError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, MetricBalancedAverageHausdorff, me.Key)
	assert.Equal(t, []string{MetricBalancedAverageHausdorff}, obs.errors)
	assert.Empty(t, obs.results)
}

func TestHarnessRejectsInvalidConfig(t *testing.T) {
	cfg := Preset(InceptionV3, 3)
	cfg.Metrics = []MetricSpec{{Name: "unknown"}}

	_, err := NewHarness(cfg, logger.NewNop())
	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestHyperparameters(t *testing.T) {
	h, err := NewHarness(Preset(DenseNet201, 30), logger.NewNop())
	require.NoError(t, err)

	hp := h.Hyperparameters()
	assert.Equal(t, "DenseNet201UNet", hp["model"])
	assert.Equal(t, 30, hp["n_epochs"])
	assert.Equal(t, "adam", hp["optimizer"])
	assert.Equal(t, 1e-3, hp["lr"])
	assert.Equal(t, "cpu", hp["device"])
	assert.Len(t, hp["metrics"], 4)
}
