package model

// Preset returns the configuration each backbone was published with: Adam at
// 1e-3 annealed to zero over epochs, sigmoid activation, DiceBCE on logits and
// a four-metric suite whose Jaccard averaging differs per backbone.
func Preset(backbone Backbone, epochs int) Config {
	return Config{
		Backbone:   backbone,
		Task:       TaskSegmentation,
		Outputs:    1,
		Epochs:     epochs,
		Device:     DeviceCPU,
		Precision:  Float32,
		Activation: ActivationSigmoid,
		Optimizer:  DefaultOptimizer(),
		Loss:       DefaultLoss(),
		Metrics:    presetMetrics(backbone),
	}
}

func presetMetrics(backbone Backbone) []MetricSpec {
	jaccard := MetricSpec{Name: MetricJaccardIndex, Options: map[string]interface{}{"average": "weighted"}}
	asd := MetricSpec{Name: MetricAverageSurfaceDistance}

	switch backbone {
	case DenseNet201:
		asd.Options = map[string]interface{}{"threshold": 0.3}
	case Xception:
		jaccard.Options = map[string]interface{}{"average": "macro"}
	case MobileNetV2:
		jaccard.Options = nil
	}

	return []MetricSpec{
		{Name: MetricDice},
		jaccard,
		{Name: MetricBalancedAverageHausdorff},
		asd,
	}
}
