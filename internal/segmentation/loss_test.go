package segmentation

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrseg/internal/tensor"
)

func TestLossNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for _, fromLogits := range []bool{false, true} {
		loss, err := NewDiceBCELoss(WithLogits(fromLogits))
		require.NoError(t, err)

		for i := 0; i < 25; i++ {
			raw := randomMask(rng, 2, 1, 6, 6)
			if fromLogits {
				raw = raw.Map(func(v float64) float64 { return 8*v - 4 })
			}
			target := randomMask(rng, 2, 1, 6, 6).Threshold(0.5)

			res, err := loss.Forward(raw, target)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Value, 0.0)
			assert.GreaterOrEqual(t, res.Dice, 0.0)
			assert.LessOrEqual(t, res.Dice, 1.0)
			assert.InDelta(t, res.BCE+res.Dice, res.Value, 1e-12)
			assert.Equal(t, raw.Shape(), res.Grad.Shape())
		}
	}
}

func TestLossGradientMatchesFiniteDifference(t *testing.T) {
	type test struct {
		fromLogits bool
		raw        []float64
	}

	tests := map[string]test{
		"probabilities": {raw: []float64{0.2, 0.7, 0.45, 0.9}},
		"logits":        {fromLogits: true, raw: []float64{-1.5, 0.3, 2.2, -0.4}},
	}
	target, err := tensor.FromSlice([]float64{0, 1, 1, 0}, 1, 2, 2)
	require.NoError(t, err)

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			loss, err := NewDiceBCELoss(WithLogits(tt.fromLogits), WithLossWeights(0.7, 1.3))
			require.NoError(t, err)

			raw, err := tensor.FromSlice(tt.raw, 1, 2, 2)
			require.NoError(t, err)
			res, err := loss.Forward(raw, target)
			require.NoError(t, err)

			const h = 1e-6
			for i := range tt.raw {
				plus := append([]float64(nil), tt.raw...)
				minus := append([]float64(nil), tt.raw...)
				plus[i] += h
				minus[i] -= h

				rp, _ := tensor.FromSlice(plus, 1, 2, 2)
				rm, _ := tensor.FromSlice(minus, 1, 2, 2)
				lp, err := loss.Forward(rp, target)
				require.NoError(t, err)
				lm, err := loss.Forward(rm, target)
				require.NoError(t, err)

				numeric := (lp.Value - lm.Value) / (2 * h)
				assert.InDelta(t, numeric, res.Grad.Data()[i], 1e-5, "element %d", i)
			}
		})
	}
}

func TestLossGradientFiniteNearZero(t *testing.T) {
	loss, err := NewDiceBCELoss()
	require.NoError(t, err)

	for _, p := range []float64{1e-12, 1e-6, 0.5, 1 - 1e-6} {
		raw, _ := tensor.Full(p, 1, 3, 3)
		target, _ := tensor.New(1, 3, 3)

		res, err := loss.Forward(raw, target)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(res.Value) || math.IsInf(res.Value, 0))
		for _, g := range res.Grad.Data() {
			assert.False(t, math.IsNaN(g) || math.IsInf(g, 0), "p=%v", p)
		}
	}
}

func TestLossPerfectPrediction(t *testing.T) {
	loss, err := NewDiceBCELoss(WithLogits(true))
	require.NoError(t, err)

	raw, _ := tensor.FromSlice([]float64{20, -20, -20, 20}, 1, 2, 2)
	target, _ := tensor.FromSlice([]float64{1, 0, 0, 1}, 1, 2, 2)

	res, err := loss.Forward(raw, target)
	require.NoError(t, err)
	assert.Less(t, res.Value, 1e-6)
}

func TestLossWeights(t *testing.T) {
	raw, _ := tensor.FromSlice([]float64{0.3, 0.6, 0.1, 0.8}, 1, 2, 2)
	target, _ := tensor.FromSlice([]float64{0, 1, 0, 1}, 1, 2, 2)

	diceOnly, err := NewDiceBCELoss(WithLossWeights(0, 1))
	require.NoError(t, err)
	res, err := diceOnly.Forward(raw, target)
	require.NoError(t, err)
	assert.InDelta(t, res.Dice, res.Value, 1e-12)

	bceOnly, err := NewDiceBCELoss(WithLossWeights(1, 0))
	require.NoError(t, err)
	res, err = bceOnly.Forward(raw, target)
	require.NoError(t, err)
	assert.InDelta(t, res.BCE, res.Value, 1e-12)
}

func TestLossErrors(t *testing.T) {
	var cfg *ConfigError

	_, err := NewDiceBCELoss(WithSmooth(0))
	assert.True(t, errors.As(err, &cfg))

	_, err = NewDiceBCELoss(WithLossWeights(-1, 1))
	assert.True(t, errors.As(err, &cfg))

	_, err = NewDiceBCELoss(WithLossWeights(0, 0))
	assert.True(t, errors.As(err, &cfg))

	_, err = NewDiceBCELoss(WithLossWeights(math.NaN(), 1))
	assert.True(t, errors.As(err, &cfg))

	loss, err := NewDiceBCELoss()
	require.NoError(t, err)

	raw, _ := tensor.Full(0.5, 1, 2, 2)
	bad, _ := tensor.Full(2, 1, 2, 2)
	_, err = loss.Forward(raw, bad)
	assert.True(t, errors.Is(err, ErrInvalidTarget))

	other, _ := tensor.New(1, 3, 2)
	_, err = loss.Forward(raw, other)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestOptionsFromParams(t *testing.T) {
	opts, err := OptionsFromParams(map[string]interface{}{
		"threshold":    0.3,
		"average":      "weighted",
		"connectivity": 2,
		"spacing":      []interface{}{0.5, 1},
		"empty_policy": "max_distance",
	})
	require.NoError(t, err)

	o, err := resolve(opts)
	require.NoError(t, err)
	assert.Equal(t, 0.3, o.Threshold)
	assert.Equal(t, AverageWeighted, o.Average)
	assert.Equal(t, 2, o.Connectivity)
	assert.Equal(t, []float64{0.5, 1}, o.Spacing)
	assert.Equal(t, EmptyMaxDistance, o.EmptyPolicy)

	var cfg *ConfigError
	_, err = OptionsFromParams(map[string]interface{}{"average": "micro"})
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "micro", cfg.Value)

	_, err = OptionsFromParams(map[string]interface{}{"radius": 3})
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "radius", cfg.Option)

	_, err = OptionsFromParams(map[string]interface{}{"threshold": 2.0})
	assert.True(t, errors.As(err, &cfg))
}
