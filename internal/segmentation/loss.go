package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"xrseg/internal/tensor"
)

const probabilityEpsilon = 1e-7

// DiceBCELoss is BCEWeight·BCE + DiceWeight·(1 − soft Dice). BCE gives every
// pixel a gradient while the Dice term tracks the overlap that evaluation
// reports.
type DiceBCELoss struct {
	// FromLogits marks raw predictions as pre-sigmoid scores.
	FromLogits bool
	Smooth     float64
	BCEWeight  float64
	DiceWeight float64
}

type LossOption func(*DiceBCELoss)

func WithLogits(fromLogits bool) LossOption {
	return func(l *DiceBCELoss) { l.FromLogits = fromLogits }
}

func WithSmooth(eps float64) LossOption {
	return func(l *DiceBCELoss) { l.Smooth = eps }
}

func WithLossWeights(bce, dice float64) LossOption {
	return func(l *DiceBCELoss) {
		l.BCEWeight = bce
		l.DiceWeight = dice
	}
}

func NewDiceBCELoss(opts ...LossOption) (*DiceBCELoss, error) {
	l := &DiceBCELoss{Smooth: 1, BCEWeight: 1, DiceWeight: 1}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DiceBCELoss) Validate() error {
	if l.Smooth <= 0 || math.IsNaN(l.Smooth) {
		return &ConfigError{Option: "smooth", Value: l.Smooth, Reason: "must be positive"}
	}
	if l.BCEWeight < 0 || l.DiceWeight < 0 || math.IsNaN(l.BCEWeight) || math.IsNaN(l.DiceWeight) {
		return &ConfigError{Option: "loss weights", Value: []float64{l.BCEWeight, l.DiceWeight}, Reason: "must be non-negative"}
	}
	if l.BCEWeight+l.DiceWeight == 0 {
		return &ConfigError{Option: "loss weights", Value: []float64{l.BCEWeight, l.DiceWeight}, Reason: "at least one term must count"}
	}
	return nil
}

type LossResult struct {
	Value float64
	BCE   float64
	Dice  float64
	// Grad is ∂Value/∂raw with the shape of the raw predictions.
	Grad *tensor.Mask
}

// Forward evaluates the loss and its gradient. Targets must lie in [0,1] and
// broadcast onto the shape of raw.
func (l *DiceBCELoss) Forward(raw, targets *tensor.Mask) (LossResult, error) {
	if err := l.Validate(); err != nil {
		return LossResult{}, err
	}
	if raw == nil || targets == nil {
		return LossResult{}, fmt.Errorf("dice bce loss: nil mask")
	}
	t, err := targets.BroadcastTo(raw.Shape())
	if err != nil {
		return LossResult{}, fmt.Errorf("dice bce loss: %w", err)
	}
	for _, v := range t.Data() {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return LossResult{}, fmt.Errorf("dice bce loss: %w: %v", ErrInvalidTarget, v)
		}
	}

	x := raw.Data()
	y := t.Data()
	n := float64(len(x))

	p := make([]float64, len(x))
	var bce float64
	for i, v := range x {
		if l.FromLogits {
			p[i] = sigmoid(v)
			bce += math.Max(v, 0) - v*y[i] + math.Log1p(math.Exp(-math.Abs(v)))
		} else {
			p[i] = clamp(v)
			bce -= y[i]*math.Log(p[i]) + (1-y[i])*math.Log(1-p[i])
		}
	}
	bce /= n

	inter := floats.Dot(p, y)
	denom := floats.Sum(p) + floats.Sum(y) + l.Smooth
	num := 2*inter + l.Smooth
	dice := 1 - num/denom

	grad := raw.Map(func(float64) float64 { return 0 })
	g := grad.Data()
	for i := range g {
		dDice := -(2*y[i]*denom - num) / (denom * denom)
		var dBCE float64
		if l.FromLogits {
			dBCE = (p[i] - y[i]) / n
			dDice *= p[i] * (1 - p[i])
		} else {
			dBCE = (p[i] - y[i]) / (p[i] * (1 - p[i]) * n)
		}
		g[i] = l.BCEWeight*dBCE + l.DiceWeight*dDice
	}

	return LossResult{
		Value: l.BCEWeight*bce + l.DiceWeight*dice,
		BCE:   bce,
		Dice:  dice,
		Grad:  grad,
	}, nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func clamp(p float64) float64 {
	return math.Min(math.Max(p, probabilityEpsilon), 1-probabilityEpsilon)
}

// Sigmoid maps raw scores to probabilities.
func Sigmoid(m *tensor.Mask) *tensor.Mask {
	return m.Map(sigmoid)
}
