// Package model evaluates the calibrated gradient-boosted classifier that maps
// a feature vector to P(favorable move) for a trading mode.
//
// Models are trained and calibrated offline; this package only loads the
// exported artifact and scores it. It never mutates the artifact at runtime.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"futures-decision-engine/internal/market"
)

// Signal is the classifier output for one feature vector.
type Signal struct {
	Probability float64 `json:"probability"` // calibrated P(favorable move), 0..1
	Mode        string  `json:"mode"`
}

// Node is one node of a boosted tree. Leaf nodes carry a margin contribution;
// split nodes route on feature <= threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// Tree is one boosted tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Calibration holds sigmoid (Platt) calibration parameters fitted offline:
// p = sigmoid(A*margin + B).
type Calibration struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Artifact is the exported model file for one mode.
type Artifact struct {
	Mode        string      `json:"mode"`
	Features    []string    `json:"features"` // feature order the trees were trained on
	BaseScore   float64     `json:"base_score"`
	Trees       []Tree      `json:"trees"`
	Calibration Calibration `json:"calibration"`
}

// Model scores feature vectors against one loaded artifact.
type Model struct {
	art Artifact
}

// Canonical feature order used when an artifact does not name its features.
var defaultFeatureOrder = []string{"trend_score", "volatility_frac", "momentum_score", "spread_bps", "atr_frac"}

// New wraps an artifact. Used directly by tests; production code uses Load.
func New(art Artifact) (*Model, error) {
	if len(art.Features) == 0 {
		art.Features = defaultFeatureOrder
	}
	for ti, tree := range art.Trees {
		for ni, n := range tree.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(art.Features) {
				return nil, fmt.Errorf("tree %d node %d references feature %d, have %d features", ti, ni, n.Feature, len(art.Features))
			}
			if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("tree %d node %d has out-of-range children", ti, ni)
			}
		}
	}
	return &Model{art: art}, nil
}

// Load reads a model artifact from a JSON file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}
	return New(art)
}

// Mode returns the mode this model was trained for.
func (m *Model) Mode() string { return m.art.Mode }

// Predict scores one feature vector. Stateless; safe for concurrent use.
func (m *Model) Predict(fv market.FeatureVector) Signal {
	x := m.vectorize(fv)

	margin := m.art.BaseScore
	for _, tree := range m.art.Trees {
		margin += evalTree(tree, x)
	}

	p := sigmoid(m.art.Calibration.A*margin + m.art.Calibration.B)
	return Signal{Probability: p, Mode: m.art.Mode}
}

func (m *Model) vectorize(fv market.FeatureVector) []float64 {
	x := make([]float64, len(m.art.Features))
	for i, name := range m.art.Features {
		switch name {
		case "trend_score":
			x[i] = fv.TrendScore
		case "volatility_frac":
			x[i] = fv.VolatilityFrac
		case "momentum_score":
			x[i] = fv.MomentumScore
		case "spread_bps":
			x[i] = fv.SpreadBps
		case "atr_frac":
			x[i] = fv.ATRFrac
		}
	}
	return x
}

func evalTree(t Tree, x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
