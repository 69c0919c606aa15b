// Package selector picks between the local and API candidate statements for
// one question. Each candidate gets a composite of its scoring metrics and
// the generating model's confidence, optionally boosted by domain rules.
package selector

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/scoring"
)

// TieMargin is the composite difference within which the API candidate wins.
const TieMargin = 0.05

// Source identifies which generator produced the selected statement.
type Source string

const (
	SourceLocal Source = "local"
	SourceAPI   Source = "api"
	SourceNone  Source = "none"
)

// Label returns the display name used in reasoning.
func (s Source) Label() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceAPI:
		return "API"
	}
	return string(s)
}

// Weights blends the composite score. They must sum to 1.
type Weights struct {
	TechnicalAccuracy   float64 `yaml:"technical_accuracy" json:"technical_accuracy"`
	BusinessLogic       float64 `yaml:"business_logic" json:"business_logic"`
	Performance         float64 `yaml:"performance" json:"performance"`
	ModelConfidence     float64 `yaml:"model_confidence" json:"model_confidence"`
	ManufacturingDomain float64 `yaml:"manufacturing_domain" json:"manufacturing_domain"`
}

// DefaultWeights returns the standard selector weights.
func DefaultWeights() Weights {
	return Weights{
		TechnicalAccuracy:   0.25,
		BusinessLogic:       0.25,
		Performance:         0.10,
		ModelConfidence:     0.20,
		ManufacturingDomain: 0.20,
	}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	sum := 0.0
	for _, v := range []float64{w.TechnicalAccuracy, w.BusinessLogic, w.Performance, w.ModelConfidence, w.ManufacturingDomain} {
		if v < 0 {
			return fmt.Errorf("selector weights must be non-negative")
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("selector weights sum to %.3f, want 1.0", sum)
	}
	return nil
}

// Candidate is one generator's answer.
type Candidate struct {
	SQL     string
	Metrics *scoring.ResponseMetrics
	// Confidence is the generator's own confidence in [0, 1].
	Confidence float64
	Model      string
}

func (c Candidate) available() bool {
	return strings.TrimSpace(c.SQL) != ""
}

// Breakdown is the composite score of one candidate and its inputs.
type Breakdown struct {
	TechnicalAccuracy float64  `json:"technical_accuracy"`
	BusinessLogic     float64  `json:"business_logic"`
	Performance       float64  `json:"performance"`
	ModelConfidence   float64  `json:"model_confidence"`
	Domain            float64  `json:"manufacturing_domain"`
	Base              float64  `json:"base"`
	Composite         float64  `json:"composite"`
	BoostRules        []string `json:"boost_rules,omitempty"`
}

// Selection is the outcome of comparing the two candidates.
type Selection struct {
	SQL       string     `json:"sql"`
	Source    Source     `json:"source"`
	Reasoning []string   `json:"reasoning"`
	Local     *Breakdown `json:"local,omitempty"`
	API       *Breakdown `json:"api,omitempty"`
	// Margin is API composite minus local composite when both were scored.
	Margin float64 `json:"margin"`
}

// Selector compares candidates. It holds no mutable state and is safe for
// concurrent use.
type Selector struct {
	weights Weights
	rules   []DomainRule
	logger  *zap.Logger
}

// New creates a selector. Rules are compiled here, so hand-built rules work
// as well as loaded ones.
func New(weights Weights, rules []DomainRule, logger *zap.Logger) (*Selector, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	compiled := make([]DomainRule, len(rules))
	for i, r := range rules {
		r.compiled = nil
		if err := r.compile(); err != nil {
			return nil, err
		}
		compiled[i] = r
	}
	return &Selector{
		weights: weights,
		rules:   compiled,
		logger:  logger.Named("response-selector"),
	}, nil
}

// SelectBestResponse picks the local or API statement for the question in
// qc. A missing side loses to the other; with both present the API
// candidate wins unless local leads by more than TieMargin.
func (s *Selector) SelectBestResponse(local, api Candidate, qc scoring.QueryContext) Selection {
	switch {
	case !local.available() && !api.available():
		return Selection{
			Source:    SourceNone,
			Reasoning: []string{"No response available from either model"},
		}
	case !api.available():
		b := s.composite(local, SourceLocal, qc.Question)
		return Selection{
			SQL:       local.SQL,
			Source:    SourceLocal,
			Local:     &b,
			Reasoning: []string{"Only local response available", describe(SourceLocal, b)},
		}
	case !local.available():
		b := s.composite(api, SourceAPI, qc.Question)
		return Selection{
			SQL:       api.SQL,
			Source:    SourceAPI,
			API:       &b,
			Reasoning: []string{"Only API response available", describe(SourceAPI, b)},
		}
	}

	lb := s.composite(local, SourceLocal, qc.Question)
	ab := s.composite(api, SourceAPI, qc.Question)
	margin := ab.Composite - lb.Composite

	sel := Selection{
		Local:     &lb,
		API:       &ab,
		Margin:    margin,
		Reasoning: []string{describe(SourceLocal, lb), describe(SourceAPI, ab)},
	}
	switch {
	case margin > TieMargin:
		sel.Source, sel.SQL = SourceAPI, api.SQL
		sel.Reasoning = append(sel.Reasoning,
			fmt.Sprintf("API response scored higher by %.3f", margin))
	case -margin > TieMargin:
		sel.Source, sel.SQL = SourceLocal, local.SQL
		sel.Reasoning = append(sel.Reasoning,
			fmt.Sprintf("Local response scored higher by %.3f", -margin))
	default:
		sel.Source, sel.SQL = SourceAPI, api.SQL
		sel.Reasoning = append(sel.Reasoning,
			fmt.Sprintf("Close call (local %.3f vs API %.3f, within %.2f): preferring API response by default",
				lb.Composite, ab.Composite, TieMargin))
	}

	s.logger.Debug("Selected response",
		zap.String("source", string(sel.Source)),
		zap.Float64("local", lb.Composite),
		zap.Float64("api", ab.Composite))
	return sel
}

func (s *Selector) composite(c Candidate, side Source, question string) Breakdown {
	var m scoring.ResponseMetrics
	if c.Metrics != nil {
		m = *c.Metrics
	}
	b := Breakdown{
		TechnicalAccuracy: (m.SQLValidity + m.SchemaCompliance + m.TechnicalCorrectness) / 3,
		BusinessLogic:     m.BusinessLogic,
		Performance:       m.Performance,
		ModelConfidence:   clamp(c.Confidence),
		Domain:            m.DomainFit,
	}
	w := s.weights
	b.Base = clamp(w.TechnicalAccuracy*b.TechnicalAccuracy +
		w.BusinessLogic*b.BusinessLogic +
		w.Performance*b.Performance +
		w.ModelConfidence*b.ModelConfidence +
		w.ManufacturingDomain*b.Domain)

	score := b.Base
	for i := range s.rules {
		r := &s.rules[i]
		if !r.Matches(question) {
			continue
		}
		boost := 0.0
		switch {
		case r.Prefers(c.Model):
			boost = r.Boost
		case side == SourceLocal:
			boost = r.LocalBoost
		}
		if boost <= 0 {
			continue
		}
		score += boost * (1 - score)
		b.BoostRules = append(b.BoostRules, r.Name)
	}
	b.Composite = clamp(score)
	return b
}

func describe(side Source, b Breakdown) string {
	text := fmt.Sprintf("%s composite %.3f (technical %.2f, business %.2f, performance %.2f, confidence %.2f, domain %.2f)",
		side.Label(), b.Composite, b.TechnicalAccuracy, b.BusinessLogic, b.Performance, b.ModelConfidence, b.Domain)
	if len(b.BoostRules) > 0 {
		text += "; boosted by " + strings.Join(b.BoostRules, ", ")
	}
	return text
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
