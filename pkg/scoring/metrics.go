// Package scoring rates candidate SQL statements on weighted heuristic
// dimensions so two generators' answers can be compared. The heuristics are
// calibrated rather than derived; Scorer lets them be swapped out.
package scoring

import (
	"fmt"
	"math"
)

// ResponseMetrics holds the scores for one candidate statement. Every score
// lies in [0, 1]. Metrics are not modified after Score returns them.
type ResponseMetrics struct {
	SQLValidity          float64 `json:"sql_validity"`
	SchemaCompliance     float64 `json:"schema_compliance"`
	BusinessLogic        float64 `json:"business_logic"`
	Performance          float64 `json:"performance"`
	TechnicalCorrectness float64 `json:"technical_correctness"`
	DomainFit            float64 `json:"domain_fit"`
	Safety               float64 `json:"safety"`
	Relevance            float64 `json:"relevance"`

	// ExecutionTime and UserSatisfaction are predictions from static
	// features, not measurements. Higher means faster and happier.
	ExecutionTime    float64 `json:"execution_time_prediction"`
	UserSatisfaction float64 `json:"user_satisfaction_prediction"`

	OverallScore float64  `json:"overall_score"`
	Reasoning    []string `json:"reasoning"`
}

// Weights blends the eight assessed dimensions into OverallScore.
type Weights struct {
	Validity         float64 `yaml:"validity"`
	SchemaCompliance float64 `yaml:"schema_compliance"`
	BusinessLogic    float64 `yaml:"business_logic"`
	Performance      float64 `yaml:"performance"`
	Technical        float64 `yaml:"technical"`
	Domain           float64 `yaml:"domain"`
	Safety           float64 `yaml:"safety"`
	Relevance        float64 `yaml:"relevance"`
}

// DefaultWeights returns the standard dimension weights.
func DefaultWeights() Weights {
	return Weights{
		Validity:         0.20,
		SchemaCompliance: 0.15,
		BusinessLogic:    0.20,
		Performance:      0.15,
		Technical:        0.10,
		Domain:           0.10,
		Safety:           0.05,
		Relevance:        0.05,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Validity + w.SchemaCompliance + w.BusinessLogic + w.Performance +
		w.Technical + w.Domain + w.Safety + w.Relevance
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Validity, w.SchemaCompliance, w.BusinessLogic, w.Performance, w.Technical, w.Domain, w.Safety, w.Relevance} {
		if v < 0 {
			return fmt.Errorf("scoring weights must be non-negative")
		}
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights sum to %.3f, want 1.0", w.Sum())
	}
	return nil
}

// QueryContext is what the scorer knows about the question being answered.
type QueryContext struct {
	// Question is the user's text.
	Question string
	// Intent is the classifier's intent name, e.g. "production_analytics".
	Intent string
	// MultiField is set when the question asks for several named fields.
	MultiField bool
	// Schema maps upper-case table names to their upper-case column names.
	// Empty means the schema is unknown and schema checks are skipped.
	Schema map[string][]string
}

// Scorer rates a candidate statement.
type Scorer interface {
	Score(sqlText string, qc QueryContext) ResponseMetrics
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

// reasons collects the reasoning trace for one scoring pass.
type reasons []string

func (r *reasons) add(format string, args ...any) {
	*r = append(*r, fmt.Sprintf(format, args...))
}
