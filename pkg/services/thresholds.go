package services

import (
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
)

// ProductionCriticalConfidence is the classifier confidence above which a
// production question always gets a second opinion.
const ProductionCriticalConfidence = 0.7

// RoutingDecision is the strategy chosen for one question and why.
type RoutingDecision struct {
	Strategy Strategy
	Reason   string
}

// SkipsAPI reports whether the API generator is left out.
func (d RoutingDecision) SkipsAPI() bool { return d.Strategy == StrategyLocalOnly }

// ConfidenceThresholdManager decides whether the local model may answer
// alone or both generators run.
type ConfidenceThresholdManager struct {
	skipAPIConfidence float64
	lowConfidence     float64
}

// NewConfidenceThresholdManager creates a manager from the hybrid settings.
func NewConfidenceThresholdManager(cfg config.HybridConfig) *ConfidenceThresholdManager {
	return &ConfidenceThresholdManager{
		skipAPIConfidence: cfg.SkipAPIConfidence,
		lowConfidence:     cfg.LowConfidence,
	}
}

// Decide applies the routing rules in order: a confident simple lookup runs
// locally, complex analytics and low local confidence force both paths, a
// confidently classified production question forces both paths, and
// anything else runs both paths by default.
func (m *ConfidenceThresholdManager) Decide(localConfidence float64, c *Classification) RoutingDecision {
	if c == nil || c.Intent == nil {
		return RoutingDecision{Strategy: StrategyParallel, Reason: "unclassified question"}
	}
	_, simple := c.Intent.(SimpleLookupIntent)
	_, complexAnalytics := c.Intent.(ComplexAnalyticsIntent)
	_, production := c.Intent.(ProductionIntent)

	switch {
	case simple && c.Strategy == StrategyLocalOnly && localConfidence >= m.skipAPIConfidence:
		return RoutingDecision{Strategy: StrategyLocalOnly, Reason: "simple lookup with high local confidence"}
	case complexAnalytics:
		return RoutingDecision{Strategy: StrategyParallel, Reason: "complex analytics"}
	case localConfidence < m.lowConfidence:
		return RoutingDecision{Strategy: StrategyParallel, Reason: "low local confidence"}
	case production && c.Confidence >= ProductionCriticalConfidence:
		return RoutingDecision{Strategy: StrategyParallel, Reason: "production-critical question"}
	default:
		return RoutingDecision{Strategy: StrategyParallel, Reason: "default hybrid"}
	}
}

// EstimateLocalConfidence predicts how well the local model will do: the
// family prior scaled by classification confidence and discounted for
// complexity. The result lies in [0, 1].
func EstimateLocalConfidence(c *Classification) float64 {
	if c == nil || c.Intent == nil {
		return 0
	}
	prior := localPrior(c.Intent)
	if _, general := c.Intent.(GeneralIntent); !general {
		prior *= 0.5 + 0.5*c.Confidence
	}
	v := prior * (1 - 0.4*c.ComplexityScore)
	return max(0, min(v, 1))
}

// APIConfidence is the prior confidence given to the API model's answers.
const APIConfidence = 0.85
