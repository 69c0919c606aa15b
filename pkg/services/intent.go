package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/entities"
)

// Intent is the family a question belongs to. The set is closed: only the
// types declared here implement it, and every switch over intents panics on
// an unknown type so a new family cannot be half-wired.
type Intent interface {
	Name() string
	intent()
}

type (
	// SimpleLookupIntent asks for a single field of a single record.
	SimpleLookupIntent struct{}
	// ComplexAnalyticsIntent asks for comparisons, trends or rankings.
	ComplexAnalyticsIntent struct{}
	// ProductionIntent asks about output, defects or efficiency.
	ProductionIntent struct{}
	// HRIntent asks about employees, pay or attendance.
	HRIntent struct{}
	// TNAIntent asks about time-and-action tasks and CTL jobs.
	TNAIntent struct{}
	// GeneralIntent is the fallback when no family matches well enough.
	GeneralIntent struct{}
)

func (SimpleLookupIntent) Name() string     { return "simple_lookup" }
func (ComplexAnalyticsIntent) Name() string { return "complex_analytics" }
func (ProductionIntent) Name() string       { return "production_query" }
func (HRIntent) Name() string               { return "hr_query" }
func (TNAIntent) Name() string              { return "tna_query" }
func (GeneralIntent) Name() string          { return "general" }

func (SimpleLookupIntent) intent()     {}
func (ComplexAnalyticsIntent) intent() {}
func (ProductionIntent) intent()       {}
func (HRIntent) intent()               {}
func (TNAIntent) intent()              {}
func (GeneralIntent) intent()          {}

// Strategy is how many generators a question is sent to.
type Strategy string

const (
	StrategyLocalOnly Strategy = "local_only"
	StrategyAPIOnly   Strategy = "api_only"
	StrategyParallel  Strategy = "hybrid_parallel"
)

// Entity groups in Classification.Entities.
const (
	EntityCodes    = "codes"
	EntityLiterals = "literals"
	EntityDates    = "dates"
)

// Classification is the classifier's view of one question.
type Classification struct {
	Intent     Intent
	Confidence float64
	// Strategy is the intent's preferred routing before confidence is considered.
	Strategy        Strategy
	Entities        map[string][]string
	ComplexityScore float64
	// MultiField is set when the question names two or more record fields.
	MultiField bool
}

// IntentName returns the intent's name, or "" for a nil classification.
func (c *Classification) IntentName() string {
	if c == nil || c.Intent == nil {
		return ""
	}
	return c.Intent.Name()
}

// GeneralThreshold is the lowest pattern density that names a family.
const GeneralThreshold = 0.3

type intentPatterns struct {
	intent   Intent
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// intentFamilies is ordered most specific first; ties go to the earlier family.
var intentFamilies = []intentPatterns{
	{TNAIntent{}, compileAll(
		`\bCTL-\d{2}-\d{5,6}\b`,
		`\b(tna|time\s+and\s+action|milestones?)\b`,
		`\b(tasks?|pending|overdue|delayed|due)\b`,
	)},
	{ProductionIntent{}, compileAll(
		`\b(production|output|produced|pcs|pieces)\b`,
		`\b(defects?|dhu|rejects?|rework|quality)\b`,
		`\b(efficiency|target|achievement)\b`,
		`\b(floors?|lines?|sewing|cutting|finishing|knitting)\b`,
	)},
	{HRIntent{}, compileAll(
		`\b(employees?|staff|workers?|operators?)\b`,
		`\b(salary|salaries|wages?|attendance|leave|overtime)\b`,
		`\b(designation|department|joining|joined|resign\w*)\b`,
	)},
	{ComplexAnalyticsIntent{}, compileAll(
		`\b(trends?|compare|comparison|vs|versus|growth|variance)\b`,
		`\b(by|per)\s+(floor|line|month|week|day|buyer|department|style)\b|\b\w+-wise\b`,
		`\b(total|sum|average|avg|ratio|percentage)\b`,
		`\b(top|bottom|highest|lowest|rank\w*)\b`,
	)},
	{SimpleLookupIntent{}, compileAll(
		`^\s*(what|who|show|get|find|give)\b`,
		`\b(name|designation|code|phone|email|address|details?)\b`,
		`\b(of|for)\s+(employee|emp|item|order|style|buyer|supplier)\s*(id|no|#)?\s*[\w-]*\d`,
	)},
}

var (
	classifierWordPattern = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_-]*`)
	aggregateWordPattern  = regexp.MustCompile(`(?i)\b(total|sum|count|average|avg|max|min|maximum|minimum|highest|lowest|top|trend|compare|per|wise)\b`)

	// recordFields are the words that name a column a person asks to see.
	recordFields = map[string]bool{
		"name": true, "designation": true, "salary": true, "department": true, "joining": true,
		"phone": true, "mobile": true, "email": true, "address": true, "code": true,
		"grade": true, "status": true, "supervisor": true, "buyer": true,
	}
)

// QueryClassifier assigns an intent family, entities and a complexity score
// to a question.
type QueryClassifier struct {
	entities *entities.Extractor
}

// NewQueryClassifier creates a classifier. A nil extractor selects the
// default organisation synonyms.
func NewQueryClassifier(extractor *entities.Extractor) *QueryClassifier {
	if extractor == nil {
		extractor = entities.NewExtractor(nil)
	}
	return &QueryClassifier{entities: extractor}
}

// Classify scores every family by the share of its patterns the question
// matches. The best family wins when its density reaches GeneralThreshold;
// otherwise the question is general.
func (q *QueryClassifier) Classify(question string) *Classification {
	var best Intent = GeneralIntent{}
	bestScore := 0.0
	for _, fam := range intentFamilies {
		hits := 0
		for _, p := range fam.patterns {
			if p.MatchString(question) {
				hits++
			}
		}
		score := float64(hits) / float64(len(fam.patterns))
		if score > bestScore {
			best, bestScore = fam.intent, score
		}
	}
	if bestScore < GeneralThreshold {
		best = GeneralIntent{}
	}

	ents := q.extractEntities(question)
	return &Classification{
		Intent:          best,
		Confidence:      bestScore,
		Strategy:        preferredStrategy(best),
		Entities:        ents,
		ComplexityScore: complexity(question, ents),
		MultiField:      isMultiField(question),
	}
}

func (q *QueryClassifier) extractEntities(question string) map[string][]string {
	ents := map[string][]string{}
	for _, c := range q.entities.ExtractStructuredCodes(question) {
		ents[EntityCodes] = append(ents[EntityCodes], c.Value)
	}
	if lits := q.entities.ExtractLiterals(question); len(lits) > 0 {
		ents[EntityLiterals] = lits
	}
	if ds := dates.FindDateMentions(question); len(ds) > 0 {
		ents[EntityDates] = ds
	}
	return ents
}

// complexity adds bounded contributions from length, codes and literals,
// date phrases and aggregate wording. The result lies in [0, 1].
func complexity(question string, ents map[string][]string) float64 {
	words := len(classifierWordPattern.FindAllString(question, -1))
	score := min(float64(words)/40, 0.3)
	score += min(0.1*float64(len(ents[EntityCodes])+len(ents[EntityLiterals])), 0.3)
	score += min(0.1*float64(len(ents[EntityDates])), 0.2)
	if aggregateWordPattern.MatchString(question) {
		score += 0.2
	}
	return min(score, 1)
}

func isMultiField(question string) bool {
	seen := map[string]bool{}
	for _, w := range classifierWordPattern.FindAllString(strings.ToLower(question), -1) {
		w = inflection.Singular(w)
		if recordFields[w] {
			seen[w] = true
		}
	}
	return len(seen) >= 2
}

// preferredStrategy maps an intent to its routing before local confidence
// is known. Simple lookups are the only family the local model may answer
// alone.
func preferredStrategy(i Intent) Strategy {
	switch i.(type) {
	case SimpleLookupIntent:
		return StrategyLocalOnly
	case ComplexAnalyticsIntent, ProductionIntent, HRIntent, TNAIntent, GeneralIntent:
		return StrategyParallel
	default:
		panic(fmt.Sprintf("unhandled intent %T", i))
	}
}

// localPrior is how far the local model is trusted on each family.
func localPrior(i Intent) float64 {
	switch i.(type) {
	case SimpleLookupIntent:
		return 0.95
	case ProductionIntent:
		return 0.8
	case HRIntent:
		return 0.75
	case TNAIntent:
		return 0.6
	case ComplexAnalyticsIntent:
		return 0.55
	case GeneralIntent:
		return 0.6
	default:
		panic(fmt.Sprintf("unhandled intent %T", i))
	}
}
