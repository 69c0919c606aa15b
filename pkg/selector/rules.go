package selector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DomainRule boosts a candidate whose model is known to handle a family of
// questions well. A rule applies when any pattern matches the question.
type DomainRule struct {
	Name string `yaml:"name"`
	// Patterns are case-insensitive regular expressions over the question text.
	Patterns []string `yaml:"patterns"`
	// PreferredModels are matched as case-insensitive substrings of the model name.
	PreferredModels []string `yaml:"preferred_models"`
	// Boost is applied against headroom: score + Boost*(1-score).
	Boost float64 `yaml:"boost"`
	// LocalBoost is the partial boost the local candidate gets when its
	// model is not among PreferredModels.
	LocalBoost float64 `yaml:"local_boost"`

	compiled []*regexp.Regexp
}

type ruleFile struct {
	Rules []DomainRule `yaml:"rules"`
}

// DefaultDomainRules returns the built-in rule set.
func DefaultDomainRules() []DomainRule {
	rules := []DomainRule{
		{
			Name: "ctl_tna",
			Patterns: []string{
				`\bCTL-\d{2}-\d{5,6}\b`,
				`\b(tna|time\s+and\s+action|milestones?|task\s+status)\b`,
			},
			PreferredModels: []string{"claude", "gpt-4"},
			Boost:           0.10,
			LocalBoost:      0.05,
		},
		{
			Name: "hr",
			Patterns: []string{
				`\b(employees?|salary|salaries|attendance|designation|staff|joining\s+date)\b`,
			},
			PreferredModels: []string{"claude", "gpt"},
			Boost:           0.08,
			LocalBoost:      0.04,
		},
		{
			Name: "production",
			Patterns: []string{
				`\b(production|defects?|dhu|efficiency|floor[-\s]wise|output)\b`,
			},
			PreferredModels: []string{"sqlcoder", "erp"},
			Boost:           0.08,
		},
	}
	for i := range rules {
		// Built-in patterns are known to compile.
		_ = rules[i].compile()
	}
	return rules
}

// LoadDomainRules reads a YAML rule file. An empty path returns the built-in
// rules.
func LoadDomainRules(path string) ([]DomainRule, error) {
	if path == "" {
		return DefaultDomainRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading domain rules: %w", err)
	}
	rules, err := ParseDomainRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseDomainRules decodes and validates a YAML rule document of the form
//
//	rules:
//	  - name: hr
//	    patterns: ['\bsalary\b']
//	    preferred_models: [claude]
//	    boost: 0.08
//	    local_boost: 0.04
func ParseDomainRules(data []byte) ([]DomainRule, error) {
	var file ruleFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing domain rules: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for i := range file.Rules {
		r := &file.Rules[i]
		if r.Name == "" {
			return nil, fmt.Errorf("domain rule %d has no name", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate domain rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Boost < 0 || r.Boost > 1 || r.LocalBoost < 0 || r.LocalBoost > 1 {
			return nil, fmt.Errorf("domain rule %q: boosts must lie in [0, 1]", r.Name)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("domain rule %q has no patterns", r.Name)
		}
		if err := r.compile(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

func (r *DomainRule) compile() error {
	r.compiled = r.compiled[:0]
	for _, p := range r.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("domain rule %q: invalid pattern %q: %w", r.Name, p, err)
		}
		r.compiled = append(r.compiled, re)
	}
	return nil
}

// Matches reports whether the question falls in this rule's domain.
func (r *DomainRule) Matches(question string) bool {
	for _, re := range r.compiled {
		if re.MatchString(question) {
			return true
		}
	}
	return false
}

// Prefers reports whether model is one of the rule's preferred models.
func (r *DomainRule) Prefers(model string) bool {
	if model == "" {
		return false
	}
	m := strings.ToLower(model)
	for _, p := range r.PreferredModels {
		if p != "" && strings.Contains(m, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
